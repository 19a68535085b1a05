package fhe

import "errors"

var (
	// ErrUnauthorized is returned when a principal without a grant asks for
	// a plaintext, or the engine operator is not granted on an operand.
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnknownHandle   = errors.New("unknown ciphertext handle")
	ErrUninitialized   = errors.New("handle is uninitialized")
	ErrTypeMismatch    = errors.New("ciphertext type mismatch")
	ErrValueOutOfRange = errors.New("value out of range for type")
)

// Engine is the confidential-computation capability consumed by the ledger.
// Arithmetic never reveals plaintexts to the caller: every operation returns
// a freshly minted handle.
type Engine interface {
	// Encrypt mints a handle holding value as type t.
	Encrypt(value uint64, t Type) (Handle, error)
	// Add returns a handle for h + amount, wrapping modulo 2^bits.
	Add(h Handle, amount uint64) (Handle, error)
	// Sub returns a handle for h - amount, wrapping modulo 2^bits.
	Sub(h Handle, amount uint64) (Handle, error)
	// Ge returns an Ebool handle for h >= threshold.
	Ge(h Handle, threshold uint64) (Handle, error)
	// Decrypt returns the plaintext behind h for principal, failing with
	// ErrUnauthorized when principal holds no grant on h.
	Decrypt(h Handle, principal string) (uint64, error)
	// Allow grants principal decryption rights on h.
	Allow(h Handle, principal string) error
}

// ACL is the grant table an engine enforces.
type ACL interface {
	Grant(h Handle, principal string) error
	IsGranted(h Handle, principal string) bool
}

// Ciphertext is the stored form of a handle's encrypted value.
type Ciphertext struct {
	Type Type   `json:"type"`
	Data []byte `json:"data"`
}

// Store persists ciphertexts and the handle nonce. Implementations must roll
// both back together with the rest of the transaction's writes.
type Store interface {
	// GetCiphertext returns (nil, nil) for an unknown handle.
	GetCiphertext(h Handle) (*Ciphertext, error)
	PutCiphertext(h Handle, ct *Ciphertext) error
	// NextHandleNonce returns a fresh, monotonically increasing nonce.
	NextHandleNonce() (uint64, error)
}
