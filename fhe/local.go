package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tolelom/cipherforge/crypto"
)

const handleDomain = "cipherforge/fhe/handle/v1"

type opcode byte

const (
	opEncrypt opcode = iota + 1
	opAdd
	opSub
	opGe
)

// DeriveKey expands seed into the 32-byte AES-256 engine key for chainID.
func DeriveKey(seed []byte, chainID string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("fhe: empty key seed")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, seed, []byte(chainID), []byte("cipherforge/fhe/key"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("fhe: derive key: %w", err)
	}
	return key, nil
}

// LocalEngine evaluates encrypted arithmetic in-process. Ciphertexts are
// AES-256-GCM sealed under the engine key and kept in a Store, so they share
// the snapshot and commit lifecycle of the state they are written to.
//
// Handles are derived from the operation and a store-persisted nonce, never
// from plaintexts, so replaying the same transactions yields the same handles.
type LocalEngine struct {
	aead     cipher.AEAD
	store    Store
	acl      ACL
	operator string
}

// NewLocalEngine creates an engine sealing with key. operator is the
// principal whose grant is required on every arithmetic operand.
func NewLocalEngine(key []byte, store Store, acl ACL, operator string) (*LocalEngine, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fhe: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fhe: gcm: %w", err)
	}
	return &LocalEngine{aead: aead, store: store, acl: acl, operator: operator}, nil
}

// Operator returns the principal the engine computes on behalf of.
func (e *LocalEngine) Operator() string { return e.operator }

func (e *LocalEngine) Encrypt(value uint64, t Type) (Handle, error) {
	if !t.Valid() {
		return ZeroHandle, fmt.Errorf("encrypt: %w: %s", ErrTypeMismatch, t)
	}
	if value > t.Max() {
		return ZeroHandle, fmt.Errorf("encrypt %s: %w", t, ErrValueOutOfRange)
	}
	return e.mint(opEncrypt, ZeroHandle, t, value)
}

func (e *LocalEngine) Add(h Handle, amount uint64) (Handle, error) {
	v, err := e.operand(h)
	if err != nil {
		return ZeroHandle, fmt.Errorf("add: %w", err)
	}
	return e.mint(opAdd, h, h.Type(), wrap(v+amount, h.Type()))
}

func (e *LocalEngine) Sub(h Handle, amount uint64) (Handle, error) {
	v, err := e.operand(h)
	if err != nil {
		return ZeroHandle, fmt.Errorf("sub: %w", err)
	}
	return e.mint(opSub, h, h.Type(), wrap(v-amount, h.Type()))
}

// Ge returns an encrypted boolean for h >= threshold. The ledger does not
// branch on it: spending checks run against the plaintext gold mirror.
func (e *LocalEngine) Ge(h Handle, threshold uint64) (Handle, error) {
	v, err := e.operand(h)
	if err != nil {
		return ZeroHandle, fmt.Errorf("ge: %w", err)
	}
	var out uint64
	if v >= threshold {
		out = 1
	}
	return e.mint(opGe, h, Ebool, out)
}

func (e *LocalEngine) Decrypt(h Handle, principal string) (uint64, error) {
	if h.IsZero() {
		return 0, ErrUninitialized
	}
	if !e.acl.IsGranted(h, principal) {
		return 0, fmt.Errorf("decrypt %s: %w", h, ErrUnauthorized)
	}
	return e.open(h)
}

func (e *LocalEngine) Allow(h Handle, principal string) error {
	if h.IsZero() {
		return ErrUninitialized
	}
	ct, err := e.store.GetCiphertext(h)
	if err != nil {
		return err
	}
	if ct == nil {
		return ErrUnknownHandle
	}
	return e.acl.Grant(h, principal)
}

// operand opens h for arithmetic, which requires the operator grant.
func (e *LocalEngine) operand(h Handle) (uint64, error) {
	if h.IsZero() {
		return 0, ErrUninitialized
	}
	if h.Type() == Ebool {
		return 0, ErrTypeMismatch
	}
	if !e.acl.IsGranted(h, e.operator) {
		return 0, ErrUnauthorized
	}
	return e.open(h)
}

func (e *LocalEngine) mint(op opcode, in Handle, t Type, value uint64) (Handle, error) {
	nonce, err := e.store.NextHandleNonce()
	if err != nil {
		return ZeroHandle, fmt.Errorf("fhe: handle nonce: %w", err)
	}
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h := Handle(crypto.HashParts([]byte(handleDomain), []byte{byte(op)}, in[:], nb[:]))
	h[HandleSize-1] = byte(t)

	var pt [8]byte
	binary.BigEndian.PutUint64(pt[:], value)
	sealed := e.aead.Seal(nil, h[:e.aead.NonceSize()], pt[:], h[:])
	if err := e.store.PutCiphertext(h, &Ciphertext{Type: t, Data: sealed}); err != nil {
		return ZeroHandle, fmt.Errorf("fhe: store ciphertext: %w", err)
	}
	return h, nil
}

func (e *LocalEngine) open(h Handle) (uint64, error) {
	ct, err := e.store.GetCiphertext(h)
	if err != nil {
		return 0, err
	}
	if ct == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if ct.Type != h.Type() {
		return 0, ErrTypeMismatch
	}
	pt, err := e.aead.Open(nil, h[:e.aead.NonceSize()], ct.Data, h[:])
	if err != nil {
		return 0, fmt.Errorf("fhe: open %s: %w", h, err)
	}
	if len(pt) != 8 {
		return 0, fmt.Errorf("fhe: open %s: bad plaintext length %d", h, len(pt))
	}
	return binary.BigEndian.Uint64(pt), nil
}

func wrap(v uint64, t Type) uint64 {
	if t.Bits() >= 64 {
		return v
	}
	return v & t.Max()
}
