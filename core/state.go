package core

import (
	"github.com/tolelom/cipherforge/acl"
	"github.com/tolelom/cipherforge/fhe"
)

// Account is a player's ledger record. Address is the hex-encoded ed25519
// public key. Gold and EncryptedGold are the plaintext and ciphertext
// mirrors of one balance and must decode to the same value between
// transactions.
type Account struct {
	Address       string         `json:"address"`
	Nonce         uint64         `json:"nonce"`
	Claimed       bool           `json:"claimed"`
	Gold          uint64         `json:"gold"`
	EncryptedGold fhe.Handle     `json:"encrypted_gold"`
	Buildings     []fhe.Handle   `json:"buildings"`          // append-only, one euint32 per build
	Revealed      map[int]uint32 `json:"revealed,omitempty"` // building index → published type
}

// Clone returns a deep copy so callers can stage changes without touching a.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Buildings = append([]fhe.Handle(nil), a.Buildings...)
	if a.Revealed != nil {
		cp.Revealed = make(map[int]uint32, len(a.Revealed))
		for k, v := range a.Revealed {
			cp.Revealed[k] = v
		}
	}
	return &cp
}

// State is the full chain state. Implementations must be snapshot-able so
// the executor and the ledger can roll back failed transactions, and
// ciphertexts and grants must roll back with the accounts that reference them.
type State interface {
	// GetAccount returns a zero-value account for unknown addresses.
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	fhe.Store
	acl.Store

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// DiscardSnapshot drops snapshot id and every later one, keeping the
	// current write buffer.
	DiscardSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
