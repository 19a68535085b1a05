// Package acl records which principals may decrypt which ciphertext handles.
// The fhe engine enforces the table at decrypt time; the coordinator makes
// sure no freshly minted handle is left without its grants.
package acl

import (
	"github.com/rs/zerolog/log"

	"github.com/tolelom/cipherforge/fhe"
)

// Store persists grants. Writes must share the transaction's rollback scope.
type Store interface {
	HasGrant(h fhe.Handle, principal string) (bool, error)
	PutGrant(h fhe.Handle, principal string) error
}

// Coordinator grants and answers decryption rights. self is the ledger's own
// principal, which must hold a grant on every handle it later computes on.
type Coordinator struct {
	store Store
	self  string
}

// LedgerPrincipal names the ledger of chainID. The prefix keeps it disjoint
// from player identities, which are bare pubkey hex.
func LedgerPrincipal(chainID string) string {
	return "ledger:" + chainID
}

// New creates a Coordinator whose ledger principal is self.
func New(store Store, self string) *Coordinator {
	return &Coordinator{store: store, self: self}
}

// Self returns the ledger principal.
func (c *Coordinator) Self() string { return c.self }

// Grant authorizes principal on h. Granting an existing pair is a no-op.
func (c *Coordinator) Grant(h fhe.Handle, principal string) error {
	if h.IsZero() {
		return fhe.ErrUninitialized
	}
	ok, err := c.store.HasGrant(h, principal)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return c.store.PutGrant(h, principal)
}

// IsGranted reports whether principal may decrypt h. Storage failures count
// as not granted.
func (c *Coordinator) IsGranted(h fhe.Handle, principal string) bool {
	if h.IsZero() || principal == "" {
		return false
	}
	ok, err := c.store.HasGrant(h, principal)
	if err != nil {
		log.Warn().Err(err).Str("handle", h.Hex()).Msg("acl lookup failed")
		return false
	}
	return ok
}

// GrantOwner authorizes both owner and the ledger principal on h.
func (c *Coordinator) GrantOwner(h fhe.Handle, owner string) error {
	if err := c.Grant(h, c.self); err != nil {
		return err
	}
	return c.Grant(h, owner)
}
