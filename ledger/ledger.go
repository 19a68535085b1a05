// Package ledger implements the confidential game ledger: the starter gold
// grant, spending gold on buildings whose types stay encrypted, and the
// bookkeeping that keeps every account's plaintext and encrypted gold
// mirrors equal.
//
// The ledger assumes a single writer. Each mutating call either commits all
// of its writes (account fields, ciphertexts, grants) or none of them.
package ledger

import (
	"errors"
	"fmt"

	"github.com/tolelom/cipherforge/acl"
	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
)

// DefaultStarterGrant is the gold issued by ClaimStarterGrant.
const DefaultStarterGrant uint64 = 500

var (
	ErrAlreadyClaimed      = errors.New("gold already claimed")
	ErrUnsupportedBuilding = errors.New("unsupported building")
	ErrInsufficientFunds   = errors.New("not enough gold")
	ErrInvalidPlayer       = errors.New("player identity required")
	ErrInvalidAmount       = errors.New("amount must be > 0")
	ErrInvalidRecipient    = errors.New("invalid recipient")
	ErrRecipientNotClaimed = errors.New("recipient has not claimed gold")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrBuildingNotFound    = errors.New("building not found")
	ErrAlreadyRevealed     = errors.New("building already revealed")
)

// Ledger is the engine behind claim, build, transfer and reveal.
type Ledger struct {
	state   core.State
	engine  fhe.Engine
	acl     *acl.Coordinator
	catalog *catalog.Catalog
	starter uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStarterGrant overrides DefaultStarterGrant.
func WithStarterGrant(gold uint64) Option {
	return func(l *Ledger) { l.starter = gold }
}

// New wires a Ledger. The engine must use coord as its ACL and coord.Self()
// as its operator, otherwise homomorphic updates of stored balances fail
// with fhe.ErrUnauthorized.
func New(state core.State, engine fhe.Engine, coord *acl.Coordinator, cat *catalog.Catalog, opts ...Option) *Ledger {
	l := &Ledger{
		state:   state,
		engine:  engine,
		acl:     coord,
		catalog: cat,
		starter: DefaultStarterGrant,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog returns the building catalog the ledger validates against.
func (l *Ledger) Catalog() *catalog.Catalog { return l.catalog }

// StarterGrant returns the gold a claim issues.
func (l *Ledger) StarterGrant() uint64 { return l.starter }

// ClaimStarterGrant issues the one-time starter gold to player, in plaintext
// and encrypted form. The encrypted balance is granted to player before the
// account referencing it is written.
func (l *Ledger) ClaimStarterGrant(player string) (*core.Account, error) {
	if player == "" {
		return nil, ErrInvalidPlayer
	}
	var out *core.Account
	err := l.atomically(func() error {
		acc, err := l.state.GetAccount(player)
		if err != nil {
			return err
		}
		if acc.Claimed {
			return ErrAlreadyClaimed
		}

		balance, err := l.mint(l.starter, fhe.Euint64, player)
		if err != nil {
			return fmt.Errorf("encrypt starter grant: %w", err)
		}
		next := acc.Clone()
		next.Claimed = true
		next.Gold = l.starter
		next.EncryptedGold = balance
		out = next
		return l.state.SetAccount(next)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Construct spends the catalog cost of buildingType from player's gold and
// appends the encrypted building type to player's buildings. Checks run in
// order: catalog membership, then funds.
func (l *Ledger) Construct(player string, buildingType catalog.BuildingType) (*core.Account, error) {
	if player == "" {
		return nil, ErrInvalidPlayer
	}
	cost, ok := l.catalog.Cost(buildingType)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBuilding, buildingType)
	}

	var out *core.Account
	err := l.atomically(func() error {
		acc, err := l.state.GetAccount(player)
		if err != nil {
			return err
		}
		if acc.Gold < cost {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, acc.Gold, cost)
		}

		balance, err := l.debit(acc.EncryptedGold, cost, player)
		if err != nil {
			return err
		}
		building, err := l.mint(uint64(buildingType), fhe.Euint32, player)
		if err != nil {
			return fmt.Errorf("encrypt building: %w", err)
		}
		next := acc.Clone()
		next.Gold -= cost
		next.EncryptedGold = balance
		next.Buildings = append(next.Buildings, building)
		out = next
		return l.state.SetAccount(next)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransferGold moves amount of gold from one player to another. The
// recipient must already have claimed, so an unclaimed account always holds
// zero gold and the uninitialized encrypted balance.
func (l *Ledger) TransferGold(from, to string, amount uint64) error {
	if from == "" {
		return ErrInvalidPlayer
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if to == "" || to == from {
		return ErrInvalidRecipient
	}

	return l.atomically(func() error {
		src, err := l.state.GetAccount(from)
		if err != nil {
			return err
		}
		dst, err := l.state.GetAccount(to)
		if err != nil {
			return err
		}
		if !dst.Claimed {
			return ErrRecipientNotClaimed
		}
		if src.Gold < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Gold, amount)
		}
		if dst.Gold > ^uint64(0)-amount {
			return ErrBalanceOverflow
		}

		srcBalance, err := l.debit(src.EncryptedGold, amount, from)
		if err != nil {
			return err
		}
		dstBalance, err := l.engine.Add(dst.EncryptedGold, amount)
		if err != nil {
			return fmt.Errorf("credit encrypted gold: %w", err)
		}
		if err := l.acl.GrantOwner(dstBalance, to); err != nil {
			return err
		}

		nextSrc, nextDst := src.Clone(), dst.Clone()
		nextSrc.Gold -= amount
		nextSrc.EncryptedGold = srcBalance
		nextDst.Gold += amount
		nextDst.EncryptedGold = dstBalance
		if err := l.state.SetAccount(nextSrc); err != nil {
			return err
		}
		return l.state.SetAccount(nextDst)
	})
}

// RevealBuilding publishes the plaintext type of player's building at index.
// Only the owner can reveal, since decryption runs under the owner's grant.
func (l *Ledger) RevealBuilding(player string, index int) (catalog.BuildingType, error) {
	if player == "" {
		return 0, ErrInvalidPlayer
	}
	var revealed catalog.BuildingType
	err := l.atomically(func() error {
		acc, err := l.state.GetAccount(player)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(acc.Buildings) {
			return fmt.Errorf("%w: index %d of %d", ErrBuildingNotFound, index, len(acc.Buildings))
		}
		if _, done := acc.Revealed[index]; done {
			return ErrAlreadyRevealed
		}
		v, err := l.engine.Decrypt(acc.Buildings[index], player)
		if err != nil {
			return err
		}
		next := acc.Clone()
		if next.Revealed == nil {
			next.Revealed = make(map[int]uint32)
		}
		next.Revealed[index] = uint32(v)
		revealed = catalog.BuildingType(v)
		return l.state.SetAccount(next)
	})
	return revealed, err
}

// mint encrypts value and grants it to owner and the ledger in the same
// atomic step.
func (l *Ledger) mint(value uint64, t fhe.Type, owner string) (fhe.Handle, error) {
	h, err := l.engine.Encrypt(value, t)
	if err != nil {
		return fhe.ZeroHandle, err
	}
	if err := l.acl.GrantOwner(h, owner); err != nil {
		return fhe.ZeroHandle, err
	}
	return h, nil
}

// debit subtracts amount homomorphically from balance and grants the result.
func (l *Ledger) debit(balance fhe.Handle, amount uint64, owner string) (fhe.Handle, error) {
	h, err := l.engine.Sub(balance, amount)
	if err != nil {
		return fhe.ZeroHandle, fmt.Errorf("debit encrypted gold: %w", err)
	}
	if err := l.acl.GrantOwner(h, owner); err != nil {
		return fhe.ZeroHandle, err
	}
	return h, nil
}

// atomically runs fn inside a state snapshot and reverts every write fn made
// if it fails. On success the snapshot is released.
func (l *Ledger) atomically(fn func() error) error {
	snap, err := l.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := fn(); err != nil {
		if rerr := l.state.RevertToSnapshot(snap); rerr != nil {
			return fmt.Errorf("%w (revert: %v)", err, rerr)
		}
		return err
	}
	return l.state.DiscardSnapshot(snap)
}
