package ledger

import (
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
)

// Read-only views. An address never written reads as the zero account.

func (l *Ledger) ClearBalanceOf(player string) (uint64, error) {
	acc, err := l.state.GetAccount(player)
	if err != nil {
		return 0, err
	}
	return acc.Gold, nil
}

// EncryptedBalanceOf returns fhe.ZeroHandle for players who never claimed.
func (l *Ledger) EncryptedBalanceOf(player string) (fhe.Handle, error) {
	acc, err := l.state.GetAccount(player)
	if err != nil {
		return fhe.ZeroHandle, err
	}
	return acc.EncryptedGold, nil
}

// BuildingsOf returns the building handles in construction order. The slice
// is never nil.
func (l *Ledger) BuildingsOf(player string) ([]fhe.Handle, error) {
	acc, err := l.state.GetAccount(player)
	if err != nil {
		return nil, err
	}
	return append([]fhe.Handle{}, acc.Buildings...), nil
}

func (l *Ledger) HasClaimed(player string) (bool, error) {
	acc, err := l.state.GetAccount(player)
	if err != nil {
		return false, err
	}
	return acc.Claimed, nil
}

// RevealedOf maps building index to the type its owner published.
func (l *Ledger) RevealedOf(player string) (map[int]uint32, error) {
	acc, err := l.state.GetAccount(player)
	if err != nil {
		return nil, err
	}
	out := make(map[int]uint32, len(acc.Revealed))
	for k, v := range acc.Revealed {
		out[k] = v
	}
	return out, nil
}

func (l *Ledger) Account(player string) (*core.Account, error) {
	return l.state.GetAccount(player)
}
