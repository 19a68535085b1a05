package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/acl"
	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/ledger"
	"github.com/tolelom/cipherforge/storage"
)

// ChainID is the chain every fixture belongs to.
const ChainID = "test-chain"

// LedgerPrincipal is the ledger identity used by fixtures.
var LedgerPrincipal = acl.LedgerPrincipal(ChainID)

// Fixture bundles a ledger with the collaborators tests poke at directly.
type Fixture struct {
	State  *storage.StateDB
	Engine *fhe.LocalEngine
	ACL    *acl.Coordinator
	Ledger *ledger.Ledger
}

// NewFixture wires a ledger over an in-memory state with the default catalog.
func NewFixture(t *testing.T, opts ...ledger.Option) *Fixture {
	t.Helper()
	state := NewStateDB()
	coord := acl.New(state, LedgerPrincipal)
	key, err := fhe.DeriveKey([]byte("test seed"), ChainID)
	require.NoError(t, err)
	engine, err := fhe.NewLocalEngine(key, state, coord, LedgerPrincipal)
	require.NoError(t, err)
	return &Fixture{
		State:  state,
		Engine: engine,
		ACL:    coord,
		Ledger: ledger.New(state, engine, coord, catalog.Default(), opts...),
	}
}
