package consensus_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/config"
	"github.com/tolelom/cipherforge/consensus"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/internal/testutil"
	"github.com/tolelom/cipherforge/storage"
	"github.com/tolelom/cipherforge/vm"
	"github.com/tolelom/cipherforge/wallet"

	_ "github.com/tolelom/cipherforge/vm/modules/economy"
	_ "github.com/tolelom/cipherforge/vm/modules/game"
)

type node struct {
	t       *testing.T
	fx      *testutil.Fixture
	bc      *core.Blockchain
	mempool *core.Mempool
	emitter *events.Emitter
	poa     *consensus.PoA
	seen    []events.Event
}

func newNode(t *testing.T) *node {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = "test-chain"
	cfg.Validators = []string{pub.Hex()}

	n := &node{
		t:       t,
		fx:      testutil.NewFixture(t),
		bc:      core.NewBlockchain(storage.NewBlockStore(testutil.NewMemDB())),
		mempool: core.NewMempool("test-chain"),
		emitter: events.NewEmitter(),
	}
	require.NoError(t, n.bc.Init())
	n.emitter.SubscribeAll(func(ev events.Event) { n.seen = append(n.seen, ev) })

	exec := vm.NewExecutor(n.fx.State, n.fx.Ledger, zerolog.Nop())
	n.poa = consensus.New(cfg, n.bc, n.fx.State, n.mempool, exec, n.emitter, priv, zerolog.Nop())
	return n
}

func (n *node) submit(tx *core.Transaction, err error) {
	n.t.Helper()
	require.NoError(n.t, err)
	require.NoError(n.t, n.mempool.Add(tx))
}

func (n *node) types() []events.EventType {
	out := make([]events.EventType, len(n.seen))
	for i, ev := range n.seen {
		out[i] = ev.Type
	}
	return out
}

func TestProduceBlockCommitsExecutedTxs(t *testing.T) {
	n := newNode(t)
	alice, err := wallet.Generate("test-chain")
	require.NoError(t, err)

	n.submit(alice.ClaimGold(0))
	n.submit(alice.Build(2, 1))

	block, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Header.Height)
	assert.Len(t, block.Transactions, 2)
	assert.Equal(t, 0, n.mempool.Size())
	assert.Equal(t, int64(1), n.bc.Height())

	gold, err := n.fx.Ledger.ClearBalanceOf(alice.Player())
	require.NoError(t, err)
	assert.Equal(t, uint64(490), gold)

	assert.Equal(t, []events.EventType{
		events.EventGoldClaimed, events.EventTxExecuted,
		events.EventBuildingBuilt, events.EventTxExecuted,
		events.EventBlockCommit,
	}, n.types())
}

func TestProduceBlockDropsRejectedTxs(t *testing.T) {
	n := newNode(t)
	alice, err := wallet.Generate("test-chain")
	require.NoError(t, err)

	n.submit(alice.ClaimGold(0))
	n.submit(alice.Build(9, 1)) // not in the catalog
	n.submit(alice.Build(1, 1))

	block, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, core.TxClaimGold, block.Transactions[0].Type)
	assert.Equal(t, core.TxBuild, block.Transactions[1].Type)
	assert.Equal(t, 0, n.mempool.Size())

	assert.Contains(t, n.types(), events.EventTxRejected)

	buildings, err := n.fx.Ledger.BuildingsOf(alice.Player())
	require.NoError(t, err)
	assert.Len(t, buildings, 1)
}

func TestProduceBlockWithNothingToDo(t *testing.T) {
	n := newNode(t)
	_, err := n.poa.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNoTransactions)

	alice, err := wallet.Generate("test-chain")
	require.NoError(t, err)
	n.submit(alice.Build(1, 0)) // no gold yet

	_, err = n.poa.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNoTransactions)
	assert.Equal(t, 0, n.mempool.Size())
	assert.Equal(t, int64(0), n.bc.Height())
	assert.Equal(t, []events.EventType{events.EventTxRejected}, n.types())
}

func TestStateRootChainsAcrossBlocks(t *testing.T) {
	n := newNode(t)
	alice, err := wallet.Generate("test-chain")
	require.NoError(t, err)

	n.submit(alice.ClaimGold(0))
	first, err := n.poa.ProduceBlock()
	require.NoError(t, err)

	n.submit(alice.Build(3, 1))
	second, err := n.poa.ProduceBlock()
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Header.PrevHash)
	assert.NotEqual(t, first.Header.StateRoot, second.Header.StateRoot)
	assert.Equal(t, second.Header.StateRoot, n.fx.State.ComputeRoot(), "root covers committed state")
}

func TestNotProposer(t *testing.T) {
	n := newNode(t)
	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Validators = []string{other.Public().Hex()}
	exec := vm.NewExecutor(n.fx.State, n.fx.Ledger, zerolog.Nop())
	p := consensus.New(cfg, n.bc, n.fx.State, n.mempool, exec, n.emitter, other, zerolog.Nop())
	assert.True(t, p.IsProposer())

	mine, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	q := consensus.New(cfg, n.bc, n.fx.State, n.mempool, exec, n.emitter, mine, zerolog.Nop())
	assert.False(t, q.IsProposer())
	_, err = q.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNotProposer)
}
