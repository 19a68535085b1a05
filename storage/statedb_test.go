package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/internal/testutil"
	"github.com/tolelom/cipherforge/storage"
)

func TestUnknownAccountIsZeroValue(t *testing.T) {
	s := testutil.NewStateDB()
	acc, err := s.GetAccount("nobody")
	require.NoError(t, err)
	assert.Equal(t, &core.Account{Address: "nobody"}, acc)
}

func TestAccountRoundTripThroughCommit(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)

	var h fhe.Handle
	h[0], h[fhe.HandleSize-1] = 9, byte(fhe.Euint64)
	acc := &core.Account{
		Address:       "alice",
		Claimed:       true,
		Gold:          400,
		EncryptedGold: h,
		Buildings:     []fhe.Handle{h},
		Revealed:      map[int]uint32{0: 1},
	}
	require.NoError(t, s.SetAccount(acc))
	require.NoError(t, s.Commit())

	fresh := storage.NewStateDB(db)
	got, err := fresh.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestSetAccountRequiresAddress(t *testing.T) {
	s := testutil.NewStateDB()
	assert.Error(t, s.SetAccount(&core.Account{}))
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Gold: 1}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Gold: 2}))
	require.NoError(t, s.SetAccount(&core.Account{Address: "b", Gold: 3}))
	require.NoError(t, s.RevertToSnapshot(snap))

	a, _ := s.GetAccount("a")
	b, _ := s.GetAccount("b")
	assert.Equal(t, uint64(1), a.Gold)
	assert.Zero(t, b.Gold)

	assert.Error(t, s.RevertToSnapshot(snap), "reverted snapshot is discarded")
}

func TestDiscardSnapshotKeepsWrites(t *testing.T) {
	s := testutil.NewStateDB()
	outer, err := s.Snapshot()
	require.NoError(t, err)
	inner, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Gold: 7}))

	require.NoError(t, s.DiscardSnapshot(inner))
	a, _ := s.GetAccount("a")
	assert.Equal(t, uint64(7), a.Gold)
	assert.Error(t, s.RevertToSnapshot(inner), "discarded snapshot is gone")

	// The enclosing snapshot still rolls back everything after it.
	require.NoError(t, s.RevertToSnapshot(outer))
	a, _ = s.GetAccount("a")
	assert.Zero(t, a.Gold)

	assert.Error(t, s.DiscardSnapshot(0))
}

func TestHandleNonceIsMonotonicAndRollsBack(t *testing.T) {
	s := testutil.NewStateDB()
	n0, err := s.NextHandleNonce()
	require.NoError(t, err)
	n1, err := s.NextHandleNonce()
	require.NoError(t, err)
	assert.Equal(t, n0+1, n1)

	snap, _ := s.Snapshot()
	_, _ = s.NextHandleNonce()
	require.NoError(t, s.RevertToSnapshot(snap))
	n2, err := s.NextHandleNonce()
	require.NoError(t, err)
	assert.Equal(t, n1+1, n2)
}

func TestCiphertextStore(t *testing.T) {
	s := testutil.NewStateDB()
	var h fhe.Handle
	h[1] = 7

	ct, err := s.GetCiphertext(h)
	require.NoError(t, err)
	assert.Nil(t, ct)

	require.NoError(t, s.PutCiphertext(h, &fhe.Ciphertext{Type: fhe.Euint32, Data: []byte{1, 2}}))
	ct, err = s.GetCiphertext(h)
	require.NoError(t, err)
	assert.Equal(t, &fhe.Ciphertext{Type: fhe.Euint32, Data: []byte{1, 2}}, ct)
}

func TestComputeRootCoversBufferAndDB(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	empty := s.ComputeRoot()

	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Gold: 1}))
	buffered := s.ComputeRoot()
	assert.NotEqual(t, empty, buffered)

	require.NoError(t, s.Commit())
	assert.Equal(t, buffered, s.ComputeRoot(), "commit must not change the root")
	assert.Equal(t, buffered, storage.NewStateDB(db).ComputeRoot())
}

func TestBlockStoreCommit(t *testing.T) {
	bs := storage.NewBlockStore(testutil.NewMemDB())
	tip, err := bs.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	b := core.NewBlock(1, "prev", "proposer", nil)
	b.Hash = b.ComputeHash()
	require.NoError(t, bs.CommitBlock(b))

	tip, err = bs.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)

	byHeight, err := bs.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, byHeight.Hash)

	_, err = bs.GetBlockByHeight(2)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
