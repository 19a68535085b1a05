package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/storage"
)

func openLevelDB(t *testing.T, dir string) *storage.LevelDB {
	t.Helper()
	db, err := storage.NewLevelDB(filepath.Join(dir, "chain"))
	require.NoError(t, err)
	return db
}

func TestLevelDBBasics(t *testing.T) {
	db := openLevelDB(t, t.TempDir())
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, db.Set([]byte("acct:a"), []byte("1")))
	require.NoError(t, db.Set([]byte("acct:b"), []byte("2")))
	require.NoError(t, db.Set([]byte("ct:x"), []byte("3")))

	it := db.NewIterator([]byte("acct:"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"acct:a", "acct:b"}, keys)

	require.NoError(t, db.Delete([]byte("acct:a")))
	_, err = db.Get([]byte("acct:a"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db := openLevelDB(t, dir)
	state := storage.NewStateDB(db)
	require.NoError(t, state.SetAccount(&core.Account{Address: "alice", Gold: 500, Claimed: true}))
	root := state.ComputeRoot()
	require.NoError(t, state.Commit())
	require.NoError(t, db.Close())

	db = openLevelDB(t, dir)
	defer db.Close()
	state = storage.NewStateDB(db)
	acc, err := state.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), acc.Gold)
	assert.True(t, acc.Claimed)
	assert.Equal(t, root, state.ComputeRoot())
}
