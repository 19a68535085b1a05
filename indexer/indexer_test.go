package indexer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/internal/testutil"
)

func newIndexer(t *testing.T) (*Indexer, *events.Emitter) {
	t.Helper()
	em := events.NewEmitter()
	return New(testutil.NewMemDB(), em, zerolog.Nop()), em
}

func TestEmptyIndexes(t *testing.T) {
	idx, _ := newIndexer(t)

	players, err := idx.Players()
	require.NoError(t, err)
	assert.NotNil(t, players)
	assert.Empty(t, players)

	builds, err := idx.Constructions("alice")
	require.NoError(t, err)
	assert.Empty(t, builds)

	_, ok, err := idx.TxStatus("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexesFollowEvents(t *testing.T) {
	idx, em := newIndexer(t)

	em.Emit(events.Event{Type: events.EventGoldClaimed, TxID: "t1", Data: map[string]any{"player": "alice"}})
	em.Emit(events.Event{Type: events.EventGoldClaimed, TxID: "t2", Data: map[string]any{"player": "bob"}})
	em.Emit(events.Event{Type: events.EventBuildingBuilt, TxID: "t3", Data: map[string]any{"player": "alice", "index": 0}})
	em.Emit(events.Event{Type: events.EventBuildingBuilt, TxID: "t4", Data: map[string]any{"player": "alice", "index": 1}})
	em.Emit(events.Event{Type: events.EventBuildingRevealed, TxID: "t5", Data: map[string]any{"player": "alice", "index": 1}})

	players, err := idx.Players()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, players)

	builds, err := idx.Constructions("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t4"}, builds)

	reveals, err := idx.Reveals("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"t5"}, reveals)

	builds, err = idx.Constructions("bob")
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestTxStatus(t *testing.T) {
	idx, em := newIndexer(t)

	em.Emit(events.Event{Type: events.EventTxExecuted, TxID: "ok", BlockHeight: 7})
	em.Emit(events.Event{Type: events.EventTxRejected, TxID: "bad", BlockHeight: 7, Data: map[string]any{"error": "not enough gold"}})

	st, ok, err := idx.TxStatus("ok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TxStatus{Status: StatusCommitted, BlockHeight: 7}, st)

	st, ok, err = idx.TxStatus("bad")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, st.Status)
	assert.Equal(t, "not enough gold", st.Error)
}

func TestMalformedEventsIgnored(t *testing.T) {
	idx, em := newIndexer(t)

	em.Emit(events.Event{Type: events.EventGoldClaimed, Data: map[string]any{"player": 42}})
	em.Emit(events.Event{Type: events.EventBuildingBuilt, Data: map[string]any{"player": "alice"}})

	players, err := idx.Players()
	require.NoError(t, err)
	assert.Empty(t, players)
	builds, err := idx.Constructions("alice")
	require.NoError(t, err)
	assert.Empty(t, builds)
}
