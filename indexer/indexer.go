// Package indexer maintains secondary indexes over executed transactions so
// frontends can list players and construction history without scanning state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/storage"
)

const (
	keyPlayers            = "idx:players"
	prefixPlayerBuildTxs  = "idx:player:build:"
	prefixPlayerRevealTxs = "idx:player:reveal:"
	prefixTxStatus        = "idx:tx:"
)

// Outcomes recorded per transaction.
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
)

// TxStatus is the recorded outcome of a transaction the sequencer processed.
type TxStatus struct {
	Status      string `json:"status"`
	BlockHeight int64  `json:"block_height,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Indexer subscribes to ledger events and updates lookup tables. Index keys
// sit outside the state prefixes and never affect the state root.
type Indexer struct {
	db  storage.DB
	log zerolog.Logger
	mu  sync.Mutex
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter, logger zerolog.Logger) *Indexer {
	idx := &Indexer{db: db, log: logger.With().Str("component", "indexer").Logger()}
	emitter.Subscribe(events.EventGoldClaimed, idx.onGoldClaimed)
	emitter.Subscribe(events.EventBuildingBuilt, idx.onBuildingBuilt)
	emitter.Subscribe(events.EventBuildingRevealed, idx.onBuildingRevealed)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxRejected, idx.onTxRejected)
	return idx
}

// Players returns every player that claimed gold, in claim order.
func (idx *Indexer) Players() ([]string, error) {
	return idx.getList(keyPlayers)
}

// Constructions returns the IDs of player's build transactions, oldest first.
// Entry i produced building i.
func (idx *Indexer) Constructions(player string) ([]string, error) {
	return idx.getList(prefixPlayerBuildTxs + player)
}

// Reveals returns the IDs of player's reveal transactions.
func (idx *Indexer) Reveals(player string) ([]string, error) {
	return idx.getList(prefixPlayerRevealTxs + player)
}

// TxStatus returns the outcome of transaction id. ok is false while the
// transaction is unknown or still pending.
func (idx *Indexer) TxStatus(id string) (status TxStatus, ok bool, err error) {
	data, err := idx.db.Get([]byte(prefixTxStatus + id))
	if errors.Is(err, core.ErrNotFound) {
		return TxStatus{}, false, nil
	}
	if err != nil {
		return TxStatus{}, false, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return TxStatus{}, false, fmt.Errorf("indexer unmarshal tx %s: %w", id, err)
	}
	return status, true, nil
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	idx.putStatus(ev.TxID, TxStatus{Status: StatusCommitted, BlockHeight: ev.BlockHeight})
}

func (idx *Indexer) onTxRejected(ev events.Event) {
	reason, _ := ev.Data["error"].(string)
	idx.putStatus(ev.TxID, TxStatus{Status: StatusRejected, Error: reason})
}

func (idx *Indexer) putStatus(id string, st TxStatus) {
	if id == "" {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		idx.log.Error().Err(err).Str("tx", id).Msg("encode tx status")
		return
	}
	if err := idx.db.Set([]byte(prefixTxStatus+id), data); err != nil {
		idx.log.Error().Err(err).Str("tx", id).Msg("write tx status")
	}
}

func (idx *Indexer) onGoldClaimed(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	if player == "" {
		return
	}
	idx.append(keyPlayers, player)
}

func (idx *Indexer) onBuildingBuilt(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	if player == "" || ev.TxID == "" {
		return
	}
	idx.append(prefixPlayerBuildTxs+player, ev.TxID)
}

func (idx *Indexer) onBuildingRevealed(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	if player == "" || ev.TxID == "" {
		return
	}
	idx.append(prefixPlayerRevealTxs+player, ev.TxID)
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal %s: %w", key, err)
	}
	return ids, nil
}

func (idx *Indexer) append(key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids, err := idx.getList(key)
	if err != nil {
		idx.log.Error().Err(err).Str("key", key).Msg("read index")
		return
	}
	data, err := json.Marshal(append(ids, value))
	if err != nil {
		idx.log.Error().Err(err).Str("key", key).Msg("encode index")
		return
	}
	if err := idx.db.Set([]byte(key), data); err != nil {
		idx.log.Error().Err(err).Str("key", key).Msg("write index")
	}
}
