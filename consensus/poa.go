// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order; the proposer for a height
// is the single writer of the ledger state while it builds the block.
package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/config"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/vm"
)

var (
	ErrNotProposer = errors.New("not the proposer for this round")
	// ErrNoTransactions is returned when no pending transaction executed, so
	// there was nothing to put in a block.
	ErrNoTransactions = errors.New("no executable transactions")
)

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     zerolog.Logger

	// mu serialises block production against View readers so that reads
	// never observe a half-applied block.
	mu sync.RWMutex
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	logger zerolog.Logger,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     logger.With().Str("component", "consensus").Logger(),
	}
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// View runs fn while no block is being produced.
func (p *PoA) View(fn func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn()
}

// ProduceBlock executes pending transactions one at a time, drops the ones
// the ledger rejects, then signs and commits a block of the rest. Events
// reach subscribers only after the block and its state are persisted.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := p.mempool.Pending(limit)
	if len(pending) == 0 {
		return nil, ErrNoTransactions
	}

	tip := p.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}
	block := core.NewBlock(nextHeight, prevHash, p.pubKey.Hex(), nil)

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var (
		included []*core.Transaction
		queued   []events.Event
		rejected []events.Event
		dropped  []string
	)
	for _, tx := range pending {
		evs, err := p.exec.ExecuteTx(block, tx)
		if err != nil {
			rejected = append(rejected, events.Event{
				Type:        events.EventTxRejected,
				TxID:        tx.ID,
				BlockHeight: nextHeight,
				Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
			})
			dropped = append(dropped, tx.ID)
			continue
		}
		included = append(included, tx)
		queued = append(queued, evs...)
	}
	p.mempool.Remove(dropped)
	defer p.emitAll(rejected)

	if len(included) == 0 {
		return nil, ErrNoTransactions
	}

	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)
	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if rerr := p.state.RevertToSnapshot(snap); rerr != nil {
			p.log.Error().Err(rerr).Msg("revert block state")
		}
		return nil, fmt.Errorf("add block: %w", err)
	}
	if err := p.state.Commit(); err != nil {
		p.log.Fatal().Err(err).Int64("height", block.Header.Height).Msg("block stored but state commit failed")
	}

	ids := make([]string, len(included))
	for i, tx := range included {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)

	p.emitAll(queued)
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})
	p.log.Info().
		Int64("height", block.Header.Height).
		Int("txs", len(included)).
		Int("rejected", len(rejected)).
		Msg("block committed")
	return block, nil
}

func (p *PoA) emitAll(evs []events.Event) {
	for _, ev := range evs {
		p.emitter.Emit(ev)
	}
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil && !errors.Is(err, ErrNoTransactions) {
				p.log.Error().Err(err).Msg("produce block")
			}
		}
	}
}
