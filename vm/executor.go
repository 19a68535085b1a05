package vm

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/ledger"
)

// Context is passed to every Handler: the ledger, the raw state, the block
// being built, the triggering transaction, and an event buffer.
type Context struct {
	State  core.State
	Ledger *ledger.Ledger
	Block  *core.Block
	Tx     *core.Transaction

	events []events.Event
}

// Emit queues ev. Queued events are handed back by ExecuteTx only when the
// transaction succeeds.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Executor applies transactions one at a time using the global registry.
type Executor struct {
	state  core.State
	ledger *ledger.Ledger
	log    zerolog.Logger
}

// NewExecutor creates an Executor over state and lg.
func NewExecutor(state core.State, lg *ledger.Ledger, logger zerolog.Logger) *Executor {
	return &Executor{state: state, ledger: lg, log: logger.With().Str("component", "vm").Logger()}
}

// ExecuteTx verifies and executes tx with snapshot/rollback. On success it
// returns the events the transaction produced, ending with EventTxExecuted.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) ([]events.Event, error) {
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{State: e.state, Ledger: e.ledger, Block: block, Tx: tx}
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		e.log.Debug().Err(err).Str("tx", tx.ID).Str("type", string(tx.Type)).Msg("tx rejected")
		return nil, err
	}

	if err := e.state.DiscardSnapshot(snapID); err != nil {
		return nil, fmt.Errorf("discard snapshot: %w", err)
	}
	ctx.Emit(events.EventTxExecuted, map[string]any{"type": string(tx.Type), "from": tx.From})
	return ctx.events, nil
}

// applyTx checks and bumps the sender nonce, then dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
