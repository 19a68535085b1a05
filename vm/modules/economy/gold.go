package economy

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/vm"
)

func init() {
	vm.Register(core.TxTransferGold, handleTransferGold)
}

func handleTransferGold(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferGoldPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if err := ctx.Ledger.TransferGold(ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventGoldTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
