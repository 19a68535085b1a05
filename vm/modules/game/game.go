// Package game registers the claim, build and reveal transaction handlers.
package game

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/vm"
)

func init() {
	vm.Register(core.TxClaimGold, handleClaimGold)
	vm.Register(core.TxBuild, handleBuild)
	vm.Register(core.TxRevealBuilding, handleRevealBuilding)
}

func handleClaimGold(ctx *vm.Context, _ json.RawMessage) error {
	acc, err := ctx.Ledger.ClaimStarterGrant(ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventGoldClaimed, map[string]any{
		"player": acc.Address,
		"amount": acc.Gold,
		"handle": acc.EncryptedGold.Hex(),
	})
	return nil
}

// handleBuild emits the new building's index and handle only. The type and
// the cost would give the building away.
func handleBuild(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuildPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode build payload: %w", err)
	}
	acc, err := ctx.Ledger.Construct(ctx.Tx.From, catalog.BuildingType(p.BuildingType))
	if err != nil {
		return err
	}
	index := len(acc.Buildings) - 1
	ctx.Emit(events.EventBuildingBuilt, map[string]any{
		"player": acc.Address,
		"index":  index,
		"handle": acc.Buildings[index].Hex(),
	})
	return nil
}

func handleRevealBuilding(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RevealBuildingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode reveal payload: %w", err)
	}
	bt, err := ctx.Ledger.RevealBuilding(ctx.Tx.From, p.Index)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventBuildingRevealed, map[string]any{
		"player":        ctx.Tx.From,
		"index":         p.Index,
		"building_type": uint32(bt),
	})
	return nil
}
