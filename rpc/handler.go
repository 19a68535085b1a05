package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/indexer"
	"github.com/tolelom/cipherforge/ledger"
)

// Viewer runs read-only work while no block is being applied.
type Viewer interface {
	View(fn func() error) error
}

type directView struct{}

func (directView) View(fn func() error) error { return fn() }

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	ledger  *ledger.Ledger
	engine  fhe.Engine
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay
	view    Viewer
	now     func() time.Time
}

// NewHandler creates an RPC Handler. A nil view reads state directly, which
// is only safe when nothing writes concurrently.
func NewHandler(
	bc *core.Blockchain,
	mempool *core.Mempool,
	lg *ledger.Ledger,
	engine fhe.Engine,
	idx *indexer.Indexer,
	chainID string,
	view Viewer,
) *Handler {
	if view == nil {
		view = directView{}
	}
	return &Handler{
		bc:      bc,
		mempool: mempool,
		ledger:  lg,
		engine:  engine,
		indexer: idx,
		chainID: chainID,
		view:    view,
		now:     time.Now,
	}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())
	case "sendTx":
		return h.sendTx(req)
	case "getTxStatus":
		return h.getTxStatus(req)

	case "getGoldBalance":
		return h.playerQuery(req, func(player string) (any, error) {
			gold, err := h.ledger.ClearBalanceOf(player)
			return map[string]any{"player": player, "gold": gold}, err
		})
	case "getEncryptedGold":
		return h.playerQuery(req, func(player string) (any, error) {
			handle, err := h.ledger.EncryptedBalanceOf(player)
			return map[string]any{"player": player, "handle": handle}, err
		})
	case "getBuildings":
		return h.playerQuery(req, func(player string) (any, error) {
			buildings, err := h.ledger.BuildingsOf(player)
			return map[string]any{"player": player, "buildings": buildings}, err
		})
	case "hasClaimedGold":
		return h.playerQuery(req, func(player string) (any, error) {
			return h.ledger.HasClaimed(player)
		})
	case "getAccount":
		return h.playerQuery(req, func(player string) (any, error) {
			return h.ledger.Account(player)
		})
	case "getRevealed":
		return h.playerQuery(req, func(player string) (any, error) {
			revealed, err := h.ledger.RevealedOf(player)
			return map[string]any{"player": player, "revealed": revealed}, err
		})
	case "getConstructions":
		return h.playerQuery(req, func(player string) (any, error) {
			return h.indexer.Constructions(player)
		})

	case "getCatalog":
		return okResponse(req.ID, CatalogInfo{
			StarterGrant: h.ledger.StarterGrant(),
			Buildings:    h.ledger.Catalog().Entries(),
		})
	case "getPlayers":
		players, err := h.indexer.Players()
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		return okResponse(req.ID, players)
	case "userDecrypt":
		return h.userDecrypt(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// CatalogInfo is the result of getCatalog.
type CatalogInfo struct {
	StarterGrant uint64          `json:"starter_grant"`
	Buildings    []catalog.Entry `json:"buildings"`
}

// DecryptResult is the result of userDecrypt.
type DecryptResult struct {
	Handle fhe.Handle `json:"handle"`
	Type   string     `json:"type"`
	Sealed string     `json:"sealed"` // hex, opened with the request's DecryptKey
}

func (h *Handler) playerQuery(req Request, fn func(player string) (any, error)) Response {
	var params struct {
		Player string `json:"player"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if _, err := crypto.PubKeyFromHex(params.Player); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "player: "+err.Error())
	}
	var result any
	err := h.view.View(func() error {
		var err error
		result, err = fn(params.Player)
		return err
	})
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, result)
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := h.mempool.Add(&tx); err != nil {
		if errors.Is(err, crypto.ErrBadSignature) {
			return errResponse(req.ID, CodeUnauthorized, err.Error())
		}
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

// getTxStatus reports committed or pending transactions as results and
// rejected ones as a CodeLedgerRejected error carrying the ledger's reason.
func (h *Handler) getTxStatus(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	st, ok, err := h.indexer.TxStatus(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if !ok {
		if _, pending := h.mempool.Get(params.ID); pending {
			return okResponse(req.ID, indexer.TxStatus{Status: StatusPending})
		}
		return errResponse(req.ID, CodeInvalidParams, "unknown transaction")
	}
	if st.Status == indexer.StatusRejected {
		return errResponse(req.ID, CodeLedgerRejected, st.Error)
	}
	return okResponse(req.ID, st)
}

// userDecrypt reveals a plaintext to the player that signed the request,
// provided the player holds a decryption grant on the handle. The value is
// sealed to the request's ephemeral key and never leaves the node in clear.
func (h *Handler) userDecrypt(req Request) Response {
	var dr core.DecryptRequest
	if err := json.Unmarshal(req.Params, &dr); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if dr.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", dr.ChainID, h.chainID))
	}
	if err := dr.Verify(h.now()); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}

	var value uint64
	err := h.view.View(func() error {
		var err error
		value, err = h.engine.Decrypt(dr.Handle, dr.Player)
		return err
	})
	switch {
	case errors.Is(err, fhe.ErrUnauthorized):
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	case errors.Is(err, fhe.ErrUninitialized), errors.Is(err, fhe.ErrUnknownHandle):
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	case err != nil:
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	sealed, err := dr.Seal(value)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, DecryptResult{Handle: dr.Handle, Type: dr.Handle.Type().String(), Sealed: sealed})
}
