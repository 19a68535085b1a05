package rpc_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/config"
	"github.com/tolelom/cipherforge/consensus"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/indexer"
	"github.com/tolelom/cipherforge/internal/testutil"
	"github.com/tolelom/cipherforge/rpc"
	"github.com/tolelom/cipherforge/storage"
	"github.com/tolelom/cipherforge/vm"
	"github.com/tolelom/cipherforge/wallet"

	_ "github.com/tolelom/cipherforge/vm/modules/economy"
	_ "github.com/tolelom/cipherforge/vm/modules/game"
)

const chainID = "test-chain"

type harness struct {
	fx     *testutil.Fixture
	poa    *consensus.PoA
	srv    *httptest.Server
	client *rpc.Client
}

func newHarness(t *testing.T, scfg rpc.ServerConfig) *harness {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = chainID
	cfg.Validators = []string{pub.Hex()}

	fx := testutil.NewFixture(t)
	bc := core.NewBlockchain(storage.NewBlockStore(testutil.NewMemDB()))
	require.NoError(t, bc.Init())
	mempool := core.NewMempool(chainID)
	emitter := events.NewEmitter()
	idx := indexer.New(testutil.NewMemDB(), emitter, zerolog.Nop())
	exec := vm.NewExecutor(fx.State, fx.Ledger, zerolog.Nop())
	poa := consensus.New(cfg, bc, fx.State, mempool, exec, emitter, priv, zerolog.Nop())

	handler := rpc.NewHandler(bc, mempool, fx.Ledger, fx.Engine, idx, chainID, poa)
	server := rpc.NewServer("127.0.0.1:0", handler, emitter, scfg, zerolog.Nop())
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &harness{fx: fx, poa: poa, srv: srv, client: rpc.NewClient(srv.URL, scfg.AuthToken)}
}

func (h *harness) send(t *testing.T, tx *core.Transaction, err error) string {
	t.Helper()
	require.NoError(t, err)
	id, err := h.client.SendTx(context.Background(), tx)
	require.NoError(t, err)
	return id
}

func (h *harness) produce(t *testing.T) {
	t.Helper()
	_, err := h.poa.ProduceBlock()
	require.NoError(t, err)
}

func newPlayer(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)
	return w
}

func (h *harness) decrypt(t *testing.T, w *wallet.Wallet, handle fhe.Handle) (uint64, error) {
	t.Helper()
	req, key, err := w.DecryptRequest(handle)
	require.NoError(t, err)
	return h.client.Decrypt(context.Background(), req, key)
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()
	var rerr *rpc.Error
	require.True(t, errors.As(err, &rerr), "want *rpc.Error, got %v", err)
	return rerr.Code
}

func TestClaimBuildAndQuery(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	ctx := context.Background()
	alice := newPlayer(t)

	claimTx, claimErr := alice.ClaimGold(0)
	h.send(t, claimTx, claimErr)
	buildTx, buildErr := alice.Build(1, 1)
	buildID := h.send(t, buildTx, buildErr)
	h.produce(t)

	var gold struct {
		Gold uint64 `json:"gold"`
	}
	require.NoError(t, h.client.Call(ctx, "getGoldBalance", map[string]string{"player": alice.Player()}, &gold))
	assert.Equal(t, uint64(400), gold.Gold)

	var claimed bool
	require.NoError(t, h.client.Call(ctx, "hasClaimedGold", map[string]string{"player": alice.Player()}, &claimed))
	assert.True(t, claimed)

	buildings, err := h.client.Buildings(ctx, alice.Player())
	require.NoError(t, err)
	require.Len(t, buildings, 1)

	bt, err := h.decrypt(t, alice, buildings[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bt)

	acc, err := h.client.Account(ctx, alice.Player())
	require.NoError(t, err)
	bal, err := h.decrypt(t, alice, acc.EncryptedGold)
	require.NoError(t, err)
	assert.Equal(t, gold.Gold, bal)

	var players []string
	require.NoError(t, h.client.Call(ctx, "getPlayers", nil, &players))
	assert.Equal(t, []string{alice.Player()}, players)

	var builds []string
	require.NoError(t, h.client.Call(ctx, "getConstructions", map[string]string{"player": alice.Player()}, &builds))
	assert.Equal(t, []string{buildID}, builds)

	height, err := h.client.WaitTx(ctx, buildID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)
}

func TestUserDecryptRequiresGrant(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	ctx := context.Background()
	alice, eve := newPlayer(t), newPlayer(t)

	tx, err := alice.ClaimGold(0)
	h.send(t, tx, err)
	h.produce(t)

	acc, err := h.client.Account(ctx, alice.Player())
	require.NoError(t, err)

	_, err = h.decrypt(t, eve, acc.EncryptedGold)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))

	forged, key, err := eve.DecryptRequest(acc.EncryptedGold)
	require.NoError(t, err)
	forged.Player = alice.Player()
	_, err = h.client.Decrypt(ctx, forged, key)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))

	_, err = h.decrypt(t, alice, fhe.ZeroHandle)
	assert.Equal(t, rpc.CodeInvalidParams, rpcCode(t, err))
}

func TestUserDecryptSealsToRequester(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	ctx := context.Background()
	alice := newPlayer(t)

	claimTx, claimErr := alice.ClaimGold(0)
	h.send(t, claimTx, claimErr)
	buildTx, buildErr := alice.Build(1, 1)
	h.send(t, buildTx, buildErr)
	h.produce(t)

	buildings, err := h.client.Buildings(ctx, alice.Player())
	require.NoError(t, err)
	require.Len(t, buildings, 1)

	req, key, err := alice.DecryptRequest(buildings[0])
	require.NoError(t, err)

	// A relay replaying the captured request only ever sees a sealed value.
	observer := rpc.NewClient(h.srv.URL, "")
	observerKey, err := core.NewDecryptKey()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		var out rpc.DecryptResult
		require.NoError(t, observer.Call(ctx, "userDecrypt", req, &out))
		assert.NotEmpty(t, out.Sealed)
		_, err = observerKey.Open(out.Sealed)
		assert.ErrorIs(t, err, core.ErrSealedValue)
	}

	// Swapping in the observer's own key breaks alice's signature.
	swapped := *req
	swapped.PublicKey = observerKey.PublicHex()
	_, err = observer.Decrypt(ctx, &swapped, observerKey)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))

	bt, err := h.client.Decrypt(ctx, req, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bt)
}

func TestRejectedTxReportsLedgerError(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	ctx := context.Background()
	alice := newPlayer(t)

	claimTx, claimErr := alice.ClaimGold(0)
	h.send(t, claimTx, claimErr)
	h.produce(t)

	again, err := alice.ClaimGold(1)
	id := h.send(t, again, err)
	_, err = h.poa.ProduceBlock()
	require.ErrorIs(t, err, consensus.ErrNoTransactions)

	_, err = h.client.WaitTx(ctx, id, 10*time.Millisecond)
	assert.Equal(t, rpc.CodeLedgerRejected, rpcCode(t, err))
	assert.ErrorContains(t, err, "gold already claimed")
}

func TestSendTxValidation(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	ctx := context.Background()
	alice := newPlayer(t)

	tx, err := alice.ClaimGold(0)
	require.NoError(t, err)
	tx.Signature = strings.Repeat("00", 64)
	_, err = h.client.SendTx(ctx, tx)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))

	other, err := wallet.Generate("other-chain")
	require.NoError(t, err)
	foreign, err := other.ClaimGold(0)
	require.NoError(t, err)
	_, err = h.client.SendTx(ctx, foreign)
	assert.Equal(t, rpc.CodeInvalidParams, rpcCode(t, err))

	err = h.client.Call(ctx, "getGoldBalance", map[string]string{"player": "nope"}, nil)
	assert.Equal(t, rpc.CodeInvalidParams, rpcCode(t, err))

	err = h.client.Call(ctx, "mintGold", nil, nil)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcCode(t, err))
}

func TestCatalog(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	var info rpc.CatalogInfo
	require.NoError(t, h.client.Call(context.Background(), "getCatalog", nil, &info))
	assert.Equal(t, uint64(500), info.StarterGrant)
	require.Len(t, info.Buildings, 3)
	assert.Equal(t, "Base", info.Buildings[0].Name)
	assert.Equal(t, uint64(100), info.Buildings[0].Cost)
}

func TestAuthToken(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{AuthToken: "secret"})
	ctx := context.Background()

	var height int64
	require.NoError(t, h.client.Call(ctx, "getBlockHeight", nil, &height))

	anon := rpc.NewClient(h.srv.URL, "")
	err := anon.Call(ctx, "getBlockHeight", nil, &height)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{RPS: 0.001, Burst: 2})
	ctx := context.Background()

	var height int64
	require.NoError(t, h.client.Call(ctx, "getBlockHeight", nil, &height))
	require.NoError(t, h.client.Call(ctx, "getBlockHeight", nil, &height))
	err := h.client.Call(ctx, "getBlockHeight", nil, &height)
	assert.Equal(t, rpc.CodeRateLimited, rpcCode(t, err))
}

func TestGetRejectsNonPost(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	resp, err := http.Get(h.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, rpc.ServerConfig{})
	alice := newPlayer(t)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := alice.ClaimGold(0)
	h.send(t, tx, err)
	h.produce(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []events.EventType
	for len(got) < 3 {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev.Type)
	}
	assert.Equal(t, []events.EventType{events.EventGoldClaimed, events.EventTxExecuted, events.EventBlockCommit}, got)
}
