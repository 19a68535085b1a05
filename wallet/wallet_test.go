package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
)

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "player.json")

	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))

	priv, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.Player(), priv.Public().Hex())

	_, err = LoadKey(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestKeystoreRejectsSwappedPlayer(t *testing.T) {
	a, err := Generate("test-chain")
	require.NoError(t, err)
	b, err := Generate("test-chain")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "player.json")
	require.NoError(t, SaveKey(path, "pw", a.PrivKey()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ks keystoreFile
	require.NoError(t, json.Unmarshal(data, &ks))
	ks.Player = b.Player()
	data, err = json.Marshal(ks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = LoadKey(path, "pw")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestTransactionBuilders(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)

	claim, err := w.ClaimGold(0)
	require.NoError(t, err)
	build, err := w.Build(2, 1)
	require.NoError(t, err)
	transfer, err := w.TransferGold("recipient", 5, 2)
	require.NoError(t, err)
	reveal, err := w.RevealBuilding(0, 3)
	require.NoError(t, err)

	for i, tx := range []*core.Transaction{claim, build, transfer, reveal} {
		assert.Equal(t, "test-chain", tx.ChainID)
		assert.Equal(t, w.Player(), tx.From)
		assert.Equal(t, uint64(i), tx.Nonce)
		assert.Equal(t, tx.Hash(), tx.ID)
		require.NoError(t, tx.Verify())
	}

	var bp core.BuildPayload
	require.NoError(t, json.Unmarshal(build.Payload, &bp))
	assert.Equal(t, uint32(2), bp.BuildingType)

	var tp core.TransferGoldPayload
	require.NoError(t, json.Unmarshal(transfer.Payload, &tp))
	assert.Equal(t, core.TransferGoldPayload{To: "recipient", Amount: 5}, tp)
}

func TestTamperedTransactionFailsVerify(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	tx, err := w.Build(1, 0)
	require.NoError(t, err)

	tx.Payload = json.RawMessage(`{"building_type":3}`)
	assert.Error(t, tx.Verify())
}

func TestDecryptRequest(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	var h fhe.Handle
	h[0], h[fhe.HandleSize-1] = 0xab, byte(fhe.Euint32)

	req, key, err := w.DecryptRequest(h)
	require.NoError(t, err)
	require.NoError(t, req.Verify(time.Now()))
	assert.Equal(t, key.PublicHex(), req.PublicKey)

	assert.ErrorIs(t, req.Verify(time.Now().Add(core.DecryptWindow+time.Minute)), core.ErrStaleRequest)

	other, err := Generate("test-chain")
	require.NoError(t, err)
	forged := *req
	forged.Player = other.Player()
	assert.Error(t, forged.Verify(time.Now()))

	retargeted := *req
	retargeted.Handle[0] = 0xcd
	assert.Error(t, retargeted.Verify(time.Now()))

	rekeyed := *req
	_, otherKey, err := other.DecryptRequest(h)
	require.NoError(t, err)
	rekeyed.PublicKey = otherKey.PublicHex()
	assert.Error(t, rekeyed.Verify(time.Now()))

	sealed, err := req.Seal(42)
	require.NoError(t, err)
	v, err := key.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
	_, err = otherKey.Open(sealed)
	assert.ErrorIs(t, err, core.ErrSealedValue)
}
