package wallet

import (
	"time"

	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
	"github.com/tolelom/cipherforge/fhe"
)

// Wallet holds a player's key pair and builds signed ledger transactions.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet for chainID from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Player returns the hex-encoded ed25519 public key, the identity the
// ledger keys accounts and grants by.
func (w *Wallet) Player() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address.
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// ClaimGold creates a signed starter-grant claim.
func (w *Wallet) ClaimGold(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaimGold, nonce, core.ClaimGoldPayload{})
}

// Build creates a signed construction of one building of type bt.
func (w *Wallet) Build(bt catalog.BuildingType, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBuild, nonce, core.BuildPayload{BuildingType: uint32(bt)})
}

// TransferGold creates a signed gold transfer to another player.
func (w *Wallet) TransferGold(to string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransferGold, nonce, core.TransferGoldPayload{To: to, Amount: amount})
}

// RevealBuilding creates a signed reveal of the building at index.
func (w *Wallet) RevealBuilding(index int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRevealBuilding, nonce, core.RevealBuildingPayload{Index: index})
}

// DecryptRequest creates a signed request to decrypt h as this player,
// bound to a fresh DecryptKey that opens the node's answer.
func (w *Wallet) DecryptRequest(h fhe.Handle) (*core.DecryptRequest, *core.DecryptKey, error) {
	key, err := core.NewDecryptKey()
	if err != nil {
		return nil, nil, err
	}
	req := &core.DecryptRequest{
		ChainID:   w.chainID,
		Handle:    h,
		Player:    w.pub.Hex(),
		PublicKey: key.PublicHex(),
		Timestamp: time.Now().UnixNano(),
	}
	req.Sign(w.priv)
	return req, key, nil
}
