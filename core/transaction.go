package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/cipherforge/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxClaimGold      TxType = "claim_gold"
	TxBuild          TxType = "build"
	TxTransferGold   TxType = "transfer_gold"
	TxRevealBuilding TxType = "reveal_building"
)

// Transaction is the atomic unit of work on the chain. From is the caller
// identity: the sender's hex-encoded ed25519 public key.
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the signed fields.
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	if err := crypto.VerifyFrom(tx.From, []byte(tx.Hash()), tx.Signature); err != nil {
		return fmt.Errorf("tx %s: %w", tx.ID, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// ClaimGoldPayload is empty: the caller identity is the only argument.
type ClaimGoldPayload struct{}

// BuildPayload constructs one building of the given type.
type BuildPayload struct {
	BuildingType uint32 `json:"building_type"`
}

// TransferGoldPayload moves gold between players, both mirrors included.
type TransferGoldPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// RevealBuildingPayload publishes the type of the sender's building at Index.
type RevealBuildingPayload struct {
	Index int `json:"index"`
}
