package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/cipherforge/crypto"
)

// BlockHeader is the signed part of a block. StateRoot commits to every
// account, ciphertext and grant the block's ledger transactions left behind.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"`
	TxRoot    string `json:"tx_root"` // genesis: binds chain ID, starter grant and catalog
	Timestamp int64  `json:"timestamp"`
	Proposer  string `json:"proposer"` // pubkey hex
}

// Block is the sequencer's unit of commitment: the ledger transactions that
// executed successfully, in mempool order. Rejected ones never appear.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the blake3 hex digest of the JSON header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign fills Hash and signs it as the validator.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks that pub, the block's proposer, signed Hash.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot commits to the order of txs. Reordering two transfers
// changes the root even when the final balances agree.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	parts := make([][]byte, len(txs))
	for i, tx := range txs {
		parts[i] = []byte(tx.ID)
	}
	root := crypto.HashParts(parts...)
	return crypto.Hash(root[:])
}

// NewBlock assembles an unsigned block at height on top of prevHash.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
