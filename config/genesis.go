package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisTxRoot binds the genesis block to the chain id, the starter grant
// and the building catalog, so nodes with different economies never share a
// chain.
func GenesisTxRoot(chainID string, starterGrant uint64, cat *catalog.Catalog) string {
	root := crypto.HashParts(
		[]byte(chainID),
		[]byte(strconv.FormatUint(starterGrant, 10)),
		[]byte(cat.Fingerprint()),
	)
	return crypto.Hash(root[:])
}

// CreateGenesisBlock builds and signs block #0. No account exists at
// genesis: every player starts from the claim.
func CreateGenesisBlock(cfg *Config, cat *catalog.Catalog, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), nil)
	block.Header.StateRoot = stateRoot
	block.Header.TxRoot = GenesisTxRoot(cfg.Genesis.ChainID, cfg.Genesis.StarterGrant, cat)
	block.Sign(proposerPriv)
	return block, nil
}

// VerifyGenesis checks that a stored genesis block matches the configured
// economy. A node restarted with a different catalog must not reuse the old
// data directory.
func VerifyGenesis(block *core.Block, cfg *Config, cat *catalog.Catalog) error {
	if block.Header.Height != 0 || !IsGenesisHash(block.Header.PrevHash) {
		return errors.New("genesis: block 0 does not reference the genesis prev-hash")
	}
	if want := GenesisTxRoot(cfg.Genesis.ChainID, cfg.Genesis.StarterGrant, cat); block.Header.TxRoot != want {
		return fmt.Errorf("genesis: tx root %s does not match configured economy %s", block.Header.TxRoot, want)
	}
	return nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
