// Package config loads node configuration from defaults, an optional file
// and CF_-prefixed environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tolelom/cipherforge/catalog"
)

// GenesisConfig describes the chain's initial parameters.
type GenesisConfig struct {
	ChainID      string `mapstructure:"chain_id" json:"chain_id"`
	StarterGrant uint64 `mapstructure:"starter_grant" json:"starter_grant"`
	CatalogFile  string `mapstructure:"catalog_file" json:"catalog_file,omitempty"` // YAML; empty → built-in catalog
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" json:"rps"` // per client IP; 0 disables limiting
	Burst int     `mapstructure:"burst" json:"burst"`
}

type FHEConfig struct {
	KeySeed string `mapstructure:"key_seed" json:"key_seed"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty" json:"pretty"` // human-readable output (dev only)
}

// Config holds all node configuration.
type Config struct {
	NodeID        string          `mapstructure:"node_id" json:"node_id"`
	DataDir       string          `mapstructure:"data_dir" json:"data_dir"`
	RPCPort       int             `mapstructure:"rpc_port" json:"rpc_port"`
	RPCAuthToken  string          `mapstructure:"rpc_auth_token" json:"rpc_auth_token,omitempty"`
	BlockInterval time.Duration   `mapstructure:"block_interval" json:"block_interval"`
	MaxBlockTxs   int             `mapstructure:"max_block_txs" json:"max_block_txs"` // 0 → 500
	Validators    []string        `mapstructure:"validators" json:"validators"`       // authorised proposer pubkey hexes
	RateLimit     RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
	Genesis       GenesisConfig   `mapstructure:"genesis" json:"genesis"`
	FHE           FHEConfig       `mapstructure:"fhe" json:"fhe"`
	Log           LogConfig       `mapstructure:"log" json:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "node0")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("rpc_port", 8545)
	v.SetDefault("rpc_auth_token", "")
	v.SetDefault("block_interval", "2s")
	v.SetDefault("max_block_txs", 500)
	v.SetDefault("validators", []string{})
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("genesis.chain_id", "cipherforge-dev")
	v.SetDefault("genesis.starter_grant", 500)
	v.SetDefault("genesis.catalog_file", "")
	v.SetDefault("fhe.key_seed", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	cfg, err := decode(viper.New())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration from path (JSON or YAML, by extension) and the
// environment. Environment variables override file values. Prefix: CF_.
// Nested keys use underscore: CF_GENESIS_CHAIN_ID, CF_FHE_KEY_SEED, etc.
// An empty path searches for config.{json,yaml} in . and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return decode(v)
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Catalog loads the building catalog named by Genesis.CatalogFile, or the
// built-in catalog when none is configured.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if c.Genesis.CatalogFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(c.Genesis.CatalogFile)
}
