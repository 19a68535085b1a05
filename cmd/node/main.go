// Command node runs a confidential game ledger node.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/acl"
	"github.com/tolelom/cipherforge/config"
	"github.com/tolelom/cipherforge/consensus"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/events"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/indexer"
	"github.com/tolelom/cipherforge/internal/logger"
	"github.com/tolelom/cipherforge/ledger"
	"github.com/tolelom/cipherforge/rpc"
	"github.com/tolelom/cipherforge/storage"
	"github.com/tolelom/cipherforge/vm"
	"github.com/tolelom/cipherforge/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/cipherforge/vm/modules/economy"
	_ "github.com/tolelom/cipherforge/vm/modules/game"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (JSON or YAML); empty searches ./config.*")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genConfig := flag.String("genconfig", "", "write the effective configuration to the given path and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if *genConfig != "" {
		if err := config.Save(cfg, *genConfig); err != nil {
			log.Fatal().Err(err).Msg("save config")
		}
		log.Info().Str("path", *genConfig).Msg("config written")
		return
	}

	// Read keystore password from environment (not CLI flags: they leak via ps).
	password := os.Getenv("CF_PASSWORD")
	if password == "" {
		log.Warn().Msg("CF_PASSWORD not set; keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate(cfg.Genesis.ChainID)
		if err != nil {
			log.Fatal().Err(err).Msg("generate key")
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal().Err(err).Msg("save key")
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.Player())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	if err := run(cfg, *keyPath, password, log); err != nil {
		log.Fatal().Err(err).Msg("node stopped")
	}
}

func run(cfg *config.Config, keyPath, password string, log zerolog.Logger) error {
	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if cfg.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive, got %s", cfg.BlockInterval)
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = []string{privKey.Public().Hex()}
		log.Info().Msg("no validators configured; running as the sole validator")
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return err
	}
	defer db.Close()

	// State, blocks and indexes share one DB under disjoint key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, cat, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Info().Str("hash", genesis.Hash).Msg("genesis block committed")
	} else {
		genesis, err := bc.GetBlockByHeight(0)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		if err := config.VerifyGenesis(genesis, cfg, cat); err != nil {
			return err
		}
	}

	// ---- confidential engine + ledger ----
	seed := []byte(cfg.FHE.KeySeed)
	if len(seed) == 0 {
		log.Warn().Msg("fhe.key_seed not set; deriving the engine key from the validator key")
		seed = privKey
	}
	key, err := fhe.DeriveKey(seed, cfg.Genesis.ChainID)
	if err != nil {
		return fmt.Errorf("derive engine key: %w", err)
	}
	principal := acl.LedgerPrincipal(cfg.Genesis.ChainID)
	coord := acl.New(state, principal)
	engine, err := fhe.NewLocalEngine(key, state, coord, principal)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	lg := ledger.New(state, engine, coord, cat, ledger.WithStarterGrant(cfg.Genesis.StarterGrant))

	// ---- events, indexer, mempool, executor, consensus ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter, log)
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, lg, log)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey, log)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	handler := rpc.NewHandler(bc, mempool, lg, engine, idx, cfg.Genesis.ChainID, poa)
	server := rpc.NewServer(rpcAddr, handler, emitter, rpc.ServerConfig{
		AuthToken: cfg.RPCAuthToken,
		RPS:       cfg.RateLimit.RPS,
		Burst:     cfg.RateLimit.Burst,
	}, log)
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer server.Stop()
	if cfg.RPCAuthToken != "" {
		log.Info().Msg("RPC bearer token authentication enabled")
	}

	// ---- consensus loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(cfg.BlockInterval, done)
	}()
	log.Info().
		Str("validator", privKey.Public().Hex()).
		Str("chain", cfg.Genesis.ChainID).
		Dur("interval", cfg.BlockInterval).
		Msg("sequencer running")

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	// Stop the sequencer first so no block is half-written; deferred calls
	// then stop RPC and close the DB.
	close(done)
	wg.Wait()
	return nil
}
