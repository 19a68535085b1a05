// Command game is a player CLI for a cipherforge node: claim the starter
// gold, construct buildings and read back your own encrypted state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tolelom/cipherforge/catalog"
	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
	"github.com/tolelom/cipherforge/rpc"
	"github.com/tolelom/cipherforge/wallet"
)

const usage = `usage: game [flags] <command> [args]

commands:
  keygen                    create a new player keystore
  claim                     claim the starter gold
  build <type>              construct one building of the given type
  buildings                 list and decrypt your buildings
  balance                   show plaintext and decrypted encrypted gold
  transfer <player> <gold>  send gold to another player
  reveal <index>            publish the type of one of your buildings
  catalog                   list building types and costs

flags:
`

type app struct {
	client *rpc.Client
	wallet *wallet.Wallet
}

func main() {
	rpcURL := flag.String("rpc", "http://localhost:8545", "node JSON-RPC endpoint")
	token := flag.String("token", os.Getenv("CF_RPC_AUTH_TOKEN"), "RPC bearer token")
	keyPath := flag.String("key", "player.key", "path to keystore file")
	chainID := flag.String("chain", "cipherforge-dev", "chain id")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for a transaction to commit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	password := os.Getenv("CF_PASSWORD")
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "keygen" {
		w, err := wallet.Generate(*chainID)
		if err == nil {
			err = wallet.SaveKey(*keyPath, password, w.PrivKey())
		}
		exitOn(err)
		fmt.Printf("player: %s\nsaved to: %s\n", w.Player(), *keyPath)
		return
	}

	priv, err := wallet.LoadKey(*keyPath, password)
	exitOn(err)
	a := &app{
		client: rpc.NewClient(*rpcURL, *token),
		wallet: wallet.New(*chainID, priv),
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	exitOn(a.run(ctx, cmd, args))
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "claim":
		return a.submit(ctx, func(nonce uint64) (*core.Transaction, error) {
			return a.wallet.ClaimGold(nonce)
		})
	case "build":
		bt, err := argUint(args, 0, "building type", 32)
		if err != nil {
			return err
		}
		return a.submit(ctx, func(nonce uint64) (*core.Transaction, error) {
			return a.wallet.Build(catalog.BuildingType(bt), nonce)
		})
	case "transfer":
		if len(args) < 1 {
			return errors.New("transfer: recipient required")
		}
		amount, err := argUint(args, 1, "amount", 64)
		if err != nil {
			return err
		}
		return a.submit(ctx, func(nonce uint64) (*core.Transaction, error) {
			return a.wallet.TransferGold(args[0], amount, nonce)
		})
	case "reveal":
		index, err := argUint(args, 0, "building index", 31)
		if err != nil {
			return err
		}
		return a.submit(ctx, func(nonce uint64) (*core.Transaction, error) {
			return a.wallet.RevealBuilding(int(index), nonce)
		})
	case "buildings":
		return a.buildings(ctx)
	case "balance":
		return a.balance(ctx)
	case "catalog":
		var info rpc.CatalogInfo
		if err := a.client.Call(ctx, "getCatalog", nil, &info); err != nil {
			return err
		}
		fmt.Printf("starter grant: %d gold\n", info.StarterGrant)
		for _, e := range info.Buildings {
			fmt.Printf("  %d  %-10s %d gold\n", e.ID, e.Name, e.Cost)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// submit signs a transaction at the account's current nonce, sends it and
// waits for the sequencer's verdict.
func (a *app) submit(ctx context.Context, build func(nonce uint64) (*core.Transaction, error)) error {
	acc, err := a.client.Account(ctx, a.wallet.Player())
	if err != nil {
		return err
	}
	tx, err := build(acc.Nonce)
	if err != nil {
		return err
	}
	id, err := a.client.SendTx(ctx, tx)
	if err != nil {
		return err
	}
	height, err := a.client.WaitTx(ctx, id, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("tx %s: %w", id, err)
	}
	fmt.Printf("%s committed in block %d (tx %s)\n", tx.Type, height, id)
	return nil
}

func (a *app) buildings(ctx context.Context) error {
	acc, err := a.client.Account(ctx, a.wallet.Player())
	if err != nil {
		return err
	}
	if len(acc.Buildings) == 0 {
		fmt.Println("no buildings")
		return nil
	}
	for i, h := range acc.Buildings {
		bt, err := a.decrypt(ctx, h)
		if err != nil {
			return fmt.Errorf("decrypt building %d: %w", i, err)
		}
		marker := ""
		if _, ok := acc.Revealed[i]; ok {
			marker = " (revealed)"
		}
		fmt.Printf("  #%d  type %d%s  %s\n", i, bt, marker, h)
	}
	return nil
}

func (a *app) balance(ctx context.Context) error {
	acc, err := a.client.Account(ctx, a.wallet.Player())
	if err != nil {
		return err
	}
	if !acc.Claimed {
		fmt.Println("gold not claimed yet")
		return nil
	}
	enc, err := a.decrypt(ctx, acc.EncryptedGold)
	if err != nil {
		return fmt.Errorf("decrypt balance: %w", err)
	}
	fmt.Printf("gold: %d (encrypted mirror decrypts to %d)\n", acc.Gold, enc)
	return nil
}

func (a *app) decrypt(ctx context.Context, h fhe.Handle) (uint64, error) {
	req, key, err := a.wallet.DecryptRequest(h)
	if err != nil {
		return 0, err
	}
	return a.client.Decrypt(ctx, req, key)
}

// argUint parses args[i] as an unsigned integer that fits in bits.
func argUint(args []string, i int, name string, bits int) (uint64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%s required", name)
	}
	v, err := strconv.ParseUint(args[i], 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, args[i], err)
	}
	return v, nil
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
