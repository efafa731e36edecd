// Command marketd runs the tolmarket marketplace service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/internal/node"
	"github.com/tolelom/tolmarket/logging"
	"github.com/tolelom/tolmarket/marketplace"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/wallet"
)

func main() {
	app := &cli.App{
		Name:  "marketd",
		Usage: "custodial NFT marketplace service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a JSON or YAML config file"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before TOLMARKET_* variables"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "open the ledger and serve JSON-RPC",
				Action: serve,
			},
			{
				Name:   "genkey",
				Usage:  "generate an operator key into the configured keystore (password from TOLMARKET_KEYSTORE_PASSWORD)",
				Action: genKey,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing keystore"},
				},
			},
			{
				Name:   "stats",
				Usage:  "print fee rate and counters from the data directory (service must be stopped)",
				Action: stats,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "marketd:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"), c.String("env-file"))
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, closeLog, err := logging.New(cfg.LogFile, cfg.Debug)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.KeystorePassword == "" {
		zap.L().Warn("TOLMARKET_KEYSTORE_PASSWORD not set, keystore will use an empty password")
	}
	priv, err := wallet.LoadKey(cfg.Keystore, cfg.KeystorePassword)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	operator := priv.Public().Hex()

	db, err := node.OpenDB(cfg)
	if err != nil {
		return err
	}
	n, err := node.New(cfg, db, operator)
	if err != nil {
		db.Close()
		return err
	}
	defer n.Close()

	if err := n.RPC.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer n.RPC.Stop()

	zap.L().With(
		zap.String("chain", cfg.ChainID),
		zap.String("operator", operator),
		zap.String("escrow", marketplace.EscrowAddress),
		zap.Bool("auth", cfg.RPCToken != ""),
	).Info("Marketplace running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zap.L().Info("Shutting down")
	// Deferred calls run in LIFO: RPC.Stop → Close → closeLog
	return nil
}

func genKey(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Keystore); err == nil && !c.Bool("force") {
		return fmt.Errorf("keystore %s already exists (use --force to overwrite)", cfg.Keystore)
	}
	w, err := wallet.Generate(cfg.ChainID)
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(cfg.Keystore, cfg.KeystorePassword, w.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("Generated operator key. Public key: %s\n", w.PubKey())
	fmt.Printf("Saved to: %s\n", cfg.Keystore)
	return nil
}

func stats(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := node.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	info, err := storage.NewStateDB(db).GetMarket()
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return errors.New("marketplace not initialised in " + cfg.DataDir)
		}
		return err
	}
	out, err := json.MarshalIndent(map[string]any{
		"fee_rate":       info.FeeRate,
		"operator":       info.Operator,
		"total_listings": info.TotalListings,
		"total_sales":    info.TotalSales,
		"escrow":         marketplace.EscrowAddress,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
