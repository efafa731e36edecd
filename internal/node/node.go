// Package node assembles a running marketplace from its configuration:
// storage, ledger, collaborators, transaction executor and RPC server.
package node

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/assets"
	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/marketplace"
	"github.com/tolelom/tolmarket/rpc"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolmarket/vm/modules/asset"
	_ "github.com/tolelom/tolmarket/vm/modules/economy"
	_ "github.com/tolelom/tolmarket/vm/modules/market"
)

// Node is an assembled marketplace. Close releases the database.
type Node struct {
	DB       storage.DB
	State    *storage.StateDB
	Assets   *assets.Registry
	Bank     *accounts.Bank
	Ledger   *marketplace.Ledger
	Executor *vm.Executor
	Emitter  *events.Emitter
	RPC      *rpc.Server
}

// OpenDB opens the LevelDB database under cfg.DataDir.
func OpenDB(cfg *config.Config) (*storage.LevelDB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	return storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
}

// New wires a Node over db with operator as the fee recipient. Genesis
// allocation is applied on a fresh database. The RPC server is built but
// not started.
func New(cfg *config.Config, db storage.DB, operator string) (*Node, error) {
	state := storage.NewStateDB(db)

	applied, err := config.ApplyGenesis(cfg.Genesis, state)
	if err != nil {
		return nil, err
	}
	if applied {
		zap.L().With(zap.Int("accounts", len(cfg.Genesis.Alloc))).Info("Genesis allocation committed")
	}

	emitter := events.NewEmitter()
	emitter.SubscribeAll(logEvent)

	reg := assets.New(state)
	bank := accounts.New(state)
	ledger := marketplace.New(state, reg.Spender(marketplace.EscrowAddress), bank,
		marketplace.FixedOperator(operator), emitter)
	if err := ledger.Init(); err != nil {
		return nil, fmt.Errorf("ledger init: %w", err)
	}

	tlsCfg, err := config.LoadTLSConfig(&cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	exec := vm.NewExecutor(cfg.ChainID, ledger, reg, bank)
	handler := rpc.NewHandler(ledger, reg, bank, state, exec)

	return &Node{
		DB:       db,
		State:    state,
		Assets:   reg,
		Bank:     bank,
		Ledger:   ledger,
		Executor: exec,
		Emitter:  emitter,
		RPC:      rpc.NewServer(cfg.RPCAddr(), handler, cfg.RPCToken, tlsCfg),
	}, nil
}

// Close closes the database.
func (n *Node) Close() error {
	return n.DB.Close()
}

func logEvent(ev events.Event) {
	zap.L().With(
		zap.String("event", string(ev.Type)),
		zap.String("id", ev.ID),
		zap.String("tx", ev.TxID),
		zap.Any("data", ev.Data),
	).Info("Marketplace event")
}
