package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/blocknest/sweeperd/internal/collector"
	"github.com/blocknest/sweeperd/internal/monitor"
	"github.com/blocknest/sweeperd/internal/node"
	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/logger"
	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/events"
	"github.com/blocknest/sweeperd/pkg/infra"
	"github.com/blocknest/sweeperd/pkg/kvstore"
)

// --- CLI definitions --- //

type CLI struct {
	Watch       WatchCmd       `cmd:"" help:"Monitor addresses over websocket and optionally sweep deposits."`
	Collect     CollectCmd     `cmd:"" help:"Sweep funds from addresses to the master address."`
	Estimate    EstimateCmd    `cmd:"" help:"Report what a sweep would collect, without sending."`
	NATSPrinter NATSPrinterCmd `cmd:"" name:"nats-printer" help:"Print sweeper events from NATS."`
}

type WatchCmd struct {
	Coin       string   `help:"Coin to monitor (BTC, LTC, DOGE)." required:"" name:"coin"`
	Addresses  []string `help:"Addresses to track." name:"address"`
	Sweep      bool     `help:"Sweep deposits to the master address as they confirm." name:"sweep"`
	ConfigPath string   `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Debug      bool     `help:"Enable debug logs." name:"debug"`
}

type CollectCmd struct {
	Coin       string   `help:"Coin to sweep." required:"" name:"coin"`
	Addresses  []string `help:"Addresses to sweep." required:"" name:"address"`
	Keys       []string `help:"Private keys for signing (omit to sign with wallet keys)." name:"key"`
	ConfigPath string   `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Debug      bool     `help:"Enable debug logs." name:"debug"`
}

type EstimateCmd struct {
	Coin       string   `help:"Coin to estimate." required:"" name:"coin"`
	Addresses  []string `help:"Addresses to estimate." required:"" name:"address"`
	ConfigPath string   `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Debug      bool     `help:"Enable debug logs." name:"debug"`
}

type NATSPrinterCmd struct {
	NATSURL string `help:"NATS server URL." default:"nats://127.0.0.1:4222" name:"nats-url"`
	Prefix  string `help:"Event subject prefix / stream name." default:"sweeper" name:"prefix"`
	Subject string `help:"Subject filter to consume." default:"sweeper.>" name:"subject"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sweeperd"),
		kong.Description("UTXO deposit monitor & fund collector."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// --- command wiring --- //

func setup(configPath string, debug bool) (*config.Config, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildNode(cfg *config.Config, coin string) (node.Node, *node.Factory, config.CoinConfig, error) {
	coinCfg, ok := cfg.Coin(coin)
	if !ok {
		return nil, nil, coinCfg, fmt.Errorf("coin %s not configured", coin)
	}

	factory := node.NewFactory()
	n, err := factory.New(coinCfg)
	if err != nil {
		factory.Close()
		return nil, nil, coinCfg, err
	}
	return n, factory, coinCfg, nil
}

// newEmitter builds the NATS-backed event emitter, or a no-op one when NATS
// is not configured.
func newEmitter(cfg *config.Config) (events.Emitter, error) {
	if cfg.NATS.URL == "" {
		return events.NoopEmitter{}, nil
	}

	prefix := cfg.NATS.SubjectPrefix
	if prefix == "" {
		prefix = "sweeper"
	}

	nc, err := infra.GetNATSConnection(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	manager, err := infra.NewNATSMessageQueueManager("sweeper", []string{prefix + ".>"}, nc)
	if err != nil {
		return nil, err
	}
	return events.NewEmitter(manager.NewMessageQueue("sweeperd"), prefix), nil
}

// openJournal opens the badger-backed sweep journal, or returns nil when no
// directory is configured.
func openJournal(cfg *config.Config) (infra.KVStore, error) {
	if cfg.KVStore.Directory == "" {
		return nil, nil
	}
	prefix := cfg.KVStore.Prefix
	if prefix == "" {
		prefix = "sweeper"
	}
	return kvstore.NewBadgerStore(cfg.KVStore.Directory, prefix, infra.JSON)
}

func (c *WatchCmd) Run() error {
	cfg, err := setup(c.ConfigPath, c.Debug)
	if err != nil {
		return err
	}

	n, factory, coinCfg, err := buildNode(cfg, c.Coin)
	if err != nil {
		return err
	}
	defer factory.Close()
	defer n.Close()

	emitter, err := newEmitter(cfg)
	if err != nil {
		return err
	}
	defer emitter.Close()

	var sweeper *collector.Collector
	if c.Sweep {
		journal, err := openJournal(cfg)
		if err != nil {
			return err
		}
		if journal != nil {
			defer journal.Close()
		}
		sweeper, err = collector.New(n, coinCfg, cfg.Collector, emitter, journal)
		if err != nil {
			return err
		}
	}

	handler := monitor.HandlerFuncs{
		AddressTransaction: func(ctx context.Context, event monitor.AddressTransactionEvent) {
			if err := emitter.EmitAddressTransaction(event.Coin, event.Address, event.Tx); err != nil {
				slog.Error("Publish transaction event failed", "err", err)
			}
			if sweeper != nil {
				// The guard drops this silently if a sweep is already
				// running; confirmed funds are picked up next time.
				sweeper.CollectFromAddress(ctx, event.Address, nil)
			}
		},
		NewBlock: func(ctx context.Context, event monitor.NewBlockEvent) {
			if err := emitter.EmitNewBlock(event.Coin, event.Block); err != nil {
				slog.Error("Publish block event failed", "err", err)
			}
		},
	}

	m := monitor.New(n.Coin(), n.WebsocketURL(), n, handler, cfg.Monitor)
	for _, address := range c.Addresses {
		if !n.ValidateAddress(address) {
			return fmt.Errorf("invalid %s address: %s", n.Coin(), address)
		}
		if err := m.Subscribe(address); err != nil {
			return err
		}
	}

	m.Start()
	slog.Info("Watching", "coin", n.Coin(), "addresses", len(c.Addresses))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-m.Done():
		err = fmt.Errorf("%s monitor gave up after repeated reconnection failures", n.Coin())
		if emitErr := emitter.EmitError(n.Coin(), err); emitErr != nil {
			slog.Error("Publish error event failed", "err", emitErr)
		}
	}
	m.Stop()
	slog.Info("Watcher stopped")
	return err
}

func (c *CollectCmd) Run() error {
	cfg, err := setup(c.ConfigPath, c.Debug)
	if err != nil {
		return err
	}

	n, factory, coinCfg, err := buildNode(cfg, c.Coin)
	if err != nil {
		return err
	}
	defer factory.Close()
	defer n.Close()

	emitter, err := newEmitter(cfg)
	if err != nil {
		return err
	}
	defer emitter.Close()

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	sweeper, err := collector.New(n, coinCfg, cfg.Collector, emitter, journal)
	if err != nil {
		return err
	}

	keys := make(map[string][]string, len(c.Addresses))
	if len(c.Keys) > 0 {
		for _, address := range c.Addresses {
			keys[address] = c.Keys
		}
	}

	batch := sweeper.CollectMultiple(context.Background(), c.Addresses, keys)
	return printJSON(batch)
}

func (c *EstimateCmd) Run() error {
	cfg, err := setup(c.ConfigPath, c.Debug)
	if err != nil {
		return err
	}

	n, factory, coinCfg, err := buildNode(cfg, c.Coin)
	if err != nil {
		return err
	}
	defer factory.Close()
	defer n.Close()

	sweeper, err := collector.New(n, coinCfg, cfg.Collector, nil, nil)
	if err != nil {
		return err
	}

	estimates := make([]*types.EstimateResult, len(c.Addresses))
	g, ctx := errgroup.WithContext(context.Background())
	for i, address := range c.Addresses {
		i, address := i, address
		g.Go(func() error {
			est, err := sweeper.EstimateCollection(ctx, address)
			if err != nil {
				return fmt.Errorf("%s: %w", address, err)
			}
			estimates[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return printJSON(estimates)
}

func (c *NATSPrinterCmd) Run() error {
	logger.Init(&logger.Options{Level: slog.LevelInfo, TimeFormat: time.RFC3339})

	nc, err := infra.GetNATSConnection(c.NATSURL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	manager, err := infra.NewNATSMessageQueueManager(c.Prefix, []string{c.Prefix + ".>"}, nc)
	if err != nil {
		return err
	}
	queue := manager.NewMessageQueue("nats-printer")
	defer queue.Close()

	if err := queue.Dequeue(c.Subject, func(message []byte) error {
		fmt.Println(string(message))
		return nil
	}); err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	slog.Info("Consuming", "subject", c.Subject)
	waitForShutdown()
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func waitForShutdown() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}
