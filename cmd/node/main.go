package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/xendbit/AssetManager/params"
	"github.com/xendbit/AssetManager/pkg/api"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
	"github.com/xendbit/AssetManager/pkg/app/exchange"
	"github.com/xendbit/AssetManager/pkg/crypto"
	"github.com/xendbit/AssetManager/pkg/events"
	"github.com/xendbit/AssetManager/pkg/p2p"
	"github.com/xendbit/AssetManager/pkg/storage"
	"github.com/xendbit/AssetManager/pkg/util"
)

type options struct {
	EnvFile string `short:"e" long:"env" description:"Path to a .env file (default: ./.env)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := params.LoadFromEnv(opts.EnvFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level, err := util.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger, err := util.NewLoggerWithFile(cfg.Log.File, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", level.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	var (
		store *storage.Store
		err   error
	)
	if cfg.Storage.DataDir == "" {
		sugar.Warn("storage_in_memory - state is lost on restart")
		store, err = storage.OpenInMemory()
	} else {
		store, err = storage.Open(cfg.Storage.DataDir)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(cfg.Exchange.TradeHistory)
	if err != nil {
		return err
	}

	// ---- Event fan-out ----
	bus := events.NewBus(cfg.Events.Buffer, sugar.Named("events"))

	hub := api.NewHub(sugar.Named("ws"))
	bus.Register(hub)

	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kafka.Close()
		bus.Register(kafka)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	if cfg.Gossip.Listen != "" {
		g, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.Gossip.Listen,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Topic:      cfg.Gossip.Topic,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		defer g.Close()
		// peer events carry their origin and go out on peer:{id}:... channels
		g.OnEvent(func(e events.Event) {
			hub.Publish(ctx, e)
		})
		bus.Register(g)
		sugar.Infow("gossip_enabled", "addrs", g.Addrs())
	}

	// ---- Exchange ----
	x := exchange.New(exchange.Config{
		Contractor:       cfg.Exchange.Contractor,
		FundingAuthority: cfg.Exchange.FundingAuthority,
		Policy: orderbook.Policy{
			MarketRemainder: cfg.Exchange.MarketRemainder,
			AllowSelfMatch:  cfg.Exchange.AllowSelfMatch,
		},
		VerifyInvariants: cfg.Exchange.VerifyInvariants,
		CommandBuffer:    cfg.Exchange.CommandBuffer,
		TradeHistory:     cfg.Exchange.TradeHistory,
	}, store, bus, util.RealClock{}, sugar.Named("exchange"))

	if err := x.Restore(snap); err != nil {
		return err
	}
	sugar.Infow("state_restored",
		"assets", len(snap.Assets),
		"orders", len(snap.Orders),
		"wallets", len(snap.Wallets),
		"contractor", cfg.Exchange.Contractor.Hex())

	go bus.Run(ctx)

	exDone := make(chan error, 1)
	go func() { exDone <- x.Run(ctx) }()

	// ---- API ----
	domain := crypto.DefaultDomain()
	domain.Name = cfg.API.EIP712Name
	domain.ChainID = big.NewInt(cfg.API.EIP712ChainID)
	verifier := transaction.NewVerifier(domain)

	srv := api.NewServer(x, verifier, hub, cfg.API.AllowedOrigins, sugar.Named("api"))
	apiDone := make(chan error, 1)
	go func() { apiDone <- srv.Start(ctx, cfg.API.Addr) }()

	// Progress logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-apiDone:
			if ctx.Err() == nil {
				return err
			}
			<-exDone
			return nil
		case err := <-exDone:
			if ctx.Err() == nil {
				return err
			}
			<-apiDone
			return nil
		case <-ticker.C:
			sugar.Infow("exchange_status",
				"assets", len(x.Assets()),
				"ws_clients", hub.Clients(),
				"events_dropped", bus.Dropped())
		}
	}
}
