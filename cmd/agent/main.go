package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sol-portfolio-agent/internal/agent"
	"sol-portfolio-agent/internal/analysis"
	"sol-portfolio-agent/internal/config"
	"sol-portfolio-agent/internal/engine"
	"sol-portfolio-agent/internal/export"
	"sol-portfolio-agent/internal/logging"
	"sol-portfolio-agent/internal/market"
	"sol-portfolio-agent/internal/metrics"
	"sol-portfolio-agent/internal/registry"
	"sol-portfolio-agent/internal/state/sqlite"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Error("failed to open state store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	reg := registry.New()
	// Venue adapters register here before InitializeAll; none ship in
	// this binary.
	if err := reg.InitializeAll(ctx, nil); err != nil {
		log.Error("failed to initialize registry", zap.Error(err))
		os.Exit(1)
	}

	feed := market.NewFeed(cfg.Feed.URL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, log)
	source := market.NewFeedSource(feed, reg, cfg.Strategy.AssetDecimals, cfg.Strategy.ReserveAsset, log)
	if cfg.Feed.URL != "" {
		assets := make([]string, 0, len(cfg.Strategy.TargetAllocation))
		for asset := range cfg.Strategy.TargetAllocation {
			assets = append(assets, asset)
		}
		if err := feed.Connect(ctx); err != nil {
			log.Error("failed to connect price feed", zap.Error(err))
			os.Exit(1)
		}
		if err := feed.SubscribePrices(ctx, assets); err != nil {
			log.Error("failed to subscribe price feed", zap.Error(err))
			os.Exit(1)
		}
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("price feed stopped", zap.Error(err))
			}
		}()
	}

	var analyzer analysis.Analyzer
	if cfg.Analysis.Enabled {
		analyzer = analysis.NewHTTPAnalyzer(cfg.Analysis.URL, cfg.Analysis.Timeout, log)
	}

	exporter, err := export.New(cfg.Export, log)
	if err != nil {
		log.Error("failed to initialize exporter", zap.Error(err))
		os.Exit(1)
	}
	defer exporter.Close()

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	chain := engine.NewRPCClient(cfg.Execution.SubmitterURL, cfg.Execution.SubmitterTimeout, log)

	a, err := agent.New(cfg, log, agent.Deps{
		Source:   source,
		Analyzer: analyzer,
		Registry: reg,
		Chain:    chain,
		Store:    store,
		Metrics:  m,
		Exporter: exporter,
	})
	if err != nil {
		log.Error("failed to initialize agent", zap.Error(err))
		os.Exit(1)
	}

	if cfg.Agent.HealthAddr != "" {
		var metricsHandler http.Handler
		if prom != nil {
			metricsHandler = prom.Handler()
		}
		health := agent.NewHealthServer(cfg.Agent.HealthAddr, a, metricsHandler, log)
		if err := health.Start(ctx); err != nil {
			log.Error("failed to start health server", zap.Error(err))
			os.Exit(1)
		}
	}

	go drainEvents(ctx, a, log)

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.Error("agent terminated", zap.Error(err))
		os.Exit(1)
	}
}

func drainEvents(ctx context.Context, a *agent.Agent, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.Events():
			switch ev.Kind {
			case agent.EventCommitment:
				log.Info("commitment", zap.Uint64("cycle", ev.Cycle), zap.String("hash", ev.Detail))
			case agent.EventError:
				log.Warn("cycle error", zap.Uint64("cycle", ev.Cycle), zap.String("error", ev.Detail))
			default:
				log.Debug("phase", zap.Uint64("cycle", ev.Cycle), zap.String("phase", string(ev.Phase)))
			}
		}
	}
}
