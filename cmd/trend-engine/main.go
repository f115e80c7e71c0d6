package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Virrpe/saaspype-trends/internal/api"
	"github.com/Virrpe/saaspype-trends/internal/cache"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/engine"
	"github.com/Virrpe/saaspype-trends/internal/ingest"
	"github.com/Virrpe/saaspype-trends/internal/metrics"
	"github.com/Virrpe/saaspype-trends/internal/scoring"
	"github.com/Virrpe/saaspype-trends/internal/source"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting trend-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var store cache.FingerprintStore = cache.NewMemoryStore()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		valkey, err := cache.NewValkeyStore(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey fingerprint store unavailable, using in-memory store", slog.Any("error", err))
		} else {
			store = valkey
		}
	}
	defer store.Close()

	var oracle scoring.Oracle
	if cfg.Scoring.Endpoint != "" {
		oracle = scoring.NewHTTPOracle(cfg.Scoring.Endpoint, cfg.Scoring.Timeout, logger)
		logger.Info("using http scoring oracle", slog.String("endpoint", cfg.Scoring.Endpoint))
	} else {
		oracle, err = scoring.NewRuleOracle(cfg.Scoring.RulesPath, logger)
		if err != nil {
			logger.Error("failed to load scoring rules", slog.Any("error", err))
			os.Exit(1)
		}
	}

	sources := make([]source.ContentEventSource, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if sc.URL == "" {
			logger.Warn("skipping source without url", slog.String("source", sc.Name))
			continue
		}
		sources = append(sources, source.NewHTTPSource(sc.Name, sc.URL, sc.Platform, sc.Timeout, logger))
	}

	dedup := ingest.NewDeduplicator(store, cfg.Ingest.DedupTTL, cfg.Ingest.SimilarityThreshold, cfg.Ingest.RecentTexts, logger)

	coordinator, err := engine.NewCoordinator(cfg, engine.Deps{
		Dedup:   dedup,
		Oracle:  oracle,
		Sources: sources,
	}, logger)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, coordinator, prometheus.DefaultGatherer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coordinator.Run(ctx)

	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	select {
	case <-coordinator.Stopped():
	case <-time.After(cfg.Scheduler.StopTimeout + time.Second):
		logger.Warn("pipeline stop timed out")
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("trend-engine stopped")
}
