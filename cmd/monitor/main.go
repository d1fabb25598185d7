package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"buyinggroup-monitor/internal/config"
	"buyinggroup-monitor/internal/monitor"
	"buyinggroup-monitor/internal/notifier"
	"buyinggroup-monitor/internal/probe"
	"buyinggroup-monitor/internal/scraper"
	"buyinggroup-monitor/internal/site"
	"buyinggroup-monitor/internal/storage"
)

// dealStore joins the monitor's view of storage with the lifecycle
// methods both backends share.
type dealStore interface {
	monitor.DealStore
	Close() error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("Monitor failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Monitor stopped")
}

func run(ctx context.Context) error {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Logging
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.Log.SlogLevel(),
		TimeFormat: time.Kitchen,
	})))
	slog.Info("Starting buying group monitor",
		"interval", cfg.Monitor.TickInterval(),
		"backend", cfg.Storage.Backend,
		"auto_commit", cfg.Monitor.AutoCommitNewDeals)

	// 3. Storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	// 4. Site session and extractor
	siteClient, err := site.New(cfg.Site)
	if err != nil {
		return fmt.Errorf("failed to build site client: %w", err)
	}
	extractor := scraper.New(scraper.LoadSelectorsOrDefault(cfg.Site.SelectorsPath))

	// 5. Discord
	discord := notifier.New(cfg.Discord.WebhookURL, cfg.Site.MaxRetries, cfg.Site.RetryBaseDelay())

	// 6. Monitor loop and probe endpoints
	runner := monitor.New(store, discord, siteClient, extractor, cfg)
	probeServer := probe.NewServer(cfg.Probe.ListenAddress(), func() any {
		return runner.Snapshot(context.Background())
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return probeServer.Run(gctx) })
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (dealStore, error) {
	switch cfg.Storage.Backend {
	case "firestore":
		store, err := storage.NewFirestoreStore(ctx, cfg.Storage.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewSQLiteStore(ctx, cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return store, nil
	}
}
