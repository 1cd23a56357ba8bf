package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"provider-directory/config"
	"provider-directory/feed"
	"provider-directory/metrics"
	"provider-directory/server"
	"provider-directory/services"
	"provider-directory/snapshot"
	"provider-directory/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()

	logger.Info("=== Provider Directory starting ===")
	logger.Infof("Config — feed: %s | batch size: %d | cron: %q | snapshots: %s",
		cfg.FeedURL, cfg.BatchSize, cfg.UpdateCron, cfg.SnapshotDir)

	if cfg.FeedURL == "" {
		logger.Error("FEED_URL is not set")
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DSN())
	if err != nil {
		logger.Errorf("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	gate := snapshot.NewGate(cfg.SnapshotDir)
	builder := snapshot.NewBuilder(store, cfg.SnapshotDir, cfg.BatchSize, logger)
	fetcher := feed.NewFetcher(cfg.FeedURL, cfg.FetchTimeout, cfg.MaxRetries, logger)
	m := metrics.New()

	updater := services.NewUpdater(fetcher, feed.NewParser(), store, builder, gate, m, cfg.BatchSize, logger)
	directory := services.NewDirectory(store, logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.UpdateCron, func() {
		if _, err := updater.Run(context.Background()); err != nil {
			if errors.Is(err, snapshot.ErrUpdateInProgress) {
				logger.Warn("scheduled refresh skipped: previous cycle still running")
				return
			}
			logger.Errorf("Scheduled refresh failed: %v", err)
		}
	}); err != nil {
		logger.Errorf("Invalid UPDATE_CRON %q: %v", cfg.UpdateCron, err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg.HTTPAddr, updater, directory, gate, m.Handler(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown: %v", err)
	}
}
