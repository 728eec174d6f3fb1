// Worker purges expired sessions from Postgres, once or on CLEANUP_INTERVAL.
// Run it instead of the in-process sweep when several API replicas share one database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"session-lifecycle/backend/internal/cache"
	"session-lifecycle/backend/internal/config"
	"session-lifecycle/backend/internal/db"
	"session-lifecycle/backend/internal/logging"
	"session-lifecycle/backend/internal/metrics"
	"session-lifecycle/backend/internal/session/cleanup"
	sessionrepo "session-lifecycle/backend/internal/session/repository"
	sessionservice "session-lifecycle/backend/internal/session/service"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Error("worker: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("worker: database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Redis entries of deleted sessions are evicted here too; the server's local tiers
	// expire on their own.
	tiered := cache.Dial(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, logger,
		cache.WithRemoteTimeout(cfg.RemoteCacheTimeout()),
	)
	sessions := sessionservice.NewService(
		sessionrepo.NewPostgresRepository(database),
		tiered,
		sessionservice.WithStoreTimeout(cfg.SessionStoreTimeout()),
		sessionservice.WithMetrics(metrics.New()),
		sessionservice.WithLogger(logger),
	)
	w := cleanup.NewWorker(sessions, nil, cfg.CleanupEvery(), logger)

	if *once {
		n := w.RunOnce(ctx)
		logger.Info("worker: sweep done", "deleted", n)
		return
	}
	w.Run(ctx)
	logger.Info("worker: stopped")
}
