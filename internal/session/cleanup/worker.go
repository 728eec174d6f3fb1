// Package cleanup runs the recurring expired-session sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the sweep runs when no interval is configured.
const DefaultInterval = 24 * time.Hour

// Sessions deletes expired sessions and reports how many it removed.
type Sessions interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// LocalCache is an in-process cache tier whose expired entries can be dropped in bulk.
type LocalCache interface {
	Sweep() int
}

// Worker sweeps expired sessions once at start and then on every tick.
type Worker struct {
	sessions Sessions
	local    LocalCache
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker returns a cleanup worker. local may be nil.
func NewWorker(sessions Sessions, local LocalCache, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sessions: sessions, local: local, interval: interval, logger: logger}
}

// Start runs the worker in a goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run sweeps immediately and then every interval. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("cleanup: worker started", "interval", w.interval.String())
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup: worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of sessions deleted.
// Errors are logged; the next tick retries.
func (w *Worker) RunOnce(ctx context.Context) int {
	deleted, err := w.sessions.CleanupExpiredSessions(ctx)
	if err != nil {
		w.logger.Error("cleanup: expired session sweep failed", "err", err)
		return 0
	}
	if deleted > 0 {
		w.logger.Info("cleanup: removed expired sessions", "count", deleted)
	}
	if w.local != nil {
		if n := w.local.Sweep(); n > 0 {
			w.logger.Debug("cleanup: pruned local cache", "count", n)
		}
	}
	return deleted
}
