// Package retention enforces the audit retention window.
//
// Entries strictly older than the configured retention are deleted on
// a slow cadence. Config validation keeps the retention at or above
// the two year compliance floor, so nothing younger is ever removed.
package retention

import (
	"context"
	"log/slog"
	"time"

	audit "prism/pkg/platform/audit"
)

// Worker deletes expired audit entries.
type Worker struct {
	store     audit.Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewWorker creates a retention worker. interval is the sweep cadence,
// typically daily.
func NewWorker(store audit.Store, retention, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps once immediately, then on every tick until ctx is
// cancelled. Sweep failures are logged and retried next tick.
func (w *Worker) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.retention)

	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.ErrorContext(ctx, "audit retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.InfoContext(ctx, "expired audit entries removed",
			"count", deleted,
			"cutoff", cutoff,
		)
	}
}
