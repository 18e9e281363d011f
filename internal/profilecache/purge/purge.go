// Package purge removes expired cache entries on an interval. Lookups
// already treat expired rows as misses, so the sweep is about storage,
// not correctness.
package purge

import (
	"context"
	"log/slog"
	"time"

	"prism/internal/platform/metrics"
	"prism/internal/profilecache"
)

const defaultInterval = time.Hour

// Worker sweeps the cache store.
type Worker struct {
	store    profilecache.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New constructs a Worker over the cache store.
func New(store profilecache.Store, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run sweeps once immediately, then on every tick until ctx is
// cancelled. Sweep failures are logged and retried next tick.
func (w *Worker) Run(ctx context.Context) error {
	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep purges expired entries and refreshes the entry count gauge.
// Exported so tests and dev tooling can drive the worker without the
// ticker.
func (w *Worker) Sweep(ctx context.Context) {
	purged, err := w.store.PurgeExpired(ctx, time.Now())
	if err != nil {
		w.logger.ErrorContext(ctx, "cache purge failed", "error", err)
		return
	}
	if purged > 0 {
		w.logger.InfoContext(ctx, "purged expired cache entries", "purged", purged)
	}

	count, err := w.store.Count(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "cache count failed", "error", err)
		return
	}
	w.metrics.SetCacheEntries(int(count))
}
