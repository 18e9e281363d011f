// Package janitor releases credit reservations whose TTL passed without a
// commit or rollback, so a crashed or hung pipeline cannot strand a user's
// credit. Each release is recorded as an operations audit entry; a spike of
// them means pipelines are dying between reserve and commit.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"prism/internal/ledger"
	"prism/internal/platform/metrics"
	id "prism/pkg/domain"
	"prism/pkg/platform/audit"
)

const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 100
)

// AuditPublisher records reservation_expired events.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Janitor sweeps expired pending reservations on an interval.
type Janitor struct {
	store     ledger.Store
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	publisher AuditPublisher
	metrics   *metrics.Metrics
}

type Option func(*Janitor)

func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(j *Janitor) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		j.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(j *Janitor) {
		j.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Janitor) {
		j.metrics = m
	}
}

// New constructs a Janitor over the ledger store.
func New(store ledger.Store, opts ...Option) *Janitor {
	j := &Janitor{
		store:     store,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep failures are logged and retried next tick.
func (j *Janitor) Run(ctx context.Context) error {
	j.Sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep releases one batch of expired reservations. Exported so tests and
// dev tooling can drive the janitor without the ticker.
func (j *Janitor) Sweep(ctx context.Context) {
	released, err := j.store.ReleaseExpired(ctx, time.Now(), j.batchSize)
	if err != nil {
		j.logger.ErrorContext(ctx, "reservation sweep failed", "error", err)
		return
	}
	if len(released) == 0 {
		return
	}

	j.metrics.AddReservationsExpired(len(released))
	for _, r := range released {
		j.logger.WarnContext(ctx, "released expired reservation",
			"reservation_id", r.ID,
			"user_id", r.UserID,
			"amount_cents", int64(r.Amount),
			"expired_at", r.ExpiresAt,
		)
		j.emitExpired(ctx, r)
	}
}

func (j *Janitor) emitExpired(ctx context.Context, r *ledger.Reservation) {
	if j.publisher == nil {
		return
	}
	err := j.publisher.Emit(ctx, audit.Entry{
		ID:      id.NewEntryID(),
		Event:   audit.EventReservationExpired,
		UserID:  r.UserID,
		Cost:    r.Amount,
		Success: false,
		Reason:  "reservation expired without commit or rollback",
	})
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to emit reservation_expired audit entry",
			"reservation_id", r.ID,
			"error", err,
		)
	}
}
