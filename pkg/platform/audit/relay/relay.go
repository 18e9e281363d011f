// Package relay drains the audit outbox to Kafka.
//
// Delivery is at-least-once: rows are marked published only after the
// produce is acknowledged, so a crash between produce and mark replays
// the batch. Downstream consumers dedupe by entry ID.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "prism/pkg/platform/audit"
)

// Producer is the produce surface of *kgo.Client.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// PendingGauge tracks the outbox backlog. Satisfied by *metrics.Metrics.
type PendingGauge interface {
	SetRelayPending(n int)
}

// Relay periodically publishes pending outbox rows to one topic.
type Relay struct {
	source    audit.OutboxSource
	producer  Producer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   PendingGauge
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval sets the drain cadence.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize caps how many rows one drain publishes.
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithMetrics wires backlog gauge updates.
func WithMetrics(m PendingGauge) Option {
	return func(r *Relay) { r.metrics = m }
}

// New creates a relay draining source to the given topic.
func New(source audit.OutboxSource, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		producer:  producer,
		topic:     topic,
		interval:  5 * time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox on a ticker until ctx is cancelled. Drain
// failures are logged and retried on the next tick; rows stay pending.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit relay drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	records, err := r.source.ListOutboxPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}

	if len(records) > 0 {
		batch := make([]*kgo.Record, 0, len(records))
		ids := make([]uuid.UUID, 0, len(records))
		for _, rec := range records {
			batch = append(batch, &kgo.Record{
				Topic: r.topic,
				Key:   rec.Key,
				Value: rec.Payload,
			})
			ids = append(ids, rec.ID)
		}

		if err := r.producer.ProduceSync(ctx, batch...).FirstErr(); err != nil {
			return fmt.Errorf("produce audit batch: %w", err)
		}

		if err := r.source.MarkPublished(ctx, ids); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}

		r.logger.DebugContext(ctx, "relayed audit entries",
			"count", len(records),
			"topic", r.topic,
		)
	}

	if r.metrics != nil {
		pending, err := r.source.CountPending(ctx)
		if err != nil {
			return fmt.Errorf("count pending outbox: %w", err)
		}
		r.metrics.SetRelayPending(pending)
	}
	return nil
}
