// Package publisher is the write path for audit entries. Services emit
// through a Publisher rather than holding a store, so the choice of
// sync or buffered-async persistence stays a wiring concern.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	id "prism/pkg/domain"
	audit "prism/pkg/platform/audit"
	"prism/pkg/requestcontext"
)

// ErrBufferFull is returned when an async publisher has to drop an entry.
var ErrBufferFull = errors.New("audit buffer full")

// DropCounter records dropped entries. Satisfied by *metrics.Metrics.
type DropCounter interface {
	IncAuditDropped()
}

// Publisher persists audit entries, synchronously by default or through
// a bounded buffer when configured with WithAsyncBuffer.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics DropCounter

	inbox     chan audit.Entry
	drained   chan struct{}
	closeOnce sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with a
// bounded buffer of n entries. A full buffer drops the entry rather
// than blocking the request path.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Entry, n)
	}
}

// WithLogger sets the logger used for persistence failures and drops.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics wires drop accounting.
func WithMetrics(m DropCounter) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a Publisher writing to store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:   store,
		logger:  slog.Default(),
		drained: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.inbox != nil {
		go p.drain()
	}
	return p
}

// Emit records an entry. A zero Timestamp is filled from the request
// clock and a zero Category is derived from the event. In async mode a
// full buffer returns ErrBufferFull; the entry is lost.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.Category == "" {
		entry.Category = entry.Event.Category()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, entry)
	}

	select {
	case p.inbox <- entry:
		return nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.WarnContext(ctx, "audit buffer full, dropping entry",
		"event", entry.Event,
		"user_id", entry.UserID,
	)
	if p.metrics != nil {
		p.metrics.IncAuditDropped()
	}
	return ErrBufferFull
}

// List returns the stored entries for one user, newest first.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Entry, error) {
	return p.store.Query(ctx, audit.Query{UserID: userID})
}

// Close drains buffered entries and stops the background writer.
// Emit must not be called after Close.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox == nil {
			close(p.drained)
			return
		}
		close(p.inbox)
	})
	<-p.drained
}

func (p *Publisher) drain() {
	defer close(p.drained)
	for entry := range p.inbox {
		if err := p.store.Append(context.Background(), entry); err != nil {
			p.logger.Error("failed to persist audit entry",
				"event", entry.Event,
				"user_id", entry.UserID,
				"error", err,
			)
		}
	}
}
