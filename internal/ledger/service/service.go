// Package service wraps the ledger store with validation, coded error
// translation, audit emission and metrics. Handlers and the enrichment
// orchestrator talk to this service, never to a store directly.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"prism/internal/ledger"
	"prism/internal/platform/metrics"
	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/audit"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

// DefaultReservationTTL bounds how long a pending hold can strand credit
// before the janitor releases it.
const DefaultReservationTTL = 2 * time.Minute

// AuditPublisher records billing events.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service is the credit ledger. All mutations are serialized per user by the
// underlying store; the service adds the request-facing contract on top.
type Service struct {
	store          ledger.Store
	reservationTTL time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.reservationTTL = ttl
		}
	}
}

// New constructs a Service.
func New(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		reservationTTL: DefaultReservationTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance returns the account balance. Unknown users read as zero.
func (s *Service) GetBalance(ctx context.Context, userID id.UserID) (ledger.Balance, error) {
	if userID.IsZero() {
		return ledger.Balance{}, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return ledger.Balance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	return balance, nil
}

// Reserve places a hold of amount against the user's available balance. The
// hold expires after the configured reservation TTL unless committed or
// rolled back first.
func (s *Service) Reserve(ctx context.Context, userID id.UserID, amount id.Cents) (*ledger.Reservation, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reservation amount must be positive")
	}

	now := requestcontext.Now(ctx)
	r := &ledger.Reservation{
		ID:        id.NewReservationID(),
		UserID:    userID,
		Amount:    amount,
		State:     ledger.StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.reservationTTL),
	}

	if err := s.store.Reserve(ctx, r); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			return nil, dErrors.Wrap(err, dErrors.CodeInsufficientCredit, "insufficient credit")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve credit")
	}

	s.metrics.AddCreditsReserved(int64(amount))
	s.logger.DebugContext(ctx, "credit reserved",
		"user_id", userID,
		"reservation_id", r.ID,
		"amount_cents", int64(amount),
	)
	return r, nil
}

// Commit converts a pending hold into a permanent debit. Committing an
// expired but unswept reservation still succeeds; expiry only feeds the
// janitor.
func (s *Service) Commit(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	if rid.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reservation id is required")
	}

	r, err := s.store.Commit(ctx, rid)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "reservation not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "reservation is not pending")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit reservation")
		}
	}

	s.metrics.AddCreditsCommitted(int64(r.Amount))
	s.logger.DebugContext(ctx, "reservation committed",
		"user_id", r.UserID,
		"reservation_id", r.ID,
		"amount_cents", int64(r.Amount),
	)
	return r, nil
}

// Rollback releases a pending hold without debiting the account. Rolling
// back an already released reservation is a no-op; rolling back a committed
// one is a conflict.
func (s *Service) Rollback(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	if rid.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reservation id is required")
	}

	r, err := s.store.Release(ctx, rid)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "reservation not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "reservation already committed")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to roll back reservation")
		}
	}

	s.metrics.AddCreditsRolledBack(int64(r.Amount))
	s.logger.DebugContext(ctx, "reservation rolled back",
		"user_id", r.UserID,
		"reservation_id", r.ID,
		"amount_cents", int64(r.Amount),
	)
	return r, nil
}

// AddCredit tops up the account, creating it on first use, and records a
// billing audit entry attributed to the acting admin.
func (s *Service) AddCredit(ctx context.Context, userID id.UserID, amount id.Cents, reason string) (ledger.Balance, error) {
	if userID.IsZero() {
		return ledger.Balance{}, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if !amount.IsPositive() {
		return ledger.Balance{}, dErrors.New(dErrors.CodeInvalidInput, "credit amount must be positive")
	}

	balance, err := s.store.AddCredit(ctx, userID, amount)
	if err != nil {
		return ledger.Balance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add credit")
	}

	s.logger.InfoContext(ctx, "credit added",
		"user_id", userID,
		"amount_cents", int64(amount),
		"balance_cents", int64(balance.Total),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emitCreditAdded(ctx, userID, amount, reason)
	return balance, nil
}

func (s *Service) emitCreditAdded(ctx context.Context, userID id.UserID, amount id.Cents, reason string) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Entry{
		ID:         id.NewEntryID(),
		Event:      audit.EventCreditAdded,
		UserID:     userID,
		Cost:       amount,
		Success:    true,
		Reason:     reason,
		RequestID:  requestcontext.RequestID(ctx),
		ActorID:    requestcontext.AdminActor(ctx),
		ClientInfo: requestcontext.ClientDevice(ctx),
	})
	if err != nil {
		// The credit is already applied; losing the audit entry is worth a
		// loud log line, not a failed top-up.
		s.logger.ErrorContext(ctx, "failed to emit credit_added audit entry",
			"user_id", userID,
			"amount_cents", int64(amount),
			"error", err,
		)
	}
}
