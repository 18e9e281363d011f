// Package postgres provides the pgx-backed ledger store. Reserve, Commit and
// Release lock the rows they mutate with SELECT ... FOR UPDATE inside a
// transaction, which serializes per-user mutations across every instance of
// the service. Schema: credit_accounts and credit_reservations (schema/).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"prism/internal/ledger"
	id "prism/pkg/domain"
	"prism/pkg/platform/sentinel"
)

// uniqueViolation is the postgres error code for duplicate key inserts.
const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetBalance(ctx context.Context, userID id.UserID) (ledger.Balance, error) {
	const query = `
		SELECT balance_cents, reserved_cents
		FROM credit_accounts
		WHERE user_id = $1`

	var total, reserved int64
	err := s.pool.QueryRow(ctx, query, uuid.UUID(userID)).Scan(&total, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return newBalance(total, reserved), nil
}

func (s *Store) AddCredit(ctx context.Context, userID id.UserID, amount id.Cents) (ledger.Balance, error) {
	const upsert = `
		INSERT INTO credit_accounts (user_id, balance_cents, reserved_cents, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance_cents = credit_accounts.balance_cents + EXCLUDED.balance_cents,
		    updated_at = now()
		RETURNING balance_cents, reserved_cents`

	var total, reserved int64
	if err := s.pool.QueryRow(ctx, upsert, uuid.UUID(userID), int64(amount)).Scan(&total, &reserved); err != nil {
		return ledger.Balance{}, fmt.Errorf("add credit: %w", err)
	}
	return newBalance(total, reserved), nil
}

func (s *Store) Reserve(ctx context.Context, r *ledger.Reservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const lockAccount = `
		SELECT balance_cents, reserved_cents
		FROM credit_accounts
		WHERE user_id = $1
		FOR UPDATE`

	var total, reserved int64
	err = tx.QueryRow(ctx, lockAccount, uuid.UUID(r.UserID)).Scan(&total, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		// No account row means no credit was ever added.
		return fmt.Errorf("%w: need %s, available %s", ledger.ErrInsufficientCredit, r.Amount, id.Cents(0))
	}
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	available := total - reserved
	if available < int64(r.Amount) {
		return fmt.Errorf("%w: need %s, available %s", ledger.ErrInsufficientCredit, r.Amount, id.Cents(available))
	}

	const holdAmount = `
		UPDATE credit_accounts
		SET reserved_cents = reserved_cents + $2, updated_at = now()
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, holdAmount, uuid.UUID(r.UserID), int64(r.Amount)); err != nil {
		return fmt.Errorf("hold amount: %w", err)
	}

	const insertReservation = `
		INSERT INTO credit_reservations (id, user_id, amount_cents, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.Exec(ctx, insertReservation,
		uuid.UUID(r.ID), uuid.UUID(r.UserID), int64(r.Amount),
		string(ledger.StatePending), r.CreatedAt, r.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("reservation %s: %w", r.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	const query = `
		SELECT user_id, amount_cents, state, created_at, expires_at
		FROM credit_reservations
		WHERE id = $1`

	r, err := scanReservation(s.pool.QueryRow(ctx, query, uuid.UUID(rid)), rid)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) Commit(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := lockReservation(ctx, tx, rid)
	if err != nil {
		return nil, err
	}
	if r.State != ledger.StatePending {
		return nil, fmt.Errorf("commit %s reservation: %w", r.State, sentinel.ErrInvalidState)
	}

	const debitAccount = `
		UPDATE credit_accounts
		SET balance_cents = balance_cents - $2,
		    reserved_cents = reserved_cents - $2,
		    updated_at = now()
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, debitAccount, uuid.UUID(r.UserID), int64(r.Amount)); err != nil {
		return nil, fmt.Errorf("debit account: %w", err)
	}

	const markCommitted = `UPDATE credit_reservations SET state = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, markCommitted, uuid.UUID(rid), string(ledger.StateCommitted)); err != nil {
		return nil, fmt.Errorf("mark committed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	r.State = ledger.StateCommitted
	return r, nil
}

func (s *Store) Release(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := lockReservation(ctx, tx, rid)
	if err != nil {
		return nil, err
	}
	switch r.State {
	case ledger.StateReleased:
		return r, nil
	case ledger.StateCommitted:
		return nil, fmt.Errorf("release committed reservation: %w", sentinel.ErrInvalidState)
	}

	if err := releaseHold(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit release tx: %w", err)
	}
	r.State = ledger.StateReleased
	return r, nil
}

func (s *Store) ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) ([]*ledger.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SKIP LOCKED lets concurrent janitors and in-flight commits proceed;
	// whatever this sweep misses, the next one picks up.
	const selectExpired = `
		SELECT id, user_id, amount_cents, created_at, expires_at
		FROM credit_reservations
		WHERE state = 'pending' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, selectExpired, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var expired []*ledger.Reservation
	for rows.Next() {
		var (
			ridRaw, uidRaw uuid.UUID
			amount         int64
			r              ledger.Reservation
		)
		if err := rows.Scan(&ridRaw, &uidRaw, &amount, &r.CreatedAt, &r.ExpiresAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		r.ID = id.ReservationID(ridRaw)
		r.UserID = id.UserID(uidRaw)
		r.Amount = id.Cents(amount)
		r.State = ledger.StatePending
		expired = append(expired, &r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return nil, tx.Commit(ctx)
	}

	for _, r := range expired {
		if err := releaseHold(ctx, tx, r); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sweep tx: %w", err)
	}
	for _, r := range expired {
		r.State = ledger.StateReleased
	}
	return expired, nil
}

// lockReservation loads a reservation row under FOR UPDATE so state checks
// and the following mutations are atomic.
func lockReservation(ctx context.Context, tx pgx.Tx, rid id.ReservationID) (*ledger.Reservation, error) {
	const query = `
		SELECT user_id, amount_cents, state, created_at, expires_at
		FROM credit_reservations
		WHERE id = $1
		FOR UPDATE`
	return scanReservation(tx.QueryRow(ctx, query, uuid.UUID(rid)), rid)
}

func releaseHold(ctx context.Context, tx pgx.Tx, r *ledger.Reservation) error {
	const returnAmount = `
		UPDATE credit_accounts
		SET reserved_cents = reserved_cents - $2, updated_at = now()
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, returnAmount, uuid.UUID(r.UserID), int64(r.Amount)); err != nil {
		return fmt.Errorf("return held amount: %w", err)
	}

	const markReleased = `UPDATE credit_reservations SET state = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, markReleased, uuid.UUID(r.ID), string(ledger.StateReleased)); err != nil {
		return fmt.Errorf("mark released: %w", err)
	}
	return nil
}

func scanReservation(row pgx.Row, rid id.ReservationID) (*ledger.Reservation, error) {
	var (
		uidRaw uuid.UUID
		amount int64
		state  string
		r      ledger.Reservation
	)
	err := row.Scan(&uidRaw, &amount, &state, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	r.ID = rid
	r.UserID = id.UserID(uidRaw)
	r.Amount = id.Cents(amount)
	r.State = ledger.ReservationState(state)
	return &r, nil
}

func newBalance(total, reserved int64) ledger.Balance {
	return ledger.Balance{
		Total:     id.Cents(total),
		Reserved:  id.Cents(reserved),
		Available: id.Cents(total - reserved),
	}
}
