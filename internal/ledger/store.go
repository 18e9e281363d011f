package ledger

import (
	"context"
	"errors"
	"time"

	id "prism/pkg/domain"
)

// ErrInsufficientCredit is returned by Store.Reserve when the available
// balance cannot cover the requested amount. Stores wrap it with the amounts
// involved; the service translates it into the coded domain error.
var ErrInsufficientCredit = errors.New("insufficient credit")

// Store persists accounts and reservations. Implementations must serialize
// mutations per user so two concurrent reservations can never both succeed
// when their sum exceeds the available balance, and must keep the account
// invariants: Total >= Reserved >= 0.
//
// Stores return sentinel errors (sentinel.ErrNotFound, sentinel.ErrInvalidState)
// and ErrInsufficientCredit; translating those into coded domain errors is
// the service's job.
type Store interface {
	// GetBalance returns the account balance. Unknown accounts read as a
	// zero balance, not an error; accounts exist once credit is added.
	GetBalance(ctx context.Context, userID id.UserID) (Balance, error)

	// AddCredit increases Total by amount, creating the account on first
	// top-up, and returns the resulting balance.
	AddCredit(ctx context.Context, userID id.UserID, amount id.Cents) (Balance, error)

	// Reserve atomically checks Available >= r.Amount and persists the hold.
	// A denial returns ErrInsufficientCredit and leaves the account
	// untouched. The reservation arrives fully populated (ID, timestamps,
	// StatePending); a duplicate ID is sentinel.ErrConflict.
	Reserve(ctx context.Context, r *Reservation) error

	// GetReservation returns the reservation, or sentinel.ErrNotFound.
	GetReservation(ctx context.Context, rid id.ReservationID) (*Reservation, error)

	// Commit converts a pending hold into a permanent debit: Total and
	// Reserved both decrease by the amount. Committing anything but a
	// pending reservation is sentinel.ErrInvalidState.
	Commit(ctx context.Context, rid id.ReservationID) (*Reservation, error)

	// Release returns a pending hold to the account without debiting it.
	// Releasing an already released reservation is a no-op; releasing a
	// committed one is sentinel.ErrInvalidState.
	Release(ctx context.Context, rid id.ReservationID) (*Reservation, error)

	// ReleaseExpired releases pending reservations whose ExpiresAt is at or
	// before cutoff, oldest first, at most limit of them, and returns the
	// reservations it released. Used by the janitor.
	ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Reservation, error)
}
