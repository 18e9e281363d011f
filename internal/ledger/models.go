// Package ledger implements per-user credit accounting with two-phase
// charging. A vendor call first reserves its cost against the available
// balance, then commits the hold into a permanent debit on success or
// releases it on failure. Reservations carry a TTL so a crashed pipeline
// cannot strand credit forever; the janitor releases expired holds.
package ledger

import (
	"time"

	id "prism/pkg/domain"
)

// ReservationState tracks a hold through its lifecycle. Transitions are
// pending -> committed and pending -> released; committed and released are
// terminal.
type ReservationState string

const (
	StatePending   ReservationState = "pending"
	StateCommitted ReservationState = "committed"
	StateReleased  ReservationState = "released"
)

// Reservation is a hold on a user's balance pending the outcome of a vendor
// call. While pending, the amount counts against Available but has not left
// Total.
type Reservation struct {
	ID        id.ReservationID
	UserID    id.UserID
	Amount    id.Cents
	State     ReservationState
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the hold's TTL has passed at the given instant.
// An expired pending reservation can still be committed until the janitor
// sweeps it; expiry is an upper bound on how long credit stays stranded,
// not a fence against commit.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Balance is a point-in-time view of an account. Available is what new
// reservations check against: Total minus the sum of pending holds.
type Balance struct {
	Total     id.Cents
	Reserved  id.Cents
	Available id.Cents
}
