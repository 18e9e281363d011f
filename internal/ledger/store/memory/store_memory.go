// Package memory provides the in-memory ledger store used by unit tests and
// dev mode. A single mutex serializes all mutations, which trivially gives
// the per-user serialization the ledger contract requires.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"prism/internal/ledger"
	id "prism/pkg/domain"
	"prism/pkg/platform/sentinel"
)

type account struct {
	total    id.Cents
	reserved id.Cents
}

// Store keeps accounts and reservations in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	accounts     map[id.UserID]*account
	reservations map[id.ReservationID]*ledger.Reservation
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[id.UserID]*account),
		reservations: make(map[id.ReservationID]*ledger.Reservation),
	}
}

func (s *Store) GetBalance(_ context.Context, userID id.UserID) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Balance{}, nil
	}
	return balanceOf(acct), nil
}

func (s *Store) AddCredit(_ context.Context, userID id.UserID, amount id.Cents) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		acct = &account{}
		s.accounts[userID] = acct
	}
	acct.total += amount
	return balanceOf(acct), nil
}

func (s *Store) Reserve(_ context.Context, r *ledger.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %s: %w", r.ID, sentinel.ErrConflict)
	}

	acct, ok := s.accounts[r.UserID]
	if !ok {
		acct = &account{}
		s.accounts[r.UserID] = acct
	}
	available := acct.total - acct.reserved
	if available < r.Amount {
		return fmt.Errorf("%w: need %s, available %s", ledger.ErrInsufficientCredit, r.Amount, available)
	}

	acct.reserved += r.Amount
	stored := *r
	stored.State = ledger.StatePending
	s.reservations[r.ID] = &stored
	return nil
}

func (s *Store) GetReservation(_ context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[rid]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (s *Store) Commit(_ context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[rid]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	}
	if r.State != ledger.StatePending {
		return nil, fmt.Errorf("commit %s reservation: %w", r.State, sentinel.ErrInvalidState)
	}

	acct := s.accounts[r.UserID]
	acct.total -= r.Amount
	acct.reserved -= r.Amount
	r.State = ledger.StateCommitted

	out := *r
	return &out, nil
}

func (s *Store) Release(_ context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[rid]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	}
	switch r.State {
	case ledger.StateReleased:
		out := *r
		return &out, nil
	case ledger.StateCommitted:
		return nil, fmt.Errorf("release committed reservation: %w", sentinel.ErrInvalidState)
	}

	s.accounts[r.UserID].reserved -= r.Amount
	r.State = ledger.StateReleased

	out := *r
	return &out, nil
}

func (s *Store) ReleaseExpired(_ context.Context, cutoff time.Time, limit int) ([]*ledger.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*ledger.Reservation
	for _, r := range s.reservations {
		if r.State == ledger.StatePending && !r.ExpiresAt.After(cutoff) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	released := make([]*ledger.Reservation, 0, len(expired))
	for _, r := range expired {
		s.accounts[r.UserID].reserved -= r.Amount
		r.State = ledger.StateReleased
		out := *r
		released = append(released, &out)
	}
	return released, nil
}

func balanceOf(acct *account) ledger.Balance {
	return ledger.Balance{
		Total:     acct.total,
		Reserved:  acct.reserved,
		Available: acct.total - acct.reserved,
	}
}
