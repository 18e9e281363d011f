package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"prism/internal/ledger"
	id "prism/pkg/domain"
	"prism/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	user  id.UserID
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
	s.user = id.UserID(uuid.New())
}

func (s *MemoryStoreSuite) reservation(amount id.Cents, expiresAt time.Time) *ledger.Reservation {
	return &ledger.Reservation{
		ID:        id.NewReservationID(),
		UserID:    s.user,
		Amount:    amount,
		State:     ledger.StatePending,
		CreatedAt: expiresAt.Add(-2 * time.Minute),
		ExpiresAt: expiresAt,
	}
}

func (s *MemoryStoreSuite) TestGetBalance() {
	ctx := context.Background()

	s.Run("unknown account reads as zero balance", func() {
		balance, err := s.store.GetBalance(ctx, id.UserID(uuid.New()))
		s.NoError(err)
		s.Equal(ledger.Balance{}, balance)
	})

	s.Run("reflects credit and holds", func() {
		_, err := s.store.AddCredit(ctx, s.user, 500)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Reserve(ctx, s.reservation(200, time.Now().Add(time.Minute))))

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(500), balance.Total)
		s.Equal(id.Cents(200), balance.Reserved)
		s.Equal(id.Cents(300), balance.Available)
	})
}

func (s *MemoryStoreSuite) TestAddCredit() {
	ctx := context.Background()

	s.Run("creates the account on first top-up", func() {
		balance, err := s.store.AddCredit(ctx, s.user, 100)
		s.NoError(err)
		s.Equal(id.Cents(100), balance.Total)
		s.Equal(id.Cents(100), balance.Available)
	})

	s.Run("accumulates", func() {
		_, err := s.store.AddCredit(ctx, s.user, 50)
		s.Require().NoError(err)
		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(150), balance.Total)
	})
}

func (s *MemoryStoreSuite) TestReserve() {
	ctx := context.Background()

	s.Run("holds the amount without debiting", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)

		s.NoError(s.store.Reserve(ctx, s.reservation(40, time.Now().Add(time.Minute))))

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(100), balance.Total)
		s.Equal(id.Cents(60), balance.Available)
	})

	s.Run("denies when available cannot cover it", func() {
		err := s.store.Reserve(ctx, s.reservation(61, time.Now().Add(time.Minute)))
		s.ErrorIs(err, ledger.ErrInsufficientCredit)

		// Denial leaves the account untouched.
		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(40), balance.Reserved)
	})

	s.Run("exactly available succeeds", func() {
		s.NoError(s.store.Reserve(ctx, s.reservation(60, time.Now().Add(time.Minute))))

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(0), balance.Available)
	})

	s.Run("unknown account denies any positive amount", func() {
		r := s.reservation(1, time.Now().Add(time.Minute))
		r.UserID = id.UserID(uuid.New())
		s.ErrorIs(s.store.Reserve(ctx, r), ledger.ErrInsufficientCredit)
	})

	s.Run("duplicate reservation id conflicts", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(10, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))
		s.ErrorIs(s.store.Reserve(ctx, r), sentinel.ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestCommit() {
	ctx := context.Background()

	s.Run("converts the hold into a debit", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(30, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))

		committed, err := s.store.Commit(ctx, r.ID)
		s.NoError(err)
		s.Equal(ledger.StateCommitted, committed.State)
		s.Equal(id.Cents(30), committed.Amount)

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(70), balance.Total)
		s.Equal(id.Cents(0), balance.Reserved)
		s.Equal(id.Cents(70), balance.Available)
	})

	s.Run("unknown reservation is not found", func() {
		_, err := s.store.Commit(ctx, id.NewReservationID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("double commit is invalid state", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(10, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))
		_, err = s.store.Commit(ctx, r.ID)
		s.Require().NoError(err)

		_, err = s.store.Commit(ctx, r.ID)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("committing a released reservation is invalid state", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(10, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))
		_, err = s.store.Release(ctx, r.ID)
		s.Require().NoError(err)

		_, err = s.store.Commit(ctx, r.ID)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *MemoryStoreSuite) TestRelease() {
	ctx := context.Background()

	s.Run("returns the hold to the account", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(25, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))

		released, err := s.store.Release(ctx, r.ID)
		s.NoError(err)
		s.Equal(ledger.StateReleased, released.State)

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(100), balance.Total)
		s.Equal(id.Cents(100), balance.Available)
	})

	s.Run("releasing twice is a no-op", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(25, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))
		_, err = s.store.Release(ctx, r.ID)
		s.Require().NoError(err)

		again, err := s.store.Release(ctx, r.ID)
		s.NoError(err)
		s.Equal(ledger.StateReleased, again.State)

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		s.Equal(id.Cents(100), balance.Available)
	})

	s.Run("releasing a committed reservation is invalid state", func() {
		_, err := s.store.AddCredit(ctx, s.user, 100)
		s.Require().NoError(err)
		r := s.reservation(25, time.Now().Add(time.Minute))
		s.Require().NoError(s.store.Reserve(ctx, r))
		_, err = s.store.Commit(ctx, r.ID)
		s.Require().NoError(err)

		_, err = s.store.Release(ctx, r.ID)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *MemoryStoreSuite) TestReleaseExpired() {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.store.AddCredit(ctx, s.user, 1000)
	s.Require().NoError(err)

	oldest := s.reservation(10, now.Add(-3*time.Minute))
	older := s.reservation(20, now.Add(-1*time.Minute))
	fresh := s.reservation(30, now.Add(5*time.Minute))
	for _, r := range []*ledger.Reservation{oldest, older, fresh} {
		s.Require().NoError(s.store.Reserve(ctx, r))
	}
	committed := s.reservation(40, now.Add(-2*time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, committed))
	_, err = s.store.Commit(ctx, committed.ID)
	s.Require().NoError(err)

	s.Run("limit releases oldest first", func() {
		released, err := s.store.ReleaseExpired(ctx, now, 1)
		s.NoError(err)
		s.Require().Len(released, 1)
		s.Equal(oldest.ID, released[0].ID)
		s.Equal(ledger.StateReleased, released[0].State)
	})

	s.Run("sweeps remaining pending past cutoff, skipping committed and fresh", func() {
		released, err := s.store.ReleaseExpired(ctx, now, 10)
		s.NoError(err)
		s.Require().Len(released, 1)
		s.Equal(older.ID, released[0].ID)

		balance, err := s.store.GetBalance(ctx, s.user)
		s.NoError(err)
		// 1000 credited, 40 committed; only the fresh 30 still held.
		s.Equal(id.Cents(960), balance.Total)
		s.Equal(id.Cents(30), balance.Reserved)
	})

	s.Run("nothing to sweep returns empty", func() {
		released, err := s.store.ReleaseExpired(ctx, now, 10)
		s.NoError(err)
		s.Empty(released)
	})
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	store := New()
	user := id.UserID(uuid.New())

	if _, err := store.AddCredit(ctx, user, 50); err != nil {
		t.Fatalf("AddCredit: %v", err)
	}

	const goroutines = 100
	results := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			results <- store.Reserve(ctx, &ledger.Reservation{
				ID:        id.NewReservationID(),
				UserID:    user,
				Amount:    1,
				State:     ledger.StatePending,
				CreatedAt: time.Now(),
				ExpiresAt: time.Now().Add(time.Minute),
			})
		}()
	}

	succeeded, denied := 0, 0
	for i := 0; i < goroutines; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientCredit):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 50 || denied != 50 {
		t.Fatalf("want 50 succeeded / 50 denied, got %d / %d", succeeded, denied)
	}

	balance, err := store.GetBalance(ctx, user)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Reserved != 50 || balance.Available != 0 {
		t.Fatalf("want everything held, got %+v", balance)
	}
}
