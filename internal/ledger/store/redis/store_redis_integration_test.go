//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"prism/internal/ledger"
	ledgerredis "prism/internal/ledger/store/redis"
	id "prism/pkg/domain"
	"prism/pkg/platform/sentinel"
	"prism/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ledgerredis.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = ledgerredis.New(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.redis.FlushAll(ctx)
	s.Require().NoError(err)
}

// Reservation timestamps survive Redis as millisecond integers, so
// fixtures are truncated up front to keep equality assertions exact.
func makeReservation(userID id.UserID, amount id.Cents, expiresAt time.Time) *ledger.Reservation {
	return &ledger.Reservation{
		ID:        id.NewReservationID(),
		UserID:    userID,
		Amount:    amount,
		State:     ledger.StatePending,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt: expiresAt.Truncate(time.Millisecond),
	}
}

func (s *RedisStoreSuite) fundedUser(cents id.Cents) id.UserID {
	userID := id.UserID(uuid.New())
	_, err := s.store.AddCredit(context.Background(), userID, cents)
	s.Require().NoError(err)
	return userID
}

func (s *RedisStoreSuite) TestGetBalance_UnknownAccountReadsZero() {
	balance, err := s.store.GetBalance(context.Background(), id.UserID(uuid.New()))
	s.Require().NoError(err)
	s.Equal(ledger.Balance{}, balance)
}

func (s *RedisStoreSuite) TestReserveCommitLifecycle() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 30, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 100, Reserved: 30, Available: 70}, balance)

	committed, err := s.store.Commit(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(ledger.StateCommitted, committed.State)
	s.Equal(r.Amount, committed.Amount)

	balance, err = s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 70, Reserved: 0, Available: 70}, balance)
}

func (s *RedisStoreSuite) TestGetReservation_RoundTripsFields() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 25, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	stored, err := s.store.GetReservation(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, stored.ID)
	s.Equal(r.UserID, stored.UserID)
	s.Equal(r.Amount, stored.Amount)
	s.Equal(ledger.StatePending, stored.State)
	s.True(r.CreatedAt.Equal(stored.CreatedAt), "created_at must round-trip")
	s.True(r.ExpiresAt.Equal(stored.ExpiresAt), "expires_at must round-trip")
}

func (s *RedisStoreSuite) TestGetReservation_Unknown() {
	_, err := s.store.GetReservation(context.Background(), id.NewReservationID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestReserve_InsufficientCreditLeavesAccountUntouched() {
	ctx := context.Background()
	userID := s.fundedUser(10)

	err := s.store.Reserve(ctx, makeReservation(userID, 25, time.Now().Add(time.Minute)))
	s.Require().ErrorIs(err, ledger.ErrInsufficientCredit)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 10, Reserved: 0, Available: 10}, balance)
}

func (s *RedisStoreSuite) TestReserve_DuplicateIDConflicts() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 10, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	dup := makeReservation(userID, 10, time.Now().Add(time.Minute))
	dup.ID = r.ID
	s.Require().ErrorIs(s.store.Reserve(ctx, dup), sentinel.ErrConflict)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(id.Cents(10), balance.Reserved)
}

func (s *RedisStoreSuite) TestCommit_UnknownReservation() {
	_, err := s.store.Commit(context.Background(), id.NewReservationID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestCommit_TwiceIsInvalidState() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 30, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	_, err := s.store.Commit(ctx, r.ID)
	s.Require().NoError(err)

	_, err = s.store.Commit(ctx, r.ID)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 70, Reserved: 0, Available: 70}, balance)
}

// Expiry is a janitor cutoff, not a fence: a commit that arrives after
// ExpiresAt but before the sweep still wins.
func (s *RedisStoreSuite) TestCommit_ExpiredButUnsweptSucceeds() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 30, time.Now().Add(-time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	committed, err := s.store.Commit(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(ledger.StateCommitted, committed.State)
}

func (s *RedisStoreSuite) TestRelease_RestoresAvailabilityAndIsIdempotent() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 40, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	released, err := s.store.Release(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(ledger.StateReleased, released.State)

	_, err = s.store.Release(ctx, r.ID)
	s.Require().NoError(err)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 100, Reserved: 0, Available: 100}, balance)
}

func (s *RedisStoreSuite) TestRelease_CommittedIsInvalidState() {
	ctx := context.Background()
	userID := s.fundedUser(100)

	r := makeReservation(userID, 40, time.Now().Add(time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, r))

	_, err := s.store.Commit(ctx, r.ID)
	s.Require().NoError(err)

	_, err = s.store.Release(ctx, r.ID)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *RedisStoreSuite) TestReleaseExpired_SweepsOnlyPendingPastCutoff() {
	ctx := context.Background()
	userID := s.fundedUser(100)
	now := time.Now().UTC()

	expired := makeReservation(userID, 10, now.Add(-2*time.Minute))
	fresh := makeReservation(userID, 20, now.Add(time.Hour))
	committed := makeReservation(userID, 5, now.Add(-time.Minute))
	s.Require().NoError(s.store.Reserve(ctx, expired))
	s.Require().NoError(s.store.Reserve(ctx, fresh))
	s.Require().NoError(s.store.Reserve(ctx, committed))
	_, err := s.store.Commit(ctx, committed.ID)
	s.Require().NoError(err)

	swept, err := s.store.ReleaseExpired(ctx, now, 100)
	s.Require().NoError(err)
	s.Require().Len(swept, 1)
	s.Equal(expired.ID, swept[0].ID)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 95, Reserved: 20, Available: 75}, balance)
}

func (s *RedisStoreSuite) TestReleaseExpired_HonorsLimitOldestFirst() {
	ctx := context.Background()
	userID := s.fundedUser(100)
	now := time.Now().UTC()

	oldest := makeReservation(userID, 1, now.Add(-3*time.Minute))
	middle := makeReservation(userID, 1, now.Add(-2*time.Minute))
	newest := makeReservation(userID, 1, now.Add(-time.Minute))
	for _, r := range []*ledger.Reservation{newest, oldest, middle} {
		s.Require().NoError(s.store.Reserve(ctx, r))
	}

	swept, err := s.store.ReleaseExpired(ctx, now, 2)
	s.Require().NoError(err)
	s.Require().Len(swept, 2)
	s.Equal(oldest.ID, swept[0].ID)
	s.Equal(middle.ID, swept[1].ID)

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(id.Cents(1), balance.Reserved)
}

// TestConcurrentReservesNeverOverdraw verifies the check-and-reserve
// script serializes concurrent holds (sum of holds <= balance).
func (s *RedisStoreSuite) TestConcurrentReservesNeverOverdraw() {
	ctx := context.Background()
	userID := s.fundedUser(50)
	const goroutines = 100

	var wg sync.WaitGroup
	var reservedCount atomic.Int32
	var deniedCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.store.Reserve(ctx, makeReservation(userID, 1, time.Now().Add(time.Minute)))
			switch {
			case err == nil:
				reservedCount.Add(1)
			case errors.Is(err, ledger.ErrInsufficientCredit):
				deniedCount.Add(1)
			default:
				s.Failf("unexpected error", "reserve: %v", err)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(50), reservedCount.Load(), "exactly the funded amount should be held")
	s.Equal(int32(goroutines-50), deniedCount.Load(), "remaining requests should be denied")

	balance, err := s.store.GetBalance(ctx, userID)
	s.Require().NoError(err)
	s.Equal(ledger.Balance{Total: 50, Reserved: 50, Available: 0}, balance)
}
