package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/ledger"
	ledgermemory "prism/internal/ledger/store/memory"
	id "prism/pkg/domain"
	"prism/pkg/platform/audit"
	auditmemory "prism/pkg/platform/audit/store/memory"
	"prism/pkg/platform/audit/publisher"
)

func reserve(t *testing.T, store *ledgermemory.Store, userID id.UserID, amount id.Cents, expiresAt time.Time) *ledger.Reservation {
	t.Helper()
	r := &ledger.Reservation{
		ID:        id.NewReservationID(),
		UserID:    userID,
		Amount:    amount,
		State:     ledger.StatePending,
		CreatedAt: expiresAt.Add(-2 * time.Minute),
		ExpiresAt: expiresAt,
	}
	require.NoError(t, store.Reserve(context.Background(), r))
	return r
}

func TestSweep_ReleasesExpiredAndEmitsAudit(t *testing.T) {
	ctx := context.Background()
	store := ledgermemory.New()
	auditStore := auditmemory.NewInMemoryStore()
	userID := id.UserID(uuid.New())

	_, err := store.AddCredit(ctx, userID, 100)
	require.NoError(t, err)

	expired := reserve(t, store, userID, 30, time.Now().Add(-time.Minute))
	fresh := reserve(t, store, userID, 20, time.Now().Add(time.Hour))

	j := New(store, WithAuditPublisher(publisher.NewPublisher(auditStore)))
	j.Sweep(ctx)

	got, err := store.GetReservation(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateReleased, got.State)

	got, err = store.GetReservation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, got.State)

	balance, err := store.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, id.Cents(20), balance.Reserved)

	entries, err := auditStore.Query(ctx, audit.Query{UserID: userID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventReservationExpired, entries[0].Event)
	assert.Equal(t, audit.CategoryOperations, entries[0].Category)
	assert.Equal(t, id.Cents(30), entries[0].Cost)
	assert.False(t, entries[0].Success)
}

func TestSweep_QuietWhenNothingExpired(t *testing.T) {
	ctx := context.Background()
	store := ledgermemory.New()
	auditStore := auditmemory.NewInMemoryStore()
	userID := id.UserID(uuid.New())

	_, err := store.AddCredit(ctx, userID, 100)
	require.NoError(t, err)
	reserve(t, store, userID, 10, time.Now().Add(time.Hour))

	j := New(store, WithAuditPublisher(publisher.NewPublisher(auditStore)))
	j.Sweep(ctx)

	entries, err := auditStore.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweep_HonorsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := ledgermemory.New()
	userID := id.UserID(uuid.New())

	_, err := store.AddCredit(ctx, userID, 100)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		reserve(t, store, userID, 1, time.Now().Add(-time.Minute))
	}

	j := New(store, WithBatchSize(2))
	j.Sweep(ctx)

	balance, err := store.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, id.Cents(3), balance.Reserved, "one sweep releases at most the batch size")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := ledgermemory.New()
	j := New(store, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
