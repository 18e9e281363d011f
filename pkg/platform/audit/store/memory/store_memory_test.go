package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "prism/pkg/domain"
	audit "prism/pkg/platform/audit"
)

func entryAt(userID id.UserID, event audit.AuditEvent, ts time.Time) audit.Entry {
	return audit.Entry{UserID: userID, Event: event, Timestamp: ts}
}

func TestInMemoryStore_AppendWithID_Idempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	entryID := id.NewEntryID()
	userID := id.UserID(uuid.New())
	entry := entryAt(userID, audit.EventEnrichmentCompleted, time.Now())

	require.NoError(t, store.AppendWithID(ctx, entryID, entry))
	require.NoError(t, store.AppendWithID(ctx, entryID, entry))

	entries, err := store.Query(ctx, audit.Query{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "duplicate IDs must not create duplicate entries")
}

func TestInMemoryStore_Query_Filters(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	alice := id.UserID(uuid.New())
	bob := id.UserID(uuid.New())
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, entryAt(alice, audit.EventEnrichmentCompleted, base)))
	require.NoError(t, store.Append(ctx, entryAt(alice, audit.EventEnrichmentFailed, base.Add(time.Hour))))
	require.NoError(t, store.Append(ctx, entryAt(bob, audit.EventCreditAdded, base.Add(2*time.Hour))))

	t.Run("by user", func(t *testing.T) {
		entries, err := store.Query(ctx, audit.Query{UserID: alice})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by time window", func(t *testing.T) {
		entries, err := store.Query(ctx, audit.Query{
			From: base.Add(30 * time.Minute),
			To:   base.Add(90 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, audit.EventEnrichmentFailed, entries[0].Event)
	})

	t.Run("limit caps newest first", func(t *testing.T) {
		entries, err := store.Query(ctx, audit.Query{Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, audit.EventCreditAdded, entries[0].Event)
		assert.Equal(t, audit.EventEnrichmentFailed, entries[1].Event)
	})
}

func TestInMemoryStore_ListRecent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	userID := id.UserID(uuid.New())
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.Append(ctx, entryAt(userID, audit.EventVendorAttempt, base.Add(time.Duration(i)*time.Minute))))
	}

	entries, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, base.Add(4*time.Minute), entries[0].Timestamp)
}

func TestInMemoryStore_DeleteOlderThan(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	userID := id.UserID(uuid.New())
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, entryAt(userID, audit.EventEnrichmentCompleted, cutoff.Add(-time.Hour))))
	require.NoError(t, store.Append(ctx, entryAt(userID, audit.EventEnrichmentCompleted, cutoff)))
	require.NoError(t, store.Append(ctx, entryAt(userID, audit.EventEnrichmentCompleted, cutoff.Add(time.Hour))))

	deleted, err := store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "only entries strictly older than the cutoff are removed")

	remaining, err := store.Query(ctx, audit.Query{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
