package retention

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "prism/pkg/domain"
	audit "prism/pkg/platform/audit"
	"prism/pkg/platform/audit/store/memory"
)

func TestWorker_SweepRemovesOnlyExpired(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	retention := 2 * 365 * 24 * time.Hour
	now := time.Now()

	require.NoError(t, store.Append(ctx, audit.Entry{
		UserID:    userID,
		Event:     audit.EventEnrichmentCompleted,
		Timestamp: now.Add(-retention - 24*time.Hour),
	}))
	require.NoError(t, store.Append(ctx, audit.Entry{
		UserID:    userID,
		Event:     audit.EventEnrichmentCompleted,
		Timestamp: now.Add(-time.Hour),
	}))

	w := NewWorker(store, retention, time.Hour, slog.Default())
	w.sweep(ctx)

	remaining, err := store.Query(ctx, audit.Query{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "entries within the retention window must survive")
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := memory.NewInMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(store, time.Hour, time.Hour, slog.Default())
	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
