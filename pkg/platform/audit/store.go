package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "prism/pkg/domain"
)

// Store persists audit entries. Entries are append-only; the only
// delete surface is retention enforcement below the configured floor.
type Store interface {
	// Append writes an entry, assigning an ID when the entry carries none.
	Append(ctx context.Context, entry Entry) error
	// AppendWithID writes an entry under a caller-chosen ID. Idempotent:
	// re-appending an existing ID is a no-op.
	AppendWithID(ctx context.Context, entryID id.EntryID, entry Entry) error
	// Query returns entries matching q, newest first.
	Query(ctx context.Context, q Query) ([]Entry, error)
	// ListRecent returns the most recent entries across all users.
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	// DeleteOlderThan removes entries strictly older than cutoff and
	// reports how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// OutboxRecord is one unpublished audit entry awaiting relay to Kafka.
type OutboxRecord struct {
	ID      uuid.UUID
	Key     []byte
	Payload []byte
}

// OutboxSource is implemented by stores that keep a transactional
// outbox alongside the entries table.
type OutboxSource interface {
	// ListOutboxPending returns up to limit unpublished rows in creation order.
	ListOutboxPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	// MarkPublished stamps rows as delivered after an acknowledged produce.
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
	// CountPending reports how many rows await publication.
	CountPending(ctx context.Context) (int, error)
}
