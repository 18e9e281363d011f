package profilecache

import (
	"context"
	"time"
)

// Store persists cache entries. Freshness is decided inside the store
// against the request-scoped clock so tests can move time; an entry is
// fresh while now <= ExpiresAt. Stores return sentinel errors.
type Store interface {
	// Lookup returns the fresh entry for key, or sentinel.ErrNotFound
	// when the key is absent or expired.
	Lookup(ctx context.Context, key string) (*Entry, error)

	// LookupMany returns the fresh entries among keys. Absent and
	// expired keys are omitted, not errors. Used for batch warm-up.
	LookupMany(ctx context.Context, keys []string) (map[string]*Entry, error)

	// Store writes or overwrites the entry for e.Key. Writes are
	// atomic: readers see the old entry or the new one, never a blend.
	Store(ctx context.Context, e *Entry) error

	// Delete removes the entry if present. Deleting an absent key is
	// not an error. Used to purge corrupt payloads.
	Delete(ctx context.Context, key string) error

	// PurgeExpired removes entries whose ExpiresAt is strictly before
	// cutoff and reports how many were removed.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	// Count reports how many entries the store currently holds,
	// including expired rows the purge worker has not swept yet.
	Count(ctx context.Context) (int64, error)

	// Evictions reports how many entries were dropped to make room for
	// new ones. Always zero for unbounded stores.
	Evictions(ctx context.Context) (int64, error)
}
