// Package memory is the in-memory profile cache store, bounded by entry
// count. Used in unit tests and dev mode.
package memory

import (
	"context"
	"sync"
	"time"

	"prism/internal/profilecache"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

type Store struct {
	mu         sync.RWMutex
	entries    map[string]*profilecache.Entry
	maxEntries int
	evictions  int64
}

var _ profilecache.Store = (*Store)(nil)

// New creates a store holding at most maxEntries entries; zero or
// negative means unbounded.
func New(maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]*profilecache.Entry),
		maxEntries: maxEntries,
	}
}

func (s *Store) Lookup(ctx context.Context, key string) (*profilecache.Entry, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.ExpiresAt.Before(now) {
		return nil, sentinel.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (s *Store) LookupMany(ctx context.Context, keys []string) (map[string]*profilecache.Entry, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]*profilecache.Entry, len(keys))
	for _, key := range keys {
		if e, ok := s.entries[key]; ok && !e.ExpiresAt.Before(now) {
			out := *e
			found[key] = &out
		}
	}
	return found, nil
}

func (s *Store) Store(_ context.Context, e *profilecache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}

	cp := *e
	s.entries[e.Key] = &cp
	return nil
}

// evictOldest drops the entry with the oldest EnrichedAt. Caller holds
// the write lock.
func (s *Store) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, e := range s.entries {
		if oldestKey == "" || e.EnrichedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.EnrichedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		s.evictions++
	}
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) PurgeExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int
	for key, e := range s.entries {
		if e.ExpiresAt.Before(cutoff) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *Store) Evictions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evictions, nil
}
