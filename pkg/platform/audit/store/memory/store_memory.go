package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	id "prism/pkg/domain"
	audit "prism/pkg/platform/audit"
)

// InMemoryStore keeps audit entries in append order. Used by unit
// tests and dev mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
	seen    map[id.EntryID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[id.EntryID]struct{})}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.seen = make(map[id.EntryID]struct{})
}

func (s *InMemoryStore) Append(ctx context.Context, entry audit.Entry) error {
	entryID := entry.ID
	if entryID.IsZero() {
		entryID = id.NewEntryID()
	}
	return s.AppendWithID(ctx, entryID, entry)
}

func (s *InMemoryStore) AppendWithID(_ context.Context, entryID id.EntryID, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[entryID]; dup {
		return nil
	}

	entry.ID = entryID
	s.seen[entryID] = struct{}{}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backward so entries appended later win timestamp ties after
	// the stable sort.
	var matched []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !q.UserID.IsZero() && e.UserID != q.UserID {
			continue
		}
		if !q.From.IsZero() && e.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *InMemoryStore) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return s.Query(ctx, audit.Query{Limit: limit})
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	deleted := 0
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			delete(s.seen, e.ID)
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}
