// Package service fronts the profile cache store with freshness
// accounting and corruption handling. A corrupt payload is counted,
// logged, purged, and reported as a miss so the caller re-enriches.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"prism/internal/platform/metrics"
	"prism/internal/profilecache"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

// DefaultTTL is how long an enrichment is served from cache before the
// next request pays a vendor again.
const DefaultTTL = 30 * 24 * time.Hour

type Service struct {
	store   profilecache.Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	hits        atomic.Int64
	misses      atomic.Int64
	corruptions atomic.Int64
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store profilecache.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the cached profile for key, or sentinel.ErrNotFound on
// a miss. Expired and corrupt entries are misses.
func (s *Service) Lookup(ctx context.Context, key string) (*profilecache.Hit, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profile key is required")
	}

	e, err := s.store.Lookup(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.recordMiss()
		return nil, sentinel.ErrNotFound
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cache lookup failed")
	}

	if corrupt(e.Payload) {
		s.quarantine(ctx, e)
		return nil, sentinel.ErrNotFound
	}

	s.recordHit()
	return hitFrom(e, requestcontext.Now(ctx)), nil
}

// LookupMany returns the cached profiles among keys; absent, expired,
// and corrupt keys are omitted. Found keys count as hits; missing keys
// are not counted because callers fall back to the per-key path, which
// does the miss accounting.
func (s *Service) LookupMany(ctx context.Context, keys []string) (map[string]*profilecache.Hit, error) {
	entries, err := s.store.LookupMany(ctx, keys)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cache lookup failed")
	}

	now := requestcontext.Now(ctx)
	found := make(map[string]*profilecache.Hit, len(entries))
	for key, e := range entries {
		if corrupt(e.Payload) {
			s.quarantine(ctx, e)
			continue
		}
		s.recordHit()
		found[key] = hitFrom(e, now)
	}
	return found, nil
}

// Store caches payload under key. Zero ttl means the configured
// default.
func (s *Service) Store(ctx context.Context, key string, payload json.RawMessage, vendor string, ttl time.Duration) error {
	if key == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "profile key is required")
	}
	if vendor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "vendor is required")
	}
	if corrupt(payload) {
		return dErrors.New(dErrors.CodeInvalidInput, "payload must be valid JSON")
	}
	if ttl < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "ttl must not be negative")
	}
	if ttl == 0 {
		ttl = s.ttl
	}

	now := requestcontext.Now(ctx)
	err := s.store.Store(ctx, &profilecache.Entry{
		Key:        key,
		Vendor:     vendor,
		Payload:    payload,
		EnrichedAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cache profile")
	}

	s.logger.DebugContext(ctx, "profile cached",
		"profile_key", key,
		"vendor", vendor,
		"ttl", ttl,
	)
	return nil
}

// Stats reports hit rate, entry count and evictions. Hit rate covers
// the process lifetime.
func (s *Service) Stats(ctx context.Context) (profilecache.Stats, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return profilecache.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cache stats")
	}
	evictions, err := s.store.Evictions(ctx)
	if err != nil {
		return profilecache.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cache stats")
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return profilecache.Stats{
		HitRate:    rate,
		EntryCount: count,
		Evictions:  evictions,
	}, nil
}

func (s *Service) recordHit() {
	s.hits.Add(1)
	s.metrics.IncCacheHit()
}

func (s *Service) recordMiss() {
	s.misses.Add(1)
	s.metrics.IncCacheMiss()
}

// quarantine counts a corrupt entry as a miss and purges it so the next
// enrichment overwrites it with a clean payload.
func (s *Service) quarantine(ctx context.Context, e *profilecache.Entry) {
	s.corruptions.Add(1)
	s.misses.Add(1)
	s.metrics.IncCacheCorruption()
	s.metrics.IncCacheMiss()

	s.logger.WarnContext(ctx, "purging corrupt cache entry",
		"profile_key", e.Key,
		"vendor", e.Vendor,
	)
	if err := s.store.Delete(ctx, e.Key); err != nil {
		s.logger.ErrorContext(ctx, "failed to purge corrupt cache entry",
			"profile_key", e.Key,
			"error", err,
		)
	}
}

func corrupt(payload json.RawMessage) bool {
	return len(payload) == 0 || !json.Valid(payload)
}

func hitFrom(e *profilecache.Entry, now time.Time) *profilecache.Hit {
	return &profilecache.Hit{
		Payload:    e.Payload,
		Vendor:     e.Vendor,
		EnrichedAt: e.EnrichedAt,
		Age:        now.Sub(e.EnrichedAt),
	}
}
