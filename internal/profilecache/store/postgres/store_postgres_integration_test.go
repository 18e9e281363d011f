//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"prism/internal/profilecache"
	cachepg "prism/internal/profilecache/store/postgres"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
	"prism/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *cachepg.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = cachepg.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "cached_profiles")
	s.Require().NoError(err)
}

func cachedEntry(key string, enrichedAt time.Time, ttl time.Duration) *profilecache.Entry {
	return &profilecache.Entry{
		Key:        key,
		Vendor:     "clearbook",
		Payload:    []byte(`{"name":"Ada Lovelace","emails":["ada@example.com"],"company":{"name":"Analytical Engines"}}`),
		EnrichedAt: enrichedAt,
		ExpiresAt:  enrichedAt.Add(ttl),
	}
}

func (s *PostgresStoreSuite) TestLookup_RoundTripsPayload() {
	ctx := context.Background()
	now := time.Now().UTC()

	e := cachedEntry("email:ada@example.com", now, time.Hour)
	s.Require().NoError(s.store.Store(ctx, e))

	got, err := s.store.Lookup(ctx, "email:ada@example.com")
	s.Require().NoError(err)
	s.Equal(e.Key, got.Key)
	s.Equal(e.Vendor, got.Vendor)
	s.JSONEq(string(e.Payload), string(got.Payload))
	s.WithinDuration(e.EnrichedAt, got.EnrichedAt, time.Millisecond)
	s.WithinDuration(e.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestLookup_MissingKey() {
	_, err := s.store.Lookup(context.Background(), "email:nobody@example.com")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// Freshness follows the request clock, so a test can expire an entry by
// moving time instead of waiting out the TTL.
func (s *PostgresStoreSuite) TestLookup_ExpiredReadsAsMiss() {
	ctx := context.Background()
	now := time.Now().UTC()

	e := cachedEntry("email:old@example.com", now, time.Hour)
	s.Require().NoError(s.store.Store(ctx, e))

	_, err := s.store.Lookup(ctx, "email:old@example.com")
	s.Require().NoError(err, "entry must be fresh on the real clock")

	later := requestcontext.WithTime(ctx, now.Add(time.Hour+time.Second))
	_, err = s.store.Lookup(later, "email:old@example.com")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestStore_UpsertOverwrites() {
	ctx := context.Background()
	now := time.Now().UTC()

	first := cachedEntry("handle:dup", now.Add(-time.Hour), time.Hour)
	s.Require().NoError(s.store.Store(ctx, first))

	second := cachedEntry("handle:dup", now, 2*time.Hour)
	second.Vendor = "peopledata"
	second.Payload = []byte(`{"name":"Ada King"}`)
	s.Require().NoError(s.store.Store(ctx, second))

	got, err := s.store.Lookup(ctx, "handle:dup")
	s.Require().NoError(err)
	s.Equal("peopledata", got.Vendor)
	s.JSONEq(`{"name":"Ada King"}`, string(got.Payload))

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count, "upsert must not duplicate the row")
}

func (s *PostgresStoreSuite) TestLookupMany_ReturnsOnlyFreshMatches() {
	ctx := context.Background()
	now := time.Now().UTC()

	fresh1 := cachedEntry("handle:alpha", now, time.Hour)
	fresh2 := cachedEntry("handle:beta", now, time.Hour)
	stale := cachedEntry("handle:gamma", now.Add(-2*time.Hour), time.Hour)
	for _, e := range []*profilecache.Entry{fresh1, fresh2, stale} {
		s.Require().NoError(s.store.Store(ctx, e))
	}

	found, err := s.store.LookupMany(ctx, []string{"handle:alpha", "handle:beta", "handle:gamma", "handle:absent"})
	s.Require().NoError(err)
	s.Len(found, 2)
	s.Contains(found, "handle:alpha")
	s.Contains(found, "handle:beta")
}

func (s *PostgresStoreSuite) TestLookupMany_EmptyKeys() {
	found, err := s.store.LookupMany(context.Background(), nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Store(ctx, cachedEntry("handle:gone", now, time.Hour)))
	s.Require().NoError(s.store.Delete(ctx, "handle:gone"))

	_, err := s.store.Lookup(ctx, "handle:gone")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.NoError(s.store.Delete(ctx, "handle:never-stored"))
}

func (s *PostgresStoreSuite) TestPurgeExpired() {
	ctx := context.Background()
	now := time.Now().UTC()

	expired1 := cachedEntry("handle:e1", now.Add(-3*time.Hour), time.Hour)
	expired2 := cachedEntry("handle:e2", now.Add(-2*time.Hour), time.Hour)
	fresh := cachedEntry("handle:f", now, time.Hour)
	for _, e := range []*profilecache.Entry{expired1, expired2, fresh} {
		s.Require().NoError(s.store.Store(ctx, e))
	}

	purged, err := s.store.PurgeExpired(ctx, now)
	s.Require().NoError(err)
	s.Equal(2, purged)

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	_, err = s.store.Lookup(ctx, "handle:f")
	s.NoError(err)
}
