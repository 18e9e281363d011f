package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/profilecache"
	cachememory "prism/internal/profilecache/store/memory"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

var testClock = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func newTestService(opts ...Option) (*Service, *cachememory.Store) {
	store := cachememory.New(0)
	return New(store, opts...), store
}

func clockCtx(at time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), at)
}

func TestLookup_MissThenHit(t *testing.T) {
	svc, _ := newTestService()
	ctx := clockCtx(testClock)

	_, err := svc.Lookup(ctx, "email:ada@example.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	payload := json.RawMessage(`{"name":"Ada Lovelace"}`)
	require.NoError(t, svc.Store(ctx, "email:ada@example.com", payload, "clearbook", time.Hour))

	later := clockCtx(testClock.Add(30 * time.Minute))
	hit, err := svc.Lookup(later, "email:ada@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(hit.Payload))
	assert.Equal(t, "clearbook", hit.Vendor)
	assert.True(t, hit.EnrichedAt.Equal(testClock))
	assert.Equal(t, 30*time.Minute, hit.Age)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, int64(1), stats.EntryCount)
}

func TestLookup_RequiresKey(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Lookup(context.Background(), "")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeInvalidInput, "profile key is required"))
}

func TestLookup_ExpiredEntryIsMiss(t *testing.T) {
	svc, _ := newTestService()
	ctx := clockCtx(testClock)

	payload := json.RawMessage(`{"name":"Ada Lovelace"}`)
	require.NoError(t, svc.Store(ctx, "email:ada@example.com", payload, "clearbook", time.Hour))

	_, err := svc.Lookup(clockCtx(testClock.Add(59*time.Minute)), "email:ada@example.com")
	require.NoError(t, err, "entry must be fresh inside the ttl")

	_, err = svc.Lookup(clockCtx(testClock.Add(61*time.Minute)), "email:ada@example.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestLookup_CorruptPayloadPurgedAndReportedAsMiss(t *testing.T) {
	svc, store := newTestService()
	ctx := clockCtx(testClock)

	// Service writes are validated, so corruption is seeded at the store.
	require.NoError(t, store.Store(ctx, &profilecache.Entry{
		Key:        "email:broken@example.com",
		Vendor:     "clearbook",
		Payload:    json.RawMessage(`{"name":`),
		EnrichedAt: testClock,
		ExpiresAt:  testClock.Add(time.Hour),
	}))

	_, err := svc.Lookup(ctx, "email:broken@example.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// The corrupt entry is gone, not just skipped.
	_, err = store.Lookup(ctx, "email:broken@example.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.HitRate, "corruption counts as a miss")
	assert.Zero(t, stats.EntryCount)
}

func TestStore_Validations(t *testing.T) {
	svc, _ := newTestService()
	ctx := clockCtx(testClock)
	valid := json.RawMessage(`{"ok":true}`)

	tests := []struct {
		name    string
		key     string
		payload json.RawMessage
		vendor  string
		ttl     time.Duration
	}{
		{name: "missing key", key: "", payload: valid, vendor: "clearbook"},
		{name: "missing vendor", key: "handle:x", payload: valid, vendor: ""},
		{name: "empty payload", key: "handle:x", payload: nil, vendor: "clearbook"},
		{name: "invalid json", key: "handle:x", payload: json.RawMessage(`{"a":`), vendor: "clearbook"},
		{name: "negative ttl", key: "handle:x", payload: valid, vendor: "clearbook", ttl: -time.Hour},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Store(ctx, tc.key, tc.payload, tc.vendor, tc.ttl)
			require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestStore_ZeroTTLUsesConfiguredDefault(t *testing.T) {
	svc, _ := newTestService(WithTTL(48 * time.Hour))
	ctx := clockCtx(testClock)

	payload := json.RawMessage(`{"name":"Ada Lovelace"}`)
	require.NoError(t, svc.Store(ctx, "email:ada@example.com", payload, "clearbook", 0))

	_, err := svc.Lookup(clockCtx(testClock.Add(47*time.Hour)), "email:ada@example.com")
	require.NoError(t, err)

	_, err = svc.Lookup(clockCtx(testClock.Add(49*time.Hour)), "email:ada@example.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestLookupMany_OmitsMissesWithoutCountingThem(t *testing.T) {
	svc, store := newTestService()
	ctx := clockCtx(testClock)

	require.NoError(t, svc.Store(ctx, "handle:alpha", json.RawMessage(`{"a":1}`), "clearbook", time.Hour))
	require.NoError(t, store.Store(ctx, &profilecache.Entry{
		Key:        "handle:broken",
		Vendor:     "clearbook",
		Payload:    json.RawMessage(`not json`),
		EnrichedAt: testClock,
		ExpiresAt:  testClock.Add(time.Hour),
	}))

	found, err := svc.LookupMany(ctx, []string{"handle:alpha", "handle:broken", "handle:absent"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found, "handle:alpha")

	// One hit, one corruption-miss; the absent key is left to the
	// per-key path.
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestStats_ReportsEvictions(t *testing.T) {
	store := cachememory.New(1)
	svc := New(store)
	ctx := clockCtx(testClock)

	require.NoError(t, svc.Store(ctx, "handle:first", json.RawMessage(`{"a":1}`), "clearbook", time.Hour))
	require.NoError(t, svc.Store(ctx, "handle:second", json.RawMessage(`{"b":2}`), "clearbook", time.Hour))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EntryCount)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestStats_ZeroLookupsMeansZeroRate(t *testing.T) {
	svc, _ := newTestService()

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.HitRate)
}
