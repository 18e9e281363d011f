package staticvendor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/vendors"
	"prism/pkg/domain"
)

func key(t *testing.T, raw string) domain.ProfileKey {
	t.Helper()
	k, err := domain.CanonicalProfileKey(raw)
	require.NoError(t, err)
	return k
}

func TestEnrich_DeterministicPayload(t *testing.T) {
	a := New("fixture", 1, 1)
	ctx := context.Background()

	first, err := a.Enrich(ctx, key(t, "ada@acme.dev"))
	require.NoError(t, err)
	second, err := a.Enrich(ctx, key(t, "Ada@ACME.dev"))
	require.NoError(t, err)

	// Canonicalization makes these the same key, so the bytes must match.
	assert.Equal(t, string(first), string(second))

	var p struct {
		ProfileKey  string  `json:"profile_key"`
		Kind        string  `json:"kind"`
		GivenName   string  `json:"given_name"`
		FamilyName  string  `json:"family_name"`
		Fingerprint string  `json:"fingerprint"`
		Confidence  float64 `json:"confidence"`
		Source      string  `json:"source"`
	}
	require.NoError(t, json.Unmarshal(first, &p))
	assert.Equal(t, "email:ada@acme.dev", p.ProfileKey)
	assert.Equal(t, "email", p.Kind)
	assert.Equal(t, "Ada", p.GivenName)
	assert.Empty(t, p.FamilyName, "single-token local part has no family name")
	assert.Equal(t, "fixture", p.Source)
	assert.NotEmpty(t, p.Fingerprint)
	assert.GreaterOrEqual(t, p.Confidence, 0.5)
	assert.LessOrEqual(t, p.Confidence, 1.0)

	other, err := a.Enrich(ctx, key(t, "grace@acme.dev"))
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(other))
}

func TestEnrich_FailureInjection(t *testing.T) {
	a := New("fixture", 1, 1)
	ctx := context.Background()

	a.Fail(vendors.CategoryOutage, 1)
	require.Error(t, a.Health(ctx))

	_, err := a.Enrich(ctx, key(t, "ada@acme.dev"))
	var verr *vendors.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fixture", verr.Vendor)
	assert.Equal(t, vendors.CategoryOutage, verr.Category)

	// The injection was for one call only.
	_, err = a.Enrich(ctx, key(t, "ada@acme.dev"))
	require.NoError(t, err)
	assert.NoError(t, a.Health(ctx))
	assert.EqualValues(t, 2, a.Calls())
}

func TestEnrich_FailUntilRecover(t *testing.T) {
	a := New("fixture", 1, 1)
	ctx := context.Background()
	k := key(t, "ada@acme.dev")

	a.Fail(vendors.CategoryTimeout, -1)
	for range 3 {
		_, err := a.Enrich(ctx, k)
		require.Error(t, err)
	}

	a.Recover()
	_, err := a.Enrich(ctx, k)
	require.NoError(t, err)
	assert.EqualValues(t, 4, a.Calls())
}

func TestEnrich_LatencyInjection(t *testing.T) {
	a := New("fixture", 1, 1, WithLatency(200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Enrich(ctx, key(t, "ada@acme.dev"))
	var verr *vendors.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, vendors.CategoryTimeout, verr.Category)

	quick := New("fixture", 1, 1, WithLatency(5*time.Millisecond))
	_, err = quick.Enrich(context.Background(), key(t, "ada@acme.dev"))
	require.NoError(t, err)
}
