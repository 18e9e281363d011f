// Package staticvendor provides an in-process enrichment vendor for dev mode
// and tests. It synthesizes a deterministic payload from the profile key, so
// repeated calls for the same key return identical bytes, and supports
// latency and failure injection.
package staticvendor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"prism/internal/vendors"
	"prism/pkg/domain"
	"prism/pkg/email"
)

var errInjected = errors.New("injected failure")

// Adapter is a deterministic vendor. The zero configuration always succeeds
// immediately; latency and failures are opt-in.
type Adapter struct {
	name        string
	cost        domain.Cents
	qualityTier int
	latency     time.Duration

	mu            sync.Mutex
	failCategory  vendors.Category
	failRemaining int
	calls         int64
}

var _ vendors.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLatency makes every call wait before answering, bounded by the caller's
// context.
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.latency = d
		}
	}
}

// New creates a static vendor with the given name, unit cost, and quality
// tier.
func New(name string, cost domain.Cents, qualityTier int, opts ...Option) *Adapter {
	a := &Adapter{name: name, cost: cost, qualityTier: qualityTier}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string       { return a.name }
func (a *Adapter) Cost() domain.Cents { return a.cost }
func (a *Adapter) QualityTier() int   { return a.qualityTier }

// Fail makes the next n Enrich calls fail with the given category. n < 0
// keeps failing until Recover is called.
func (a *Adapter) Fail(category vendors.Category, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 {
		a.failCategory = ""
		a.failRemaining = 0
		return
	}
	a.failCategory = category
	a.failRemaining = n
}

// Recover clears any injected failure.
func (a *Adapter) Recover() {
	a.Fail("", 0)
}

// Calls reports how many times Enrich ran, injected failures included.
func (a *Adapter) Calls() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Health mirrors the injected failure state.
func (a *Adapter) Health(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCategory != "" {
		return fmt.Errorf("vendor %s: %s failure injected", a.name, a.failCategory)
	}
	return nil
}

// Enrich synthesizes a payload for the key, honoring injected latency and
// failures.
func (a *Adapter) Enrich(ctx context.Context, key domain.ProfileKey) (json.RawMessage, error) {
	a.mu.Lock()
	a.calls++
	category := a.failCategory
	if category != "" && a.failRemaining > 0 {
		a.failRemaining--
		if a.failRemaining == 0 {
			a.failCategory = ""
		}
	}
	a.mu.Unlock()

	if a.latency > 0 {
		select {
		case <-time.After(a.latency):
		case <-ctx.Done():
			return nil, &vendors.Error{Vendor: a.name, Category: vendors.CategoryTimeout, Err: ctx.Err()}
		}
	}

	if category != "" {
		return nil, &vendors.Error{Vendor: a.name, Category: category, Err: errInjected}
	}
	return synthesize(a.name, key), nil
}

type syntheticProfile struct {
	ProfileKey  string  `json:"profile_key"`
	Kind        string  `json:"kind"`
	DisplayName string  `json:"display_name"`
	GivenName   string  `json:"given_name,omitempty"`
	FamilyName  string  `json:"family_name,omitempty"`
	Fingerprint string  `json:"fingerprint"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

// synthesize derives a stable pseudo-profile from the key: the fingerprint
// and confidence come from its hash, so equal keys always produce equal
// payloads and distinct keys almost surely differ.
func synthesize(source string, key domain.ProfileKey) json.RawMessage {
	sum := sha256.Sum256([]byte(key))
	p := syntheticProfile{
		ProfileKey:  key.String(),
		Kind:        string(key.Kind()),
		DisplayName: key.Value(),
		Fingerprint: hex.EncodeToString(sum[:8]),
		Confidence:  0.5 + float64(sum[0])/512,
		Source:      source,
	}
	if key.Kind() == domain.KindEmail {
		p.GivenName, p.FamilyName = email.SplitName(key.Value())
	}
	b, err := json.Marshal(p)
	if err != nil {
		// A flat struct of strings and a finite float cannot fail to encode.
		panic(err)
	}
	return b
}
