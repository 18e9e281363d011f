// Package vendors defines the adapter boundary between the gateway and the
// enrichment providers it buys data from. The orchestrator sees only the
// Adapter interface; everything vendor-specific (wire format, auth, failure
// modes) stays behind it. Adding a vendor means adding one adapter
// implementation, not branching logic upstream.
package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"prism/pkg/domain"
)

// Adapter is one enrichment vendor as the orchestrator sees it.
type Adapter interface {
	// Name identifies the vendor. Names are unique within a registry.
	Name() string

	// Cost is the fixed per-lookup price charged against the caller's
	// credit balance before the vendor is called.
	Cost() domain.Cents

	// QualityTier orders vendors by data quality. Higher is better; the
	// scale is ordinal, not calibrated.
	QualityTier() int

	// Enrich resolves one canonical profile key into a vendor payload.
	// Failures are returned as *Error so the orchestrator can decide
	// whether the next candidate vendor is worth trying.
	Enrich(ctx context.Context, key domain.ProfileKey) (json.RawMessage, error)

	// Health reports the adapter's current view of the vendor.
	Health(ctx context.Context) error
}

// Adapter kinds accepted in vendor descriptors.
const (
	KindHTTP   = "http"
	KindStatic = "static"
)

// Descriptor declares one vendor as configured. Descriptors are loaded from
// config at startup and are read-only during request processing; Enabled
// gates routing without unregistering the adapter.
type Descriptor struct {
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	BaseURL     string       `json:"base_url,omitempty"`
	APIKey      string       `json:"api_key,omitempty"`
	UnitCost    domain.Cents `json:"unit_cost_cents"`
	QualityTier int          `json:"quality_tier"`
	Enabled     bool         `json:"enabled"`
}

// Validate reports whether the descriptor can be turned into an adapter.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("vendor descriptor: name is required")
	}
	if d.UnitCost < 0 {
		return fmt.Errorf("vendor descriptor %s: unit cost must not be negative", d.Name)
	}
	switch d.Kind {
	case KindHTTP:
		if d.BaseURL == "" {
			return fmt.Errorf("vendor descriptor %s: base_url is required for http vendors", d.Name)
		}
	case KindStatic:
	default:
		return fmt.Errorf("vendor descriptor %s: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// ParseDescriptors decodes the JSON vendor list carried in config and
// validates every entry.
func ParseDescriptors(raw string) ([]Descriptor, error) {
	var descriptors []Descriptor
	if err := json.Unmarshal([]byte(raw), &descriptors); err != nil {
		return nil, fmt.Errorf("parse vendor descriptors: %w", err)
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return descriptors, nil
}

type registryEntry struct {
	adapter Adapter
	enabled bool
}

// Registry holds the configured adapters by name. Registration happens at
// startup; reads during request processing are lock-cheap and the set never
// changes shape mid-flight.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds an adapter under its name. Empty and duplicate names are
// rejected so a misconfigured vendor list fails at startup, not at routing
// time.
func (r *Registry) Register(a Adapter, enabled bool) error {
	if a == nil {
		return fmt.Errorf("register vendor: adapter is nil")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("register vendor: name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register vendor: %q already registered", name)
	}
	r.entries[name] = registryEntry{adapter: a, enabled: enabled}
	return nil
}

// Get returns the adapter registered under name, enabled or not.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// IsEnabled reports whether the named vendor is registered and enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// Enabled returns the adapters eligible for routing, sorted by name.
func (r *Registry) Enabled() []Adapter {
	return r.list(true)
}

// All returns every registered adapter, sorted by name.
func (r *Registry) All() []Adapter {
	return r.list(false)
}

func (r *Registry) list(enabledOnly bool) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.entries))
	for _, e := range r.entries {
		if enabledOnly && !e.enabled {
			continue
		}
		out = append(out, e.adapter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
