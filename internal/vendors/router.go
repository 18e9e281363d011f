package vendors

import (
	"fmt"
	"sort"

	dErrors "prism/pkg/domain-errors"
)

// Preference selects how the router orders candidate vendors. The two named
// strategies are recognized explicitly; any other non-empty value is read as
// an explicit vendor name.
type Preference string

const (
	// PreferenceCheapest orders by ascending unit cost.
	PreferenceCheapest Preference = "cheapest"
	// PreferenceHighestQuality orders by descending quality tier.
	PreferenceHighestQuality Preference = "highest_quality"
)

// Router turns a routing preference into an ordered candidate list. The
// orchestrator calls the first candidate and falls back to the second on a
// retryable failure; it never goes deeper than one fallback.
type Router struct {
	registry *Registry
}

// NewRouter creates a Router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Candidates returns the enabled adapters in preference order.
//
// An empty preference defaults to cheapest. An explicit vendor name yields
// that single vendor; if it is unknown or disabled the call fails with
// vendor_unavailable, unless allowFallback is set, in which case the
// cheapest enabled alternative stands in. With allowFallback an eligible
// explicit choice also gets the cheapest alternative appended after it.
func (r *Router) Candidates(pref Preference, allowFallback bool) ([]Adapter, error) {
	enabled := r.registry.Enabled()
	if len(enabled) == 0 {
		return nil, ErrNoVendorsAvailable
	}

	switch pref {
	case "", PreferenceCheapest:
		sortCheapest(enabled)
		return enabled, nil
	case PreferenceHighestQuality:
		sortHighestQuality(enabled)
		return enabled, nil
	}

	// Anything else names a vendor explicitly.
	name := string(pref)
	explicit, ok := r.registry.Get(name)
	eligible := ok && r.registry.IsEnabled(name)

	if !eligible {
		if !allowFallback {
			return nil, dErrors.New(dErrors.CodeVendorUnavailable,
				fmt.Sprintf("vendor %q is not available", name))
		}
		sortCheapest(enabled)
		return enabled[:1], nil
	}

	if !allowFallback {
		return []Adapter{explicit}, nil
	}

	candidates := []Adapter{explicit}
	sortCheapest(enabled)
	for _, alt := range enabled {
		if alt.Name() != name {
			candidates = append(candidates, alt)
			break
		}
	}
	return candidates, nil
}

func sortCheapest(adapters []Adapter) {
	sort.Slice(adapters, func(i, j int) bool {
		if adapters[i].Cost() != adapters[j].Cost() {
			return adapters[i].Cost() < adapters[j].Cost()
		}
		return adapters[i].Name() < adapters[j].Name()
	})
}

func sortHighestQuality(adapters []Adapter) {
	sort.Slice(adapters, func(i, j int) bool {
		if adapters[i].QualityTier() != adapters[j].QualityTier() {
			return adapters[i].QualityTier() > adapters[j].QualityTier()
		}
		if adapters[i].Cost() != adapters[j].Cost() {
			return adapters[i].Cost() < adapters[j].Cost()
		}
		return adapters[i].Name() < adapters[j].Name()
	})
}
