// Package profilecache holds enriched profiles between vendor calls.
// Entries are keyed by canonical profile key and shared across users:
// once anyone pays for an enrichment, everyone reads it for free until
// the TTL runs out.
package profilecache

import (
	"encoding/json"
	"time"
)

// Entry is a stored enrichment result.
type Entry struct {
	Key        string
	Vendor     string
	Payload    json.RawMessage
	EnrichedAt time.Time
	ExpiresAt  time.Time
}

// Hit is what a successful lookup returns.
type Hit struct {
	Payload    json.RawMessage
	Vendor     string
	EnrichedAt time.Time
	Age        time.Duration
}

// Stats summarizes cache behavior over the process lifetime. Corrupt
// entries count as misses since the caller has to re-enrich either way.
type Stats struct {
	HitRate    float64 `json:"hit_rate"`
	EntryCount int64   `json:"entry_count"`
	Evictions  int64   `json:"evictions"`
}
