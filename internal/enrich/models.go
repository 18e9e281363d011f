package enrich

import (
	"encoding/json"

	"prism/internal/vendors"
	id "prism/pkg/domain"
)

// DefaultLegalBasis is asserted for requests that do not name a processing
// ground of their own.
const DefaultLegalBasis = "legitimate_interest"

// Status is the terminal state of one profile key.
type Status string

const (
	// StatusCached means the profile was served from cache at zero cost.
	StatusCached Status = "cached"
	// StatusEnriched means a vendor was called and the charge committed.
	StatusEnriched Status = "enriched"
	// StatusFailed means the key reached no payload; Reason says why.
	StatusFailed Status = "failed"
)

// ReasonCanceled marks keys abandoned before their pipeline started because
// the caller went away. Abandoned keys have no side effects: no reservation,
// no vendor call, no audit entry.
const ReasonCanceled = "canceled"

// Request describes one enrichment call. ProfileKeys carries the raw
// identifiers as the caller sent them; canonicalization happens on entry and
// malformed keys fail individually without aborting the rest.
type Request struct {
	UserID           id.UserID
	PipelineID       id.PipelineID
	ProfileKeys      []string
	VendorPreference vendors.Preference
	AllowFallback    bool
	LegalBasis       string
}

// Result is the terminal outcome for one input position.
type Result struct {
	Key     string          `json:"profile_key"`
	Status  Status          `json:"status"`
	Vendor  string          `json:"vendor,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Cost    id.Cents        `json:"cost_cents"`
	Reason  string          `json:"reason,omitempty"`
}

// BatchResult aggregates a batch call. Results holds one entry per input
// position, in input order. TotalCharged is the sum of costs actually
// committed for this request and reconciles against the billing audit
// entries carrying the same request ID.
type BatchResult struct {
	PipelineID   id.PipelineID `json:"pipeline_id"`
	Results      []Result      `json:"results"`
	TotalCharged id.Cents      `json:"total_charged_cents"`
}
