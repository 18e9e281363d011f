package audit

import (
	"time"

	id "prism/pkg/domain"
)

// EventCategory classifies audit entries by their primary purpose.
// This enables different retention policies and downstream routing.
type EventCategory string

const (
	// CategoryBilling covers events where credit moved: committed charges
	// and admin credit grants. These reconcile against the ledger.
	CategoryBilling EventCategory = "billing"

	// CategoryCompliance covers events recording access to personal data.
	// These answer DSAR and regulator questions: what was accessed, by
	// whom, under what legal basis. Retention floor applies (2 years+).
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility: per-vendor attempts, failures that moved no money.
	CategoryOperations EventCategory = "operations"
)

// AuditEvent names something worth recording.
type AuditEvent string

const (
	// Terminal pipeline outcomes. Exactly one of these is recorded per
	// enrichment pipeline.
	EventEnrichmentCompleted AuditEvent = "enrichment_completed"
	EventEnrichmentCached    AuditEvent = "enrichment_cached"
	EventEnrichmentFailed    AuditEvent = "enrichment_failed"

	// Per-attempt vendor call record, including failed attempts that were
	// retried on a fallback vendor.
	EventVendorAttempt AuditEvent = "vendor_attempt"

	// Admin surface events.
	EventCreditAdded AuditEvent = "credit_added"
	EventAdminQuery  AuditEvent = "admin_query"

	// Reservation expired without commit or rollback; released by the
	// janitor. Signals a crashed or hung pipeline.
	EventReservationExpired AuditEvent = "reservation_expired"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventEnrichmentCompleted: CategoryBilling,
	EventEnrichmentCached:    CategoryCompliance,
	EventEnrichmentFailed:    CategoryOperations,
	EventVendorAttempt:       CategoryOperations,
	EventCreditAdded:         CategoryBilling,
	EventAdminQuery:          CategoryCompliance,
	EventReservationExpired:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is the append-only audit record. The JSON tags are the admin
// API shape; the postgres outbox and the Kafka relay use their own
// payload struct.
type Entry struct {
	ID        id.EntryID    `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// Event is the action recorded, one of the AuditEvent constants.
	Event AuditEvent `json:"event"`
	// UserID is the account charged or accessed.
	UserID id.UserID `json:"user_id"`
	// PipelineID correlates all entries of one enrichment pipeline.
	PipelineID id.PipelineID `json:"pipeline_id"`
	// ProfileKey is the canonical key that was enriched or queried.
	ProfileKey string `json:"profile_key,omitempty"`
	// Vendor and Cost describe the billable call, when one happened.
	Vendor string   `json:"vendor,omitempty"`
	Cost   id.Cents `json:"cost_cents"`
	// Success records whether the action achieved its purpose.
	Success bool `json:"success"`
	// Reason carries the failure class or admin-provided justification.
	Reason string `json:"reason,omitempty"`
	// LegalBasis is the processing ground the caller asserted
	// (e.g. "contract", "legitimate_interest").
	LegalBasis string `json:"legal_basis,omitempty"`
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string `json:"request_id,omitempty"`
	// ActorID tracks who performed the action when different from UserID.
	// Used for admin operations where an operator acts on an account.
	ActorID string `json:"actor_id,omitempty"`
	// ClientInfo is the parsed device description for admin actions.
	ClientInfo string `json:"client_info,omitempty"`
}

// Query selects entries for the admin audit surface. Zero fields are
// not filtered on. Results are newest-first.
type Query struct {
	UserID id.UserID
	From   time.Time
	To     time.Time
	Limit  int
}

// DefaultQueryLimit bounds unpaginated audit queries.
const DefaultQueryLimit = 100
