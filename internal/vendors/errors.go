package vendors

import (
	"fmt"

	dErrors "prism/pkg/domain-errors"
)

// ErrNoVendorsAvailable is returned by the router when no enabled adapter
// exists for any preference.
var ErrNoVendorsAvailable = dErrors.New(dErrors.CodeVendorUnavailable, "no enrichment vendors available")

// Category classifies an adapter failure for fallback decisions.
type Category string

const (
	// CategoryTimeout covers per-call deadlines and network timeouts.
	CategoryTimeout Category = "timeout"
	// CategoryRateLimited covers vendor-side throttling (HTTP 429).
	CategoryRateLimited Category = "rate_limited"
	// CategoryOutage covers 5xx responses, refused connections, and open
	// circuit breakers.
	CategoryOutage Category = "outage"
	// CategoryBadRequest covers 4xx responses: the request itself was
	// rejected, so retrying another vendor with the same key is pointless.
	CategoryBadRequest Category = "bad_request"
)

// Error is the uniform failure adapters return from Enrich. The orchestrator
// rolls back the credit reservation on any Error and tries the next
// candidate vendor only when the failure is retryable.
type Error struct {
	Vendor   string
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vendor %s: %s", e.Vendor, e.Category)
	}
	return fmt.Sprintf("vendor %s: %s: %v", e.Vendor, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the next candidate vendor is worth trying.
// Everything except a rejected request is treated as transient.
func (e *Error) Retryable() bool {
	return e.Category != CategoryBadRequest
}

// Code maps the failure onto the domain error taxonomy: deadlines surface as
// vendor_timeout, everything else as vendor_error.
func (e *Error) Code() dErrors.Code {
	if e.Category == CategoryTimeout {
		return dErrors.CodeVendorTimeout
	}
	return dErrors.CodeVendorError
}
