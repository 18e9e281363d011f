package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"prism/internal/ledger"
	"prism/internal/platform/tracing"
	"prism/internal/vendors"
	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/audit"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

// pipelineOutcome is what one singleflight execution shares with every
// caller waiting on the same key.
type pipelineOutcome struct {
	status  Status
	vendor  string
	payload json.RawMessage
	cost    id.Cents
	reason  string
}

// enrichOne resolves one canonical key and returns this caller's view of the
// outcome. Concurrent callers for the same key share a single pipeline run:
// the caller that ran it reports the charge, the callers that joined read the
// same payload for free, like a cache hit.
func (s *Service) enrichOne(ctx context.Context, req *Request, key id.ProfileKey) Result {
	ctx, span := tracing.Start(ctx, "enrich.profile")
	defer span.End()

	canonical := key.String()

	executed := false
	v, _, _ := s.flights.Do(canonical, func() (any, error) {
		executed = true
		return s.runPipeline(ctx, req, key), nil
	})
	out := v.(*pipelineOutcome)

	var result Result
	switch {
	case executed:
		result = Result{
			Key:     canonical,
			Status:  out.status,
			Vendor:  out.vendor,
			Payload: out.payload,
			Cost:    out.cost,
			Reason:  out.reason,
		}
	case out.status == StatusFailed:
		result = Result{Key: canonical, Status: StatusFailed, Reason: out.reason}
	default:
		result = cachedResult(canonical, out.vendor, out.payload)
	}

	span.SetAttributes(
		attribute.String("enrich.outcome", outcomeLabel(result)),
		attribute.Int64("enrich.cost_cents", int64(result.Cost)),
	)

	s.metrics.IncEnrichment(outcomeLabel(result))
	if result.Reason != ReasonCanceled {
		s.emitTerminal(ctx, req, result)
	}
	return result
}

// runPipeline walks the state machine for one key: cache check, credit
// reserve, vendor call, commit. A retryable vendor failure rolls the
// reservation back and earns one retry on the next candidate, reserved at
// that candidate's own cost.
func (s *Service) runPipeline(ctx context.Context, req *Request, key id.ProfileKey) *pipelineOutcome {
	if ctx.Err() != nil {
		return &pipelineOutcome{status: StatusFailed, reason: ReasonCanceled}
	}

	canonical := key.String()

	hit, err := s.cache.Lookup(ctx, canonical)
	switch {
	case err == nil:
		return &pipelineOutcome{status: StatusCached, vendor: hit.Vendor, payload: hit.Payload}
	case !errors.Is(err, sentinel.ErrNotFound):
		// Corruption is already folded into not-found by the cache service;
		// anything else is store trouble. The cache is an optimization, so
		// read it as a miss and move on.
		s.logger.WarnContext(ctx, "cache lookup failed, treating as miss",
			"profile_key", canonical,
			"error", err,
		)
	}

	candidates, err := s.router.Candidates(req.VendorPreference, req.AllowFallback)
	if err != nil {
		return &pipelineOutcome{status: StatusFailed, reason: string(dErrors.CodeOf(err))}
	}
	if len(candidates) > 2 {
		// Initial attempt plus one fallback, never more.
		candidates = candidates[:2]
	}

	var lastReason string
	for attempt, adapter := range candidates {
		if ctx.Err() != nil && attempt > 0 {
			// The caller is gone and the first attempt already failed;
			// don't start a fresh leg, report what happened.
			break
		}
		outcome, retryReason := s.attempt(ctx, req, key, adapter, attempt)
		if outcome != nil {
			return outcome
		}
		lastReason = retryReason
	}
	return &pipelineOutcome{status: StatusFailed, reason: lastReason}
}

// attempt runs the reserve → vendor → commit leg against one adapter. The
// leg is detached from caller cancellation: once it starts it completes to a
// terminal state, so no reservation is left dangling and committed charges
// stay committed. A nil outcome with a retry reason means the next candidate
// may try.
func (s *Service) attempt(ctx context.Context, req *Request, key id.ProfileKey, adapter vendors.Adapter, attempt int) (*pipelineOutcome, string) {
	canonical := key.String()
	cost := adapter.Cost()
	legCtx := context.WithoutCancel(ctx)

	var reservation *ledger.Reservation
	if cost > 0 {
		r, err := s.ledger.Reserve(legCtx, req.UserID, cost)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInsufficientCredit) {
				return &pipelineOutcome{status: StatusFailed, reason: string(dErrors.CodeInsufficientCredit)}, ""
			}
			s.logger.ErrorContext(ctx, "credit reserve failed",
				"user_id", req.UserID,
				"profile_key", canonical,
				"error", err,
			)
			return &pipelineOutcome{status: StatusFailed, reason: string(dErrors.CodeInternal)}, ""
		}
		reservation = r
	}

	vctx, cancel := context.WithTimeout(legCtx, s.vendorTimeout)
	vctx, span := tracing.Start(vctx, "vendor.call",
		attribute.String("vendor.name", adapter.Name()),
		attribute.Int64("vendor.cost_cents", int64(cost)),
		attribute.Int("vendor.attempt", attempt),
	)
	start := time.Now()
	payload, verr := s.callVendor(vctx, adapter, key)
	span.SetAttributes(attribute.String("vendor.outcome", vendorOutcome(verr)))
	span.End()
	cancel()

	s.metrics.ObserveVendorLatency(adapter.Name(), time.Since(start))

	if verr != nil {
		s.metrics.IncVendorCall(adapter.Name(), string(verr.Category))
		s.emitAttempt(ctx, req, canonical, adapter.Name(), 0, false, string(verr.Code()))
		s.rollback(ctx, reservation)
		s.logger.WarnContext(ctx, "vendor call failed",
			"vendor", adapter.Name(),
			"profile_key", canonical,
			"category", string(verr.Category),
			"attempt", attempt,
			"error", verr,
		)
		if !verr.Retryable() {
			return &pipelineOutcome{status: StatusFailed, reason: string(verr.Code())}, ""
		}
		return nil, string(verr.Code())
	}

	s.metrics.IncVendorCall(adapter.Name(), "ok")

	if reservation != nil {
		if _, err := s.ledger.Commit(legCtx, reservation.ID); err != nil {
			// The vendor delivered but the charge did not stick. Refuse to
			// hand out unpaid data: release the hold and fail the key.
			s.logger.ErrorContext(ctx, "commit failed after vendor call",
				"vendor", adapter.Name(),
				"profile_key", canonical,
				"reservation_id", reservation.ID,
				"error", err,
			)
			s.emitAttempt(ctx, req, canonical, adapter.Name(), 0, false, string(dErrors.CodeInternal))
			s.rollback(ctx, reservation)
			return &pipelineOutcome{status: StatusFailed, reason: string(dErrors.CodeInternal)}, ""
		}
	}

	s.emitAttempt(ctx, req, canonical, adapter.Name(), cost, true, "")

	if err := s.cache.Store(legCtx, canonical, payload, adapter.Name(), 0); err != nil {
		// The charge is committed and the payload is good; a failed cache
		// write only means the next request pays again.
		s.logger.ErrorContext(ctx, "cache store failed",
			"profile_key", canonical,
			"vendor", adapter.Name(),
			"error", err,
		)
	}

	return &pipelineOutcome{
		status:  StatusEnriched,
		vendor:  adapter.Name(),
		payload: payload,
		cost:    cost,
	}, ""
}

// callVendor normalizes whatever the adapter returned into a vendors.Error
// and rejects payloads that are not JSON.
func (s *Service) callVendor(ctx context.Context, adapter vendors.Adapter, key id.ProfileKey) (json.RawMessage, *vendors.Error) {
	payload, err := adapter.Enrich(ctx, key)
	if err == nil {
		if len(payload) == 0 || !json.Valid(payload) {
			return nil, &vendors.Error{
				Vendor:   adapter.Name(),
				Category: vendors.CategoryOutage,
				Err:      errors.New("adapter returned an invalid payload"),
			}
		}
		return payload, nil
	}

	var verr *vendors.Error
	if errors.As(err, &verr) {
		return nil, verr
	}
	// Out-of-contract error from the adapter: treat as a transient outage.
	return nil, &vendors.Error{Vendor: adapter.Name(), Category: vendors.CategoryOutage, Err: err}
}

// rollback releases a hold, tolerating nil. A failed release is recoverable:
// the hold expires into the janitor's sweep.
func (s *Service) rollback(ctx context.Context, r *ledger.Reservation) {
	if r == nil {
		return
	}
	if _, err := s.ledger.Rollback(context.WithoutCancel(ctx), r.ID); err != nil {
		s.logger.ErrorContext(ctx, "reservation rollback failed",
			"reservation_id", r.ID,
			"user_id", r.UserID,
			"error", err,
		)
	}
}

// emitTerminal writes the single terminal audit entry for one key of one
// request.
func (s *Service) emitTerminal(ctx context.Context, req *Request, result Result) {
	if s.auditPublisher == nil {
		return
	}
	var event audit.AuditEvent
	switch result.Status {
	case StatusCached:
		event = audit.EventEnrichmentCached
	case StatusEnriched:
		event = audit.EventEnrichmentCompleted
	default:
		event = audit.EventEnrichmentFailed
	}
	err := s.auditPublisher.Emit(ctx, audit.Entry{
		ID:         id.NewEntryID(),
		Event:      event,
		UserID:     req.UserID,
		PipelineID: req.PipelineID,
		ProfileKey: result.Key,
		Vendor:     result.Vendor,
		Cost:       result.Cost,
		Success:    result.Status != StatusFailed,
		Reason:     result.Reason,
		LegalBasis: req.LegalBasis,
		RequestID:  requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to emit terminal audit entry",
			"event", string(event),
			"profile_key", result.Key,
			"error", err,
		)
	}
}

// emitAttempt records one vendor call, successful or not.
func (s *Service) emitAttempt(ctx context.Context, req *Request, canonical, vendor string, cost id.Cents, success bool, reason string) {
	if !s.attemptEntries || s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Entry{
		ID:         id.NewEntryID(),
		Event:      audit.EventVendorAttempt,
		UserID:     req.UserID,
		PipelineID: req.PipelineID,
		ProfileKey: canonical,
		Vendor:     vendor,
		Cost:       cost,
		Success:    success,
		Reason:     reason,
		LegalBasis: req.LegalBasis,
		RequestID:  requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to emit vendor_attempt audit entry",
			"vendor", vendor,
			"profile_key", canonical,
			"error", err,
		)
	}
}

// invalidKeyResult settles a key that failed canonicalization. The raw input
// is echoed back so the caller can find the offending position.
func (s *Service) invalidKeyResult(ctx context.Context, req *Request, raw string, err error) Result {
	result := Result{
		Key:    raw,
		Status: StatusFailed,
		Reason: string(dErrors.CodeInvalidInput),
	}
	s.logger.DebugContext(ctx, "rejected malformed profile key", "error", err)
	s.metrics.IncEnrichment(string(StatusFailed))
	s.emitTerminal(ctx, req, result)
	return result
}

func cachedResult(canonical, vendor string, payload json.RawMessage) Result {
	return Result{Key: canonical, Status: StatusCached, Vendor: vendor, Payload: payload}
}

func canceledResult(canonical string) Result {
	return Result{Key: canonical, Status: StatusFailed, Reason: ReasonCanceled}
}

// outcomeLabel is the metrics label for a result: the status, except that
// abandoned keys count as canceled rather than failed.
func outcomeLabel(r Result) string {
	if r.Reason == ReasonCanceled {
		return ReasonCanceled
	}
	return string(r.Status)
}

func vendorOutcome(verr *vendors.Error) string {
	if verr == nil {
		return "ok"
	}
	return string(verr.Category)
}
