package httptransport

import (
	"encoding/json"
	"net/http"

	"prism/internal/enrich"
	"prism/internal/vendors"
	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/httputil"
	"prism/pkg/requestcontext"
)

type enrichRequest struct {
	ProfileKey       string        `json:"profile_key"`
	VendorPreference string        `json:"vendor_preference"`
	AllowFallback    bool          `json:"allow_fallback"`
	LegalBasis       string        `json:"legal_basis"`
	PipelineID       id.PipelineID `json:"pipeline_id"`
}

type batchEnrichRequest struct {
	ProfileKeys      []string      `json:"profile_keys"`
	VendorPreference string        `json:"vendor_preference"`
	AllowFallback    bool          `json:"allow_fallback"`
	LegalBasis       string        `json:"legal_basis"`
	PipelineID       id.PipelineID `json:"pipeline_id"`
}

type enrichResponse struct {
	PipelineID id.PipelineID `json:"pipeline_id"`
	enrich.Result
}

// handleEnrich serves POST /v1/enrich. A single key either succeeds with the
// payload or fails the whole request with the status mapped from the
// pipeline's terminal reason.
func (h *Handler) handleEnrich(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The middleware has already validated the JWT and set the user ID.
	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		h.logger.ErrorContext(ctx, "user ID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var body enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WarnContext(ctx, "malformed enrich request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}
	if body.ProfileKey == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "profile_key is required"))
		return
	}

	// The pipeline ID is assigned here rather than inside the service so the
	// response can echo it even when the body omitted one.
	pipelineID := body.PipelineID
	if pipelineID.IsZero() {
		pipelineID = id.NewPipelineID()
	}

	result, err := h.enricher.Enrich(ctx, enrich.Request{
		UserID:           userID,
		PipelineID:       pipelineID,
		ProfileKeys:      []string{body.ProfileKey},
		VendorPreference: vendors.Preference(body.VendorPreference),
		AllowFallback:    body.AllowFallback,
		LegalBasis:       body.LegalBasis,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if result.Status == enrich.StatusFailed {
		httputil.WriteError(w, failureError(result.Reason))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, enrichResponse{PipelineID: pipelineID, Result: *result})
}

// handleEnrichBatch serves POST /v1/enrich/batch. Batches report per-key
// outcomes in the body and answer 200 even when every key failed; only a
// request that never reaches the pipeline gets an error status.
func (h *Handler) handleEnrichBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		h.logger.ErrorContext(ctx, "user ID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var body batchEnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WarnContext(ctx, "malformed batch enrich request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}
	if len(body.ProfileKeys) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "profile_keys must not be empty"))
		return
	}

	result, err := h.enricher.EnrichBatch(ctx, enrich.Request{
		UserID:           userID,
		PipelineID:       body.PipelineID,
		ProfileKeys:      body.ProfileKeys,
		VendorPreference: vendors.Preference(body.VendorPreference),
		AllowFallback:    body.AllowFallback,
		LegalBasis:       body.LegalBasis,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// failureError turns a terminal pipeline reason back into a coded error so
// single-key callers get a meaningful status. Reasons are domain error code
// strings; anything unrecognized maps to internal.
func failureError(reason string) error {
	switch code := dErrors.Code(reason); code {
	case dErrors.CodeInsufficientCredit:
		return dErrors.New(code, "not enough credit to cover the vendor charge")
	case dErrors.CodeVendorUnavailable:
		return dErrors.New(code, "no vendor can serve this profile key")
	case dErrors.CodeVendorTimeout:
		return dErrors.New(code, "vendor call timed out")
	case dErrors.CodeVendorError:
		return dErrors.New(code, "vendor call failed")
	case dErrors.CodeTimeout:
		return dErrors.New(code, "enrichment timed out")
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return dErrors.New(code, "profile key is not valid")
	default:
		return dErrors.New(dErrors.CodeInternal, "enrichment failed")
	}
}
