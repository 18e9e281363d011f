package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/audit"
	"prism/pkg/platform/httputil"
	"prism/pkg/requestcontext"
)

type addCreditRequest struct {
	UserID      id.UserID `json:"user_id"`
	AmountCents id.Cents  `json:"amount_cents"`
	Reason      string    `json:"reason"`
}

type auditResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// handleAddCredit serves POST /v1/admin/credits. The ledger service emits
// the billing audit entry; the handler only shapes the request and response.
func (h *Handler) handleAddCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body addCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WarnContext(ctx, "malformed add credit request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}
	if body.UserID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "user_id is required"))
		return
	}

	balance, err := h.credits.AddCredit(ctx, body.UserID, body.AmountCents, body.Reason)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidInput) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to add credit",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", body.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "credit added",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", body.UserID,
		"amount_cents", body.AmountCents,
		"actor", requestcontext.AdminActor(ctx),
	)

	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		UserID:    body.UserID,
		Total:     balance.Total,
		Reserved:  balance.Reserved,
		Available: balance.Available,
	})
}

// handleAuditQuery serves GET /v1/admin/audit with optional user_id, from,
// to (RFC 3339) and limit query parameters.
func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	q := audit.Query{Limit: audit.DefaultQueryLimit}

	if raw := params.Get("user_id"); raw != "" {
		userID, err := id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		q.UserID = userID
	}
	if raw := params.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be an RFC 3339 timestamp"))
			return
		}
		q.From = from
	}
	if raw := params.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be an RFC 3339 timestamp"))
			return
		}
		q.To = to
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		q.Limit = limit
	}

	entries, err := h.audits.Query(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "audit query failed"))
		return
	}

	h.recordAdminQuery(ctx, "audit_query", q.UserID)

	httputil.WriteJSON(w, http.StatusOK, auditResponse{Entries: nonNilEntries(entries), Count: len(entries)})
}

// handleAuditRecent serves GET /v1/admin/audit/recent. The limit parameter
// defaults to the standard query cap.
func (h *Handler) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := audit.DefaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.audits.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "recent audit listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "audit query failed"))
		return
	}

	h.recordAdminQuery(ctx, "audit_recent", id.UserID{})

	httputil.WriteJSON(w, http.StatusOK, auditResponse{Entries: nonNilEntries(entries), Count: len(entries)})
}

// handleCacheStats serves GET /v1/admin/cache/stats. Stats are aggregates
// with no personal data, so no compliance entry is written for reads.
func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.cache.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "cache stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "cache stats unavailable"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// recordAdminQuery writes the compliance trail for admin reads of personal
// audit data. Failures are logged, not surfaced; the read itself succeeded.
func (h *Handler) recordAdminQuery(ctx context.Context, surface string, target id.UserID) {
	if h.auditPublisher == nil {
		return
	}
	err := h.auditPublisher.Emit(ctx, audit.Entry{
		ID:         id.NewEntryID(),
		Event:      audit.EventAdminQuery,
		UserID:     target,
		Success:    true,
		Reason:     surface,
		RequestID:  requestcontext.RequestID(ctx),
		ActorID:    requestcontext.AdminActor(ctx),
		ClientInfo: requestcontext.ClientDevice(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to record admin query",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func nonNilEntries(entries []audit.Entry) []audit.Entry {
	if entries == nil {
		return []audit.Entry{}
	}
	return entries
}
