package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/httputil"
	"prism/pkg/platform/middleware/admin"
	"prism/pkg/requestcontext"
)

type balanceResponse struct {
	UserID    id.UserID `json:"user_id"`
	Total     id.Cents  `json:"total_cents"`
	Reserved  id.Cents  `json:"reserved_cents"`
	Available id.Cents  `json:"available_cents"`
}

// handleGetBalance serves GET /v1/credits/{userID}. Callers read their own
// balance; the admin scope unlocks everyone else's.
func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	caller := requestcontext.UserID(ctx)
	if caller != target && !requestcontext.HasScope(ctx, admin.Scope) {
		h.logger.WarnContext(ctx, "balance read denied",
			"request_id", requestcontext.RequestID(ctx),
			"target_user_id", target,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "cannot read another user's balance"))
		return
	}

	h.writeBalance(ctx, w, target)
}

// handleAdminGetBalance serves GET /v1/admin/credits/{userID} for operators
// authenticating with the admin token instead of a JWT.
func (h *Handler) handleAdminGetBalance(w http.ResponseWriter, r *http.Request) {
	target, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.writeBalance(r.Context(), w, target)
}

func (h *Handler) writeBalance(ctx context.Context, w http.ResponseWriter, userID id.UserID) {
	balance, err := h.credits.GetBalance(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load balance",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		UserID:    userID,
		Total:     balance.Total,
		Reserved:  balance.Reserved,
		Available: balance.Available,
	})
}
