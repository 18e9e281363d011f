package httptransport

import (
	"context"
	"net/http"

	"prism/pkg/platform/httputil"
)

// handleHealthz reports process liveness only.
func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings every registered dependency and fails closed on the
// first one that does not answer.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, check := range h.ready {
		pingCtx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
		err := check.Ping(pingCtx)
		cancel()
		if err != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				"dependency", check.Name,
				"error", err,
			)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": check.Name,
			})
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
