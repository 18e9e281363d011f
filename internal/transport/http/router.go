package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prism/pkg/platform/middleware/admin"
	"prism/pkg/platform/middleware/auth"
	"prism/pkg/platform/middleware/clientinfo"
	"prism/pkg/platform/middleware/contenttype"
	"prism/pkg/platform/middleware/latency"
	"prism/pkg/platform/middleware/logging"
	"prism/pkg/platform/middleware/recovery"
	"prism/pkg/platform/middleware/requestid"
	"prism/pkg/platform/middleware/requesttime"
	"prism/pkg/platform/middleware/timeout"
)

// Router assembles the middleware chain and the route table. Probes and
// metrics sit outside the /v1 chain so they stay reachable when auth or
// the request timeout would interfere.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestid.Middleware)
	r.Use(recovery.Middleware(h.logger))
	r.Use(requesttime.Middleware)
	r.Use(logging.Middleware(h.logger))
	r.Use(latency.Middleware(h.metrics))

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(timeout.Middleware(h.requestTimeout))
		api.Use(contenttype.RequireJSON)

		api.Group(func(user chi.Router) {
			user.Use(auth.RequireAuth(h.jwtValidator, h.logger))

			user.Post("/enrich", h.handleEnrich)
			user.Post("/enrich/batch", h.handleEnrichBatch)
			user.Get("/credits/{userID}", h.handleGetBalance)
		})

		// Admin routes accept either the shared admin token or an
		// admin-scoped JWT, so bearer parsing must not reject here.
		api.Route("/admin", func(adm chi.Router) {
			adm.Use(auth.Optional(h.jwtValidator, h.logger))
			adm.Use(admin.RequireAdmin(h.adminTokenHash, h.logger))
			adm.Use(clientinfo.Middleware)

			adm.Post("/credits", h.handleAddCredit)
			adm.Get("/credits/{userID}", h.handleAdminGetBalance)
			adm.Get("/audit", h.handleAuditQuery)
			adm.Get("/audit/recent", h.handleAuditRecent)
			adm.Get("/cache/stats", h.handleCacheStats)
		})
	})

	return r
}
