// Package admin gates operator routes.
package admin

import (
	"log/slog"
	"net/http"

	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/httputil"
	"prism/pkg/platform/secrets"
	"prism/pkg/requestcontext"
)

// Scope is the JWT scope that grants access to admin routes.
const Scope = "admin"

// RequireAdmin admits requests that carry a valid X-Admin-Token
// (verified against the provisioned bcrypt hash) or an authenticated
// caller holding the admin scope. The acting identity is stored in the
// context so admin operations can attribute their audit entries.
func RequireAdmin(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token := r.Header.Get("X-Admin-Token"); token != "" {
				if tokenHash == "" || secrets.Verify(token, tokenHash) != nil {
					logger.WarnContext(ctx, "admin token mismatch",
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
					return
				}

				ctx = requestcontext.WithAdminActor(ctx, "admin-token")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Fall back to the caller's JWT scopes.
			if userID := requestcontext.UserID(ctx); !userID.IsZero() && requestcontext.HasScope(ctx, Scope) {
				ctx = requestcontext.WithAdminActor(ctx, userID.String())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			logger.WarnContext(ctx, "admin access denied",
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin access required"))
		})
	}
}
