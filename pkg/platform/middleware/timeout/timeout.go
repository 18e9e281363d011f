// Package timeout bounds request handling time via the request context.
package timeout

import (
	"context"
	"net/http"
	"time"
)

// Middleware cancels the request context after d. Handlers and the
// services beneath them observe the deadline through ctx; response
// writing is not cut off, so a handler can still report the timeout.
func Middleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
