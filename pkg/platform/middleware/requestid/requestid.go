// Package requestid assigns each request an ID for log and audit correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"prism/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware reuses an inbound X-Request-ID or generates one, stores it
// in the context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerName)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(headerName, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
