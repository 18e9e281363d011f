// Package contenttype enforces JSON request bodies on mutating methods.
package contenttype

import (
	"net/http"
	"strings"

	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/httputil"
)

// RequireJSON rejects POST, PUT, and PATCH requests whose Content-Type
// is not application/json. Requests without bodies pass through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := r.Header.Get("Content-Type")
			if mediaType, _, _ := strings.Cut(ct, ";"); strings.TrimSpace(mediaType) != "application/json" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Content-Type must be application/json"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
