// Package clientinfo annotates requests with caller metadata.
//
// Admin audit entries record who performed an operation and from
// where; this middleware extracts the client IP (proxy-aware) and a
// parsed User-Agent summary for that purpose.
package clientinfo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"prism/pkg/requestcontext"
)

// Middleware extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromRequest(r)
		rawUA := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), ip, rawUA, describeAgent(rawUA))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// describeAgent reduces a User-Agent header to a short description
// suitable for audit entries, e.g. "Chrome 120.0 / Mac OS X".
func describeAgent(rawUA string) string {
	if rawUA == "" {
		return ""
	}

	ua := useragent.New(rawUA)
	if ua.Bot() {
		name, _ := ua.Browser()
		if name == "" {
			return "bot"
		}
		return "bot: " + name
	}

	name, version := ua.Browser()
	if name == "" {
		// Non-browser clients (curl, prismctl) keep their raw token.
		if tok, _, _ := strings.Cut(rawUA, " "); tok != "" {
			return tok
		}
		return rawUA
	}

	if os := ua.OS(); os != "" {
		return fmt.Sprintf("%s %s / %s", name, version, os)
	}
	return fmt.Sprintf("%s %s", name, version)
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// Check X-Forwarded-For header first (standard for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Take the first IP which is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (used by nginx and other proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (direct connection)
	// RemoteAddr is in format "ip:port", so we need to strip the port
	if addr := r.RemoteAddr; addr != "" {
		// For IPv6, format is [::1]:port
		// For IPv4, format is 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
