// vendor-sim is a standalone fake enrichment vendor for local development
// and end-to-end runs. It speaks the uniform vendor contract: POST /v1/enrich
// with {"profile_key": "kind:value"} answers 200 and a deterministic JSON
// profile synthesized from the key.
//
// Failure behavior is triggered by the key itself so scenarios stay
// deterministic: keys containing "sim-outage" answer 500, "sim-ratelimit"
// answers 429, and "sim-timeout" stalls past any sane client timeout.
//
// Configuration:
//
//	VENDOR_SIM_ADDR     listen address (default :9100)
//	VENDOR_SIM_NAME     vendor name reported in payloads (default simvendor)
//	VENDOR_SIM_API_KEY  when set, requests must carry it as a bearer token
//	VENDOR_SIM_LATENCY  fixed delay before every answer, e.g. 150ms
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type config struct {
	addr    string
	name    string
	apiKey  string
	latency time.Duration
}

func loadConfig() config {
	cfg := config{
		addr: envOr("VENDOR_SIM_ADDR", ":9100"),
		name: envOr("VENDOR_SIM_NAME", "simvendor"),
	}
	cfg.apiKey = os.Getenv("VENDOR_SIM_API_KEY")
	if raw := os.Getenv("VENDOR_SIM_LATENCY"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.latency = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := loadConfig()

	sim := &simulator{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/enrich", sim.handleEnrich)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "vendor": cfg.name})
	})

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("vendor-sim listening", "addr", cfg.addr, "vendor", cfg.name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("vendor-sim stopped")
}

type simulator struct {
	cfg    config
	logger *slog.Logger
}

type enrichRequest struct {
	ProfileKey string `json:"profile_key"`
}

type profile struct {
	ProfileKey  string  `json:"profile_key"`
	Kind        string  `json:"kind"`
	DisplayName string  `json:"display_name"`
	GivenName   string  `json:"given_name,omitempty"`
	FamilyName  string  `json:"family_name,omitempty"`
	Fingerprint string  `json:"fingerprint"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

func (s *simulator) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if s.cfg.apiKey != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.cfg.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
	}

	var body enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProfileKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "profile_key is required"})
		return
	}

	if s.cfg.latency > 0 {
		time.Sleep(s.cfg.latency)
	}

	switch {
	case strings.Contains(body.ProfileKey, "sim-outage"):
		s.logger.Warn("injected outage", "profile_key", body.ProfileKey)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected outage"})
		return
	case strings.Contains(body.ProfileKey, "sim-ratelimit"):
		s.logger.Warn("injected rate limit", "profile_key", body.ProfileKey)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "injected rate limit"})
		return
	case strings.Contains(body.ProfileKey, "sim-timeout"):
		s.logger.Warn("injected stall", "profile_key", body.ProfileKey)
		select {
		case <-time.After(60 * time.Second):
		case <-r.Context().Done():
		}
		return
	}

	s.logger.Info("enriched", "profile_key", body.ProfileKey)
	writeJSON(w, http.StatusOK, synthesize(s.cfg.name, body.ProfileKey))
}

// synthesize derives a stable pseudo-profile from the key, the same way the
// gateway's in-process dev vendor does, so switching between the two changes
// nothing downstream.
func synthesize(source, key string) profile {
	kind, value, found := strings.Cut(key, ":")
	if !found {
		kind, value = "email", key
	}

	sum := sha256.Sum256([]byte(key))
	p := profile{
		ProfileKey:  key,
		Kind:        kind,
		DisplayName: value,
		Fingerprint: hex.EncodeToString(sum[:8]),
		Confidence:  0.5 + float64(sum[0])/512,
		Source:      source,
	}
	if kind == "email" {
		p.GivenName, p.FamilyName = splitName(value)
	}
	return p
}

// splitName derives given and family names from an email's local part.
func splitName(addr string) (string, string) {
	local := addr
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		local = addr[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "", ""
	}
	given := capitalize(parts[0])
	family := ""
	if len(parts) > 1 {
		family = capitalize(parts[len(parts)-1])
	}
	return given, family
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
