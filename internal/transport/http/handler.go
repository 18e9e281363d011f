// Package httptransport is the HTTP edge of the gateway: route wiring,
// request decoding, and translation of domain outcomes into the shared
// error envelope. Handlers delegate to services and hold no business logic.
package httptransport

import (
	"context"
	"log/slog"
	"time"

	"prism/internal/enrich"
	"prism/internal/ledger"
	"prism/internal/platform/metrics"
	"prism/internal/profilecache"
	id "prism/pkg/domain"
	"prism/pkg/platform/audit"
	"prism/pkg/platform/middleware/auth"
)

// DefaultRequestTimeout bounds request handling on the /v1 surface.
const DefaultRequestTimeout = 30 * time.Second

// readyCheckTimeout bounds each dependency ping on /readyz.
const readyCheckTimeout = 2 * time.Second

// Enricher runs the enrichment pipeline.
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) (*enrich.Result, error)
	EnrichBatch(ctx context.Context, req enrich.Request) (*enrich.BatchResult, error)
}

// CreditService exposes the ledger operations the API needs.
type CreditService interface {
	GetBalance(ctx context.Context, userID id.UserID) (ledger.Balance, error)
	AddCredit(ctx context.Context, userID id.UserID, amount id.Cents, reason string) (ledger.Balance, error)
}

// CacheStats reports aggregate cache health.
type CacheStats interface {
	Stats(ctx context.Context) (profilecache.Stats, error)
}

// AuditReader serves the admin audit surface.
type AuditReader interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Entry, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// AuditPublisher records admin reads of personal data.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// ReadyCheck pings one dependency for the readiness probe.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps carries everything the handler needs. Logger and Metrics may be nil.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Enricher       Enricher
	Credits        CreditService
	Cache          CacheStats
	Audits         AuditReader
	AuditPublisher AuditPublisher
	JWTValidator   auth.JWTValidator
	AdminTokenHash string
	RequestTimeout time.Duration
	Ready          []ReadyCheck
}

// Handler serves the public and admin HTTP API.
type Handler struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	enricher       Enricher
	credits        CreditService
	cache          CacheStats
	audits         AuditReader
	auditPublisher AuditPublisher
	jwtValidator   auth.JWTValidator
	adminTokenHash string
	requestTimeout time.Duration
	ready          []ReadyCheck
}

func New(deps Deps) *Handler {
	h := &Handler{
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		enricher:       deps.Enricher,
		credits:        deps.Credits,
		cache:          deps.Cache,
		audits:         deps.Audits,
		auditPublisher: deps.AuditPublisher,
		jwtValidator:   deps.JWTValidator,
		adminTokenHash: deps.AdminTokenHash,
		requestTimeout: deps.RequestTimeout,
		ready:          deps.Ready,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = DefaultRequestTimeout
	}
	return h
}
