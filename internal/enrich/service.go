// Package enrich is the orchestrator at the heart of the gateway. For each
// profile key it walks one state machine: check the cache, reserve credit,
// call a vendor, commit the charge, store the payload. A vendor failure rolls
// the reservation back and earns exactly one retry on the next candidate
// vendor. Keys are independent; a batch runs them with bounded parallelism
// and per-key outcomes, never aborting siblings.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"prism/internal/ledger"
	"prism/internal/platform/metrics"
	"prism/internal/platform/tracing"
	"prism/internal/profilecache"
	"prism/internal/vendors"
	id "prism/pkg/domain"
	dErrors "prism/pkg/domain-errors"
	"prism/pkg/platform/audit"
)

const (
	// DefaultBatchConcurrency bounds how many keys of one batch run at
	// once, sized to stay under vendor rate limits rather than to saturate
	// the host.
	DefaultBatchConcurrency = 4

	// DefaultVendorTimeout bounds one vendor call.
	DefaultVendorTimeout = 10 * time.Second
)

// CreditLedger is the slice of the ledger service the orchestrator uses.
type CreditLedger interface {
	Reserve(ctx context.Context, userID id.UserID, amount id.Cents) (*ledger.Reservation, error)
	Commit(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error)
	Rollback(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error)
}

// ProfileCache is the slice of the cache service the orchestrator uses.
type ProfileCache interface {
	Lookup(ctx context.Context, key string) (*profilecache.Hit, error)
	LookupMany(ctx context.Context, keys []string) (map[string]*profilecache.Hit, error)
	Store(ctx context.Context, key string, payload json.RawMessage, vendor string, ttl time.Duration) error
}

// VendorRouter orders candidate adapters for a preference.
type VendorRouter interface {
	Candidates(pref vendors.Preference, allowFallback bool) ([]vendors.Adapter, error)
}

// AuditPublisher records enrichment events.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service runs enrichment pipelines. One Service instance serves all
// requests; the singleflight group inside it is what guarantees a single
// vendor call per key across concurrent requests.
type Service struct {
	ledger         CreditLedger
	cache          ProfileCache
	router         VendorRouter
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	concurrency    int
	vendorTimeout  time.Duration
	attemptEntries bool

	flights singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher sets the audit publisher. Without one, terminal states
// are not audited; production wiring always provides it.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithConcurrency sets how many keys of one batch run at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithVendorTimeout bounds each vendor call.
func WithVendorTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.vendorTimeout = d
		}
	}
}

// WithAttemptEntries controls whether every vendor call writes a
// vendor_attempt audit entry. Terminal entries are written regardless.
func WithAttemptEntries(enabled bool) Option {
	return func(s *Service) {
		s.attemptEntries = enabled
	}
}

// New constructs the orchestrator.
func New(creditLedger CreditLedger, cache ProfileCache, router VendorRouter, opts ...Option) *Service {
	s := &Service{
		ledger:         creditLedger,
		cache:          cache,
		router:         router,
		logger:         slog.Default(),
		concurrency:    DefaultBatchConcurrency,
		vendorTimeout:  DefaultVendorTimeout,
		attemptEntries: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enrich resolves a single profile key. Request-level problems (missing user,
// wrong key count) return an error; everything that happens to the key itself
// is reported in the Result, failed keys included.
func (s *Service) Enrich(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if len(req.ProfileKeys) != 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "exactly one profile key is required")
	}
	normalizeRequest(&req)

	raw := req.ProfileKeys[0]
	key, err := id.CanonicalProfileKey(raw)
	if err != nil {
		result := s.invalidKeyResult(ctx, &req, raw, err)
		return &result, nil
	}

	result := s.enrichOne(ctx, &req, key)
	return &result, nil
}

// EnrichBatch resolves every key in the request with bounded parallelism.
// Results come back in input order; duplicate keys collapse to one pipeline
// run, with the charge reported on their first position only, so summing
// charged results always equals TotalCharged.
func (s *Service) EnrichBatch(ctx context.Context, req Request) (*BatchResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	normalizeRequest(&req)

	ctx, span := tracing.Start(ctx, "enrich.batch",
		attribute.Int("enrich.batch_size", len(req.ProfileKeys)))
	defer span.End()

	s.metrics.ObserveBatchSize(len(req.ProfileKeys))

	results := make([]Result, len(req.ProfileKeys))

	// Canonicalize up front: malformed keys settle immediately, valid keys
	// dedupe to one pipeline run each.
	var order []string
	positions := make(map[string][]int)
	keys := make(map[string]id.ProfileKey)
	seenInvalid := make(map[string]Result)

	for i, raw := range req.ProfileKeys {
		key, err := id.CanonicalProfileKey(raw)
		if err != nil {
			result, seen := seenInvalid[raw]
			if !seen {
				result = s.invalidKeyResult(ctx, &req, raw, err)
				seenInvalid[raw] = result
			}
			results[i] = result
			continue
		}
		canonical := key.String()
		if _, seen := positions[canonical]; !seen {
			order = append(order, canonical)
			keys[canonical] = key
		}
		positions[canonical] = append(positions[canonical], i)
	}

	// Warm-up: one round trip answers every already-cached key. Misses fall
	// through to the per-key pipeline, which re-checks the cache itself, so
	// a warm-up failure costs a round trip, never correctness.
	pending := order
	if len(order) > 0 {
		hits, err := s.cache.LookupMany(ctx, order)
		if err != nil {
			s.logger.WarnContext(ctx, "batch cache warm-up failed", "error", err)
		}
		if len(hits) > 0 {
			pending = pending[:0:0]
			for _, canonical := range order {
				hit, ok := hits[canonical]
				if !ok {
					pending = append(pending, canonical)
					continue
				}
				result := cachedResult(canonical, hit.Vendor, hit.Payload)
				s.settleKey(ctx, &req, result, positions[canonical], results)
			}
		}
	}

	charges := make([]id.Cents, len(pending))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, canonical := range pending {
		g.Go(func() error {
			if ctx.Err() != nil {
				// Not started yet: abandon with no side effects.
				fanOut(canceledResult(canonical), positions[canonical], results)
				s.metrics.IncEnrichment(ReasonCanceled)
				return nil
			}
			result := s.enrichOne(ctx, &req, keys[canonical])
			fanOut(result, positions[canonical], results)
			charges[i] = result.Cost
			return nil
		})
	}
	_ = g.Wait()

	var total id.Cents
	for _, c := range charges {
		total += c
	}

	s.logger.InfoContext(ctx, "batch enrichment finished",
		"pipeline_id", req.PipelineID,
		"user_id", req.UserID,
		"keys", len(req.ProfileKeys),
		"total_charged_cents", int64(total),
	)
	return &BatchResult{
		PipelineID:   req.PipelineID,
		Results:      results,
		TotalCharged: total,
	}, nil
}

func validateRequest(req *Request) error {
	if req.UserID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if len(req.ProfileKeys) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one profile key is required")
	}
	return nil
}

func normalizeRequest(req *Request) {
	if req.PipelineID.IsZero() {
		req.PipelineID = id.NewPipelineID()
	}
	if req.LegalBasis == "" {
		req.LegalBasis = DefaultLegalBasis
	}
}

// settleKey records a terminal outcome reached outside the per-key pipeline
// (warm-up hits) and fans it out to its input positions.
func (s *Service) settleKey(ctx context.Context, req *Request, result Result, at []int, results []Result) {
	fanOut(result, at, results)
	s.metrics.IncEnrichment(string(result.Status))
	s.emitTerminal(ctx, req, result)
}

// fanOut writes the result to every input position of its key. The charge
// stays on the first position so per-position costs still sum to the batch
// total.
func fanOut(result Result, at []int, results []Result) {
	for n, i := range at {
		if n > 0 && result.Cost > 0 {
			dup := result
			dup.Cost = 0
			results[i] = dup
			continue
		}
		results[i] = result
	}
}
