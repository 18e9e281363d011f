package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// All methods are nil-safe so packages can run without metrics wired,
// which keeps unit tests free of registry bookkeeping.
type Metrics struct {
	enrichmentsTotal *prometheus.CounterVec
	batchSize        prometheus.Histogram

	vendorCallsTotal *prometheus.CounterVec
	vendorLatency    *prometheus.HistogramVec

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheCorruptions prometheus.Counter
	cacheEvictions   prometheus.Counter
	cacheEntries     prometheus.Gauge

	creditsReserved   prometheus.Counter
	creditsCommitted  prometheus.Counter
	creditsRolledBack prometheus.Counter

	reservationsExpired prometheus.Counter

	auditDropped prometheus.Counter
	relayLag     prometheus.Gauge

	httpLatency *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
// Call once per process.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests that
// need a live Metrics value should pass prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		enrichmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_enrichments_total",
			Help: "Total enrichment pipelines by terminal outcome",
		}, []string{"outcome"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_enrich_batch_size",
			Help:    "Number of profile keys per batch request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		vendorCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_vendor_calls_total",
			Help: "Total vendor enrichment calls by vendor and result",
		}, []string{"vendor", "result"}),
		vendorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_vendor_call_duration_seconds",
			Help:    "Vendor enrichment call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"vendor"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_profile_cache_hits_total",
			Help: "Total profile cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_profile_cache_misses_total",
			Help: "Total profile cache misses, including expired entries",
		}),
		cacheCorruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_profile_cache_corruptions_total",
			Help: "Total cache entries discarded as undecodable",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_profile_cache_evictions_total",
			Help: "Total cache entries evicted by capacity or TTL purge",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prism_profile_cache_entries",
			Help: "Current number of cached profiles",
		}),
		creditsReserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_credits_reserved_cents_total",
			Help: "Total credit cents reserved",
		}),
		creditsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_credits_committed_cents_total",
			Help: "Total credit cents committed",
		}),
		creditsRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_credits_rolled_back_cents_total",
			Help: "Total credit cents released from reservations",
		}),
		reservationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_reservations_expired_total",
			Help: "Total reservations released by the expiry janitor",
		}),
		auditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_audit_entries_dropped_total",
			Help: "Total audit entries dropped due to a full async buffer",
		}),
		relayLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prism_audit_relay_pending",
			Help: "Audit outbox entries awaiting publication to Kafka",
		}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.enrichmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(n))
}

func (m *Metrics) IncVendorCall(vendor, result string) {
	if m == nil {
		return
	}
	m.vendorCallsTotal.WithLabelValues(vendor, result).Inc()
}

func (m *Metrics) ObserveVendorLatency(vendor string, d time.Duration) {
	if m == nil {
		return
	}
	m.vendorLatency.WithLabelValues(vendor).Observe(d.Seconds())
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) IncCacheCorruption() {
	if m == nil {
		return
	}
	m.cacheCorruptions.Inc()
}

func (m *Metrics) AddCacheEvictions(n int) {
	if m == nil {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) AddCreditsReserved(cents int64) {
	if m == nil {
		return
	}
	m.creditsReserved.Add(float64(cents))
}

func (m *Metrics) AddCreditsCommitted(cents int64) {
	if m == nil {
		return
	}
	m.creditsCommitted.Add(float64(cents))
}

func (m *Metrics) AddCreditsRolledBack(cents int64) {
	if m == nil {
		return
	}
	m.creditsRolledBack.Add(float64(cents))
}

func (m *Metrics) AddReservationsExpired(n int) {
	if m == nil {
		return
	}
	m.reservationsExpired.Add(float64(n))
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) SetRelayPending(n int) {
	if m == nil {
		return
	}
	m.relayLag.Set(float64(n))
}

func (m *Metrics) ObserveHTTPRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(route, status).Observe(d.Seconds())
}
