// Package httpvendor is the uniform HTTP client for real enrichment vendors.
// Every vendor speaks the same shape: POST {base}/v1/enrich with a JSON body
// carrying the profile key, answered by 200 and a JSON profile payload.
// Transport and status failures are classified into vendor error categories,
// and a per-vendor circuit breaker fails calls fast while the vendor is down.
package httpvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"prism/internal/vendors"
	"prism/pkg/domain"
	"prism/pkg/platform/circuit"
)

// DefaultTimeout bounds one enrichment call end to end.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a vendor response is read. Profile
// payloads are small; anything larger is a misbehaving vendor.
const maxResponseBytes = 1 << 20

var errCircuitOpen = errors.New("circuit open")

// Adapter talks to one vendor over its HTTP enrichment endpoint.
type Adapter struct {
	name        string
	baseURL     string
	apiKey      string
	cost        domain.Cents
	qualityTier int
	timeout     time.Duration
	client      *http.Client
	breaker     *circuit.Breaker
	logger      *slog.Logger
}

var _ vendors.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c != nil {
			a.client = c
		}
	}
}

// WithBreaker overrides the circuit breaker, mainly so tests can tighten
// thresholds and cooldowns.
func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Adapter) {
		if b != nil {
			a.breaker = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an adapter from its descriptor.
func New(d vendors.Descriptor, opts ...Option) (*Adapter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Kind != vendors.KindHTTP {
		return nil, fmt.Errorf("vendor %s: httpvendor requires kind %q, got %q", d.Name, vendors.KindHTTP, d.Kind)
	}

	a := &Adapter{
		name:        d.Name,
		baseURL:     strings.TrimRight(d.BaseURL, "/"),
		apiKey:      d.APIKey,
		cost:        d.UnitCost,
		qualityTier: d.QualityTier,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if a.breaker == nil {
		a.breaker = circuit.New(a.name)
	}
	return a, nil
}

func (a *Adapter) Name() string       { return a.name }
func (a *Adapter) Cost() domain.Cents { return a.cost }
func (a *Adapter) QualityTier() int   { return a.qualityTier }

// Health reports the gateway's view of the vendor: an open circuit means
// recent calls failed consecutively and the vendor is considered down.
func (a *Adapter) Health(_ context.Context) error {
	if a.breaker.IsOpen() {
		return fmt.Errorf("vendor %s: %w", a.name, errCircuitOpen)
	}
	return nil
}

// Enrich resolves one profile key against the vendor. While the breaker is
// open, calls fail fast as an outage; retryable failures feed the breaker,
// rejected requests (4xx) do not count against vendor health.
func (a *Adapter) Enrich(ctx context.Context, key domain.ProfileKey) (json.RawMessage, error) {
	if !a.breaker.Allow() {
		return nil, &vendors.Error{Vendor: a.name, Category: vendors.CategoryOutage, Err: errCircuitOpen}
	}

	payload, err := a.call(ctx, key)
	if err != nil {
		var verr *vendors.Error
		if errors.As(err, &verr) && verr.Retryable() {
			if _, change := a.breaker.RecordFailure(); change.Opened {
				a.logger.WarnContext(ctx, "vendor circuit opened",
					"vendor", a.name,
					"error", err)
			}
		}
		return nil, err
	}

	if _, change := a.breaker.RecordSuccess(); change.Closed {
		a.logger.InfoContext(ctx, "vendor circuit closed", "vendor", a.name)
	}
	return payload, nil
}

type enrichRequest struct {
	ProfileKey string `json:"profile_key"`
}

func (a *Adapter) call(ctx context.Context, key domain.ProfileKey) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(enrichRequest{ProfileKey: key.String()})
	if err != nil {
		return nil, &vendors.Error{Vendor: a.name, Category: vendors.CategoryBadRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/enrich", bytes.NewReader(body))
	if err != nil {
		return nil, &vendors.Error{Vendor: a.name, Category: vendors.CategoryBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, a.transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError(resp.StatusCode)
	}
	if !json.Valid(respBody) {
		return nil, &vendors.Error{Vendor: a.name, Category: vendors.CategoryOutage,
			Err: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(respBody), nil
}

func (a *Adapter) transportError(err error) *vendors.Error {
	category := vendors.CategoryOutage
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		category = vendors.CategoryTimeout
	}
	return &vendors.Error{Vendor: a.name, Category: category, Err: err}
}

func (a *Adapter) statusError(status int) *vendors.Error {
	var category vendors.Category
	switch {
	case status == http.StatusTooManyRequests:
		category = vendors.CategoryRateLimited
	case status >= 500:
		category = vendors.CategoryOutage
	case status >= 400:
		category = vendors.CategoryBadRequest
	default:
		// 1xx/3xx and non-200 2xx are out of contract.
		category = vendors.CategoryOutage
	}
	return &vendors.Error{Vendor: a.name, Category: category,
		Err: fmt.Errorf("unexpected status %d", status)}
}
