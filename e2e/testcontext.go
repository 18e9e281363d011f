// Package e2e drives a running prism gateway over HTTP with Gherkin
// scenarios. Point PRISM_E2E_API at the gateway. The suite mints its
// own bearer tokens, so PRISM_E2E_SIGNING_KEY must match the server's
// PRISM_JWT_SIGNING_KEY; admin scenarios need PRISM_E2E_ADMIN_TOKEN.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext carries the HTTP client, the scenario's identity, and
// the last response. Steps packages depend on the slice of its surface
// they need.
type TestContext struct {
	baseURL    string
	signingKey []byte
	issuer     string
	audience   string
	adminToken string
	client     *http.Client

	bearer     string
	userID     string
	lastStatus int
	lastBody   []byte
}

// NewTestContext builds a context from PRISM_E2E_* environment
// variables, defaulting to a dev-configured gateway on localhost.
func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    envOr("PRISM_E2E_API", "http://localhost:8080"),
		signingKey: []byte(envOr("PRISM_E2E_SIGNING_KEY", "dev-secret-key-change-in-production")),
		issuer:     envOr("PRISM_E2E_ISSUER", "prism"),
		audience:   envOr("PRISM_E2E_AUDIENCE", "prism-api"),
		adminToken: os.Getenv("PRISM_E2E_ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Reset clears per-scenario state so scenarios stay independent.
func (tc *TestContext) Reset() {
	tc.bearer = ""
	tc.userID = ""
	tc.lastStatus = 0
	tc.lastBody = nil
}

// MintUser creates a fresh user identity and signs a bearer token for
// it with the shared key, the same claim shape the gateway validates.
func (tc *TestContext) MintUser(scopes ...string) error {
	userID := uuid.NewString()

	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"iss":     tc.issuer,
		"aud":     tc.audience,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
		"jti":     uuid.NewString(),
	}
	if len(scopes) > 0 {
		claims["scopes"] = scopes
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign bearer token: %w", err)
	}

	tc.bearer = token
	tc.userID = userID
	return nil
}

// UserID returns the scenario's minted user, empty before MintUser.
func (tc *TestContext) UserID() string { return tc.userID }

// HasAdminToken reports whether admin scenarios can run.
func (tc *TestContext) HasAdminToken() bool { return tc.adminToken != "" }

// POST sends a JSON body with the scenario's bearer token attached.
func (tc *TestContext) POST(path string, body any) error {
	req, err := tc.newRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if tc.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tc.bearer)
	}
	return tc.do(req)
}

// GET sends a request with the scenario's bearer token plus any extra
// headers.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := tc.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if tc.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tc.bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// AdminPOST sends a JSON body authenticated with the admin token.
func (tc *TestContext) AdminPOST(path string, body any) error {
	req, err := tc.newRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", tc.adminToken)
	return tc.do(req)
}

// AdminGET sends a request authenticated with the admin token.
func (tc *TestContext) AdminGET(path string) error {
	req, err := tc.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", tc.adminToken)
	return tc.do(req)
}

func (tc *TestContext) newRequest(method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "prism-e2e/1.0")
	return req, nil
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	tc.lastStatus = resp.StatusCode
	tc.lastBody = raw
	return nil
}

// GetLastResponseStatus returns the status code of the last call.
func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

// GetLastResponseBody returns the raw body of the last call.
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var payload map[string]any
	if err := json.Unmarshal(tc.lastBody, &payload); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	value, ok := payload[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q (body: %s)", field, tc.lastBody)
	}
	return value, nil
}
