// Package enrich wires the enrichment flow steps: funded accounts,
// single and batch enrichment, and outcome assertions.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	POST(path string, body any) error
	AdminPOST(path string, body any) error
	MintUser(scopes ...string) error
	UserID() string
	HasAdminToken() bool
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers enrichment step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &enrichSteps{tc: tc}

	ctx.Step(`^a funded account with (\d+) cents$`, steps.fundedAccount)
	ctx.Step(`^an authenticated user without credit$`, steps.userWithoutCredit)
	ctx.Step(`^I enrich "([^"]*)"$`, steps.enrichKey)
	ctx.Step(`^I enrich a fresh profile key$`, steps.enrichFreshKey)
	ctx.Step(`^I enrich a fresh profile key preferring "([^"]*)"$`, steps.enrichFreshKeyPreferring)
	ctx.Step(`^I enrich the same profile key again$`, steps.enrichSameKey)
	ctx.Step(`^I batch enrich a fresh key alongside "([^"]*)"$`, steps.batchEnrichFreshAlongside)
	ctx.Step(`^the enrichment status should be "([^"]*)"$`, steps.statusShouldBe)
	ctx.Step(`^the enrichment vendor should be "([^"]*)"$`, steps.vendorShouldBe)
	ctx.Step(`^the charge should be (\d+) cents$`, steps.chargeShouldBe)
	ctx.Step(`^result (\d+) should have status "([^"]*)"$`, steps.resultShouldHaveStatus)
}

type enrichSteps struct {
	tc      TestContext
	lastKey string
}

func (s *enrichSteps) fundedAccount(ctx context.Context, cents int) error {
	if !s.tc.HasAdminToken() {
		return fmt.Errorf("PRISM_E2E_ADMIN_TOKEN is required to fund accounts")
	}
	if err := s.tc.MintUser("enrich"); err != nil {
		return err
	}
	if err := s.tc.AdminPOST("/v1/admin/credits", map[string]any{
		"user_id":      s.tc.UserID(),
		"amount_cents": cents,
		"reason":       "e2e funding",
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("funding failed with status %d: %s",
			s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *enrichSteps) userWithoutCredit(ctx context.Context) error {
	return s.tc.MintUser("enrich")
}

func (s *enrichSteps) enrichKey(ctx context.Context, key string) error {
	s.lastKey = key
	return s.tc.POST("/v1/enrich", map[string]any{"profile_key": key})
}

// enrichFreshKey uses a key no earlier run can have cached, so cache
// scenarios stay deterministic against a long-lived gateway.
func (s *enrichSteps) enrichFreshKey(ctx context.Context) error {
	return s.enrichKey(ctx, freshKey())
}

func (s *enrichSteps) enrichFreshKeyPreferring(ctx context.Context, preference string) error {
	s.lastKey = freshKey()
	return s.tc.POST("/v1/enrich", map[string]any{
		"profile_key":       s.lastKey,
		"vendor_preference": preference,
	})
}

func (s *enrichSteps) enrichSameKey(ctx context.Context) error {
	if s.lastKey == "" {
		return fmt.Errorf("no profile key enriched yet in this scenario")
	}
	return s.enrichKey(ctx, s.lastKey)
}

func (s *enrichSteps) batchEnrichFreshAlongside(ctx context.Context, key string) error {
	return s.tc.POST("/v1/enrich/batch", map[string]any{
		"profile_keys": []string{freshKey(), strings.TrimSpace(key)},
	})
}

func freshKey() string {
	return fmt.Sprintf("e2e-%s@example.test", uuid.NewString()[:8])
}

func (s *enrichSteps) statusShouldBe(ctx context.Context, expected string) error {
	return s.fieldEquals("status", expected)
}

func (s *enrichSteps) vendorShouldBe(ctx context.Context, expected string) error {
	return s.fieldEquals("vendor", expected)
}

func (s *enrichSteps) chargeShouldBe(ctx context.Context, cents int) error {
	value, err := s.tc.GetResponseField("cost_cents")
	if err != nil {
		return err
	}
	got, ok := value.(float64)
	if !ok {
		return fmt.Errorf("cost_cents is %T, not a number", value)
	}
	if int(got) != cents {
		return fmt.Errorf("expected charge of %d cents, got %v", cents, got)
	}
	return nil
}

func (s *enrichSteps) resultShouldHaveStatus(ctx context.Context, index int, expected string) error {
	value, err := s.tc.GetResponseField("results")
	if err != nil {
		return err
	}
	results, ok := value.([]any)
	if !ok {
		return fmt.Errorf("results is %T, not an array", value)
	}
	if index >= len(results) {
		return fmt.Errorf("result index %d out of range, batch has %d results", index, len(results))
	}
	result, ok := results[index].(map[string]any)
	if !ok {
		return fmt.Errorf("result %d is %T, not an object", index, results[index])
	}
	if got := fmt.Sprint(result["status"]); got != expected {
		return fmt.Errorf("expected result %d status %q, got %q", index, expected, got)
	}
	return nil
}

func (s *enrichSteps) fieldEquals(field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("expected %s=%q, got %q (body: %s)",
			field, expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}
