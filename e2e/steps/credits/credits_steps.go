// Package credits wires the credit administration steps: grants,
// balance reads, and the audit trail they leave behind.
package credits

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	GET(path string, headers map[string]string) error
	AdminPOST(path string, body any) error
	AdminGET(path string) error
	MintUser(scopes ...string) error
	UserID() string
	HasAdminToken() bool
	GetResponseField(field string) (any, error)
	GetLastResponseBody() []byte
}

// RegisterSteps registers credit and audit administration steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &creditSteps{tc: tc}

	ctx.Step(`^an account exists$`, steps.accountExists)
	ctx.Step(`^the admin grants (\d+) cents for "([^"]*)"$`, steps.adminGrants)
	ctx.Step(`^I read my balance$`, steps.readOwnBalance)
	ctx.Step(`^I read another user's balance$`, steps.readOtherBalance)
	ctx.Step(`^the admin reads the account balance$`, steps.adminReadsBalance)
	ctx.Step(`^the admin queries the audit trail for the account$`, steps.adminQueriesAudit)
	ctx.Step(`^the audit trail should contain event "([^"]*)"$`, steps.auditShouldContainEvent)
}

type creditSteps struct {
	tc TestContext
}

func (s *creditSteps) accountExists(ctx context.Context) error {
	if !s.tc.HasAdminToken() {
		return fmt.Errorf("PRISM_E2E_ADMIN_TOKEN is required for credit scenarios")
	}
	return s.tc.MintUser("enrich")
}

func (s *creditSteps) adminGrants(ctx context.Context, cents int, reason string) error {
	return s.tc.AdminPOST("/v1/admin/credits", map[string]any{
		"user_id":      s.tc.UserID(),
		"amount_cents": cents,
		"reason":       reason,
	})
}

func (s *creditSteps) readOwnBalance(ctx context.Context) error {
	return s.tc.GET("/v1/credits/"+s.tc.UserID(), nil)
}

func (s *creditSteps) readOtherBalance(ctx context.Context) error {
	return s.tc.GET("/v1/credits/"+uuid.NewString(), nil)
}

func (s *creditSteps) adminReadsBalance(ctx context.Context) error {
	return s.tc.AdminGET("/v1/admin/credits/" + s.tc.UserID())
}

func (s *creditSteps) adminQueriesAudit(ctx context.Context) error {
	return s.tc.AdminGET("/v1/admin/audit?user_id=" + s.tc.UserID())
}

func (s *creditSteps) auditShouldContainEvent(ctx context.Context, event string) error {
	value, err := s.tc.GetResponseField("entries")
	if err != nil {
		return err
	}
	entries, ok := value.([]any)
	if !ok {
		return fmt.Errorf("entries is %T, not an array", value)
	}
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprint(entry["event"]) == event {
			return nil
		}
	}
	return fmt.Errorf("no %q entry among %d audit entries (body: %s)",
		event, len(entries), s.tc.GetLastResponseBody())
}
