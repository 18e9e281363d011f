package e2e

import (
	"github.com/cucumber/godog"

	"prism/e2e/steps/common"
	"prism/e2e/steps/credits"
	"prism/e2e/steps/enrich"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register enrichment-specific steps
	enrich.RegisterSteps(ctx, tc)

	// Register credit administration steps
	credits.RegisterSteps(ctx, tc)
}
