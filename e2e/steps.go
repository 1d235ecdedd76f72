package e2e

import (
	"github.com/cucumber/godog"

	"pushauth/e2e/steps/common"
	"pushauth/e2e/steps/mfa"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	mfa.RegisterSteps(ctx, tc)
}
