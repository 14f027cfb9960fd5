package e2e

import (
	"github.com/cucumber/godog"

	"togoretrouve/e2e/steps/auth"
	"togoretrouve/e2e/steps/common"
	"togoretrouve/e2e/steps/declaration"
	"togoretrouve/e2e/steps/ratelimit"
)

// RegisterSteps registers the step definitions of every feature area.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	auth.RegisterSteps(ctx, tc)
	declaration.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
