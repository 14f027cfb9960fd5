package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is what the rate limiting steps need from the scenario context.
type TestContext interface {
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastHeader(key string) string
}

// RegisterSteps registers rate limiting steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I send up to (\d+) requests to "([^"]*)" from IP "([^"]*)"$`, steps.burst)
	ctx.Step(`^a request should have been rate limited$`, steps.shouldBeLimited)
	ctx.Step(`^the response should tell me when to retry$`, steps.shouldCarryRetryAfter)
}

type ratelimitSteps struct {
	tc      TestContext
	limited bool
}

// burst stops at the first rejection so the last response is the 429.
func (s *ratelimitSteps) burst(ctx context.Context, n int, path, ip string) error {
	s.limited = false
	for range n {
		if err := s.tc.GET(path, map[string]string{"X-Forwarded-For": ip}); err != nil {
			return err
		}
		if s.tc.GetLastResponseStatus() == 429 {
			s.limited = true
			return nil
		}
	}
	return nil
}

func (s *ratelimitSteps) shouldBeLimited(ctx context.Context) error {
	if !s.limited {
		return fmt.Errorf("no request was rate limited")
	}
	v, err := s.tc.GetResponseField("error")
	if err != nil {
		return err
	}
	if v != "rate_limit_exceeded" {
		return fmt.Errorf("unexpected error %v", v)
	}
	return nil
}

func (s *ratelimitSteps) shouldCarryRetryAfter(ctx context.Context) error {
	raw := s.tc.GetLastHeader("Retry-After")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 1 {
		return fmt.Errorf("invalid Retry-After %q", raw)
	}
	return nil
}
