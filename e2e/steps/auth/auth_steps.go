package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext is what the account steps need from the scenario context.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	SetAccessToken(token string)
	Save(name, value string)
	Saved(name string) string
}

// RegisterSteps registers account and session steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I register as a citizen named "([^"]*)"$`, steps.registerCitizen)
	ctx.Step(`^I log in with my credentials$`, steps.login)
	ctx.Step(`^I log in with a wrong password$`, steps.loginWrongPassword)
	ctx.Step(`^I am a logged in citizen$`, steps.loggedInCitizen)
	ctx.Step(`^I request my profile$`, steps.requestProfile)
	ctx.Step(`^I GET "([^"]*)" with invalid token "([^"]*)"$`, steps.getWithInvalidToken)
}

type authSteps struct {
	tc TestContext
}

const password = "e2e-password"

func (s *authSteps) registerCitizen(ctx context.Context, name string) error {
	email := fmt.Sprintf("%s.%d@e2e.togoretrouve.tg", name, time.Now().UnixNano())
	s.tc.Save("email", email)
	return s.tc.POST("/auth/register", map[string]any{
		"email":      email,
		"password":   password,
		"first_name": name,
		"last_name":  "E2E",
	})
}

func (s *authSteps) login(ctx context.Context) error {
	if err := s.tc.POST("/auth/login", map[string]any{
		"email":    s.tc.Saved("email"),
		"password": password,
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return nil
	}
	token, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	s.tc.SetAccessToken(token.(string))
	return nil
}

func (s *authSteps) loginWrongPassword(ctx context.Context) error {
	return s.tc.POST("/auth/login", map[string]any{
		"email":    s.tc.Saved("email"),
		"password": "not-" + password,
	})
}

func (s *authSteps) loggedInCitizen(ctx context.Context) error {
	if err := s.registerCitizen(ctx, "citizen"); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 201 {
		return fmt.Errorf("registration returned %d", status)
	}
	if err := s.login(ctx); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("login returned %d", status)
	}
	return nil
}

func (s *authSteps) requestProfile(ctx context.Context) error {
	return s.tc.GET("/auth/me", nil)
}

func (s *authSteps) getWithInvalidToken(ctx context.Context, path, token string) error {
	return s.tc.GET(path, map[string]string{
		"Authorization": "Bearer " + token,
	})
}
