package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is what the shared steps need from the scenario context.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Save(name, value string)
}

// RegisterSteps registers generic request and assertion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the server is healthy$`, steps.serverIsHealthy)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should not be empty$`, steps.fieldShouldNotBeEmpty)
	ctx.Step(`^the response should be a list of (\d+) items?$`, steps.listOfN)
	ctx.Step(`^the response should be a non-empty list$`, steps.nonEmptyList)
	ctx.Step(`^I save the first item "([^"]*)" as "([^"]*)"$`, steps.saveFirstItem)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serverIsHealthy(ctx context.Context) error {
	if err := s.tc.GET("/healthz", nil); err != nil {
		return err
	}
	return s.statusShouldBe(ctx, 200)
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path, nil)
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := stringify(v); got != expected {
		return fmt.Errorf("expected %s=%q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldNotBeEmpty(ctx context.Context, field string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if stringify(v) == "" {
		return fmt.Errorf("expected %s to be set", field)
	}
	return nil
}

func (s *commonSteps) list() ([]map[string]any, error) {
	var items []map[string]any
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &items); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %w", err)
	}
	return items, nil
}

func (s *commonSteps) listOfN(ctx context.Context, n int) error {
	items, err := s.list()
	if err != nil {
		return err
	}
	if len(items) != n {
		return fmt.Errorf("expected %d items, got %d", n, len(items))
	}
	return nil
}

func (s *commonSteps) nonEmptyList(ctx context.Context) error {
	items, err := s.list()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("expected a non-empty list")
	}
	return nil
}

func (s *commonSteps) saveFirstItem(ctx context.Context, field, name string) error {
	items, err := s.list()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("cannot save %s from an empty list", field)
	}
	s.tc.Save(name, stringify(items[0][field]))
	return nil
}

func (s *commonSteps) saveField(ctx context.Context, field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(name, stringify(v))
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
