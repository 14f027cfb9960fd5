package declaration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext is what the declaration steps need from the scenario context.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetLastResponseBody() []byte
	Saved(name string) string
}

// RegisterSteps registers declaration steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &declarationSteps{tc: tc}

	ctx.Step(`^I declare a (lost|found) "([^"]*)" at structure "([^"]*)"$`, steps.declare)
	ctx.Step(`^I declare a (lost|found) "([^"]*)" dated tomorrow at structure "([^"]*)"$`, steps.declareTomorrow)
	ctx.Step(`^my declarations should include "([^"]*)"$`, steps.mineShouldInclude)
}

type declarationSteps struct {
	tc TestContext
}

func (s *declarationSteps) post(kind, object, structure string, date time.Time) error {
	return s.tc.POST("/declarations", map[string]any{
		"type":           kind,
		"object_name":    object,
		"category":       "divers",
		"structure_id":   s.tc.Saved(structure),
		"incident_date":  date.Format(time.DateOnly),
		"incident_place": "Grand marché de Lomé",
	})
}

func (s *declarationSteps) declare(ctx context.Context, kind, object, structure string) error {
	return s.post(kind, object, structure, time.Now().UTC().AddDate(0, 0, -1))
}

func (s *declarationSteps) declareTomorrow(ctx context.Context, kind, object, structure string) error {
	return s.post(kind, object, structure, time.Now().UTC().AddDate(0, 0, 2))
}

func (s *declarationSteps) mineShouldInclude(ctx context.Context, object string) error {
	if err := s.tc.GET("/declarations/mine", nil); err != nil {
		return err
	}
	var items []struct {
		ObjectName string `json:"object_name"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &items); err != nil {
		return fmt.Errorf("decode declarations: %w", err)
	}
	for _, d := range items {
		if d.ObjectName == object {
			return nil
		}
	}
	return fmt.Errorf("%q not among %d declarations", object, len(items))
}
