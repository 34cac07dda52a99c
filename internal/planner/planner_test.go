package planner

import (
	"context"
	"testing"

	"github.com/antigravity-dev/docops/internal/plan"
)

func TestDefaultPlanShape(t *testing.T) {
	p, routing, err := Default{}.Plan(context.Background(), "job-1", "some text")
	if err != nil {
		t.Fatal(err)
	}
	if routing.Domain != "general" || routing.PipelineID != "general.default" || routing.SchemaID != "general.v1" {
		t.Errorf("unexpected routing: %+v", routing)
	}
	if p.Limits.MaxSteps != 12 || p.Limits.MaxToolCalls != 8 || p.Limits.MaxCostUnits != 20 || p.Limits.MaxReplans != 0 {
		t.Errorf("unexpected limits: %+v", p.Limits)
	}

	wantIDs := []string{"extract", "verify", "export_json", "ticket_warn", "ticket_fail", "email_pass", "halt_on_fail"}
	if len(p.Steps) != len(wantIDs) {
		t.Fatalf("expected %d steps, got %d", len(wantIDs), len(p.Steps))
	}
	for i, id := range wantIDs {
		if p.Steps[i].ID != id {
			t.Errorf("step %d: expected id %q, got %q", i, id, p.Steps[i].ID)
		}
	}
}

func TestDefaultPlanGatesMatchExpectedSignals(t *testing.T) {
	p, _, err := Default{}.Plan(context.Background(), "job-1", "x")
	if err != nil {
		t.Fatal(err)
	}

	byID := make(map[string]plan.Step, len(p.Steps))
	for _, s := range p.Steps {
		byID[s.ID] = s
	}

	cases := []struct {
		id      string
		verdict string
		matches bool
	}{
		{"ticket_warn", "WARN", true},
		{"ticket_warn", "PASS", false},
		{"ticket_fail", "FAIL", true},
		{"ticket_fail", "PASS", false},
		{"email_pass", "PASS", true},
		{"email_pass", "FAIL", false},
		{"halt_on_fail", "FAIL", true},
		{"halt_on_fail", "WARN", false},
	}
	for _, c := range cases {
		step := byID[c.id]
		got := step.When.Matches(map[string]any{"verification.verdict": c.verdict})
		if got != c.matches {
			t.Errorf("%s with verdict %s: expected matches=%v, got %v", c.id, c.verdict, c.matches, got)
		}
	}
}

func TestDefaultPlanExtractAndExportAlwaysMatch(t *testing.T) {
	p, _, err := Default{}.Plan(context.Background(), "job-1", "x")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"extract", "verify", "export_json"} {
		for _, s := range p.Steps {
			if s.ID == id && !s.When.Matches(map[string]any{}) {
				t.Errorf("%s should always match (ungated)", id)
			}
		}
	}
}
