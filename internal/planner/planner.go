// Package planner builds a Plan plus a routing decision from a job's
// source text. The planner is deterministic and stateless with respect to
// the job row: given (jobID, sourceText) it always returns the same plan
// shape, and it is the single source of truth for routing — the runner
// never decides domain/pipeline/schema itself.
package planner

import (
	"context"

	"github.com/antigravity-dev/docops/internal/plan"
)

// Routing is the domain/pipeline/schema decision a planner makes for a job.
type Routing struct {
	Domain     string
	PipelineID string
	SchemaID   string
}

// Planner builds a plan for a job. The only implementation shipped here
// is Default; the interface exists so a host can later swap in a
// content-sniffing router without the runner changing at all.
type Planner interface {
	Plan(ctx context.Context, jobID, sourceText string) (*plan.Plan, Routing, error)
}

// Default is the planner described by spec.md §4.2: routes every job to
// domain=general and emits the fixed seven-step plan (extract, verify,
// export, conditional ticket/email actions, conditional halt on FAIL).
type Default struct{}

// Plan implements Planner.
func (Default) Plan(_ context.Context, jobID, _ string) (*plan.Plan, Routing, error) {
	routing := Routing{
		Domain:     "general",
		PipelineID: "general.default",
		SchemaID:   "general.v1",
	}

	limits := plan.Limits{
		MaxSteps:     12,
		MaxToolCalls: 8,
		MaxCostUnits: 20,
		MaxReplans:   0,
	}

	steps := []plan.Step{
		{
			ID:   "extract",
			Type: plan.StepExtract,
			Tool: "extraction.run",
			Inputs: map[string]any{
				"schema_id":   routing.SchemaID,
				"pipeline_id": routing.PipelineID,
			},
		},
		{
			ID:   "verify",
			Type: plan.StepVerify,
			Tool: "verification.run",
			Inputs: map[string]any{
				"domain":    routing.Domain,
				"schema_id": routing.SchemaID,
			},
		},
		{
			ID:     "export_json",
			Type:   plan.StepAction,
			Tool:   "actions.export_json",
			Inputs: map[string]any{},
		},
		{
			ID:     "ticket_warn",
			Type:   plan.StepAction,
			Tool:   "actions.create_ticket",
			When:   &plan.When{Signal: "verification.verdict", Equals: "WARN", Op: plan.WhenEquals},
			Inputs: map[string]any{"reason": "verification_warn"},
		},
		{
			ID:     "ticket_fail",
			Type:   plan.StepAction,
			Tool:   "actions.create_ticket",
			When:   &plan.When{Signal: "verification.verdict", Equals: "FAIL", Op: plan.WhenEquals},
			Inputs: map[string]any{"reason": "verification_fail"},
		},
		{
			ID:   "email_pass",
			Type: plan.StepAction,
			Tool: "actions.draft_email",
			When: &plan.When{Signal: "verification.verdict", Equals: "PASS", Op: plan.WhenEquals},
			Inputs: map[string]any{
				"to":          "ops@example.com",
				"template_id": routing.Domain + "_processed",
			},
		},
		{
			ID:     "halt_on_fail",
			Type:   plan.StepHalt,
			When:   &plan.When{Signal: "verification.verdict", Equals: "FAIL", Op: plan.WhenEquals},
			Reason: "verification_failed",
		},
	}

	p, err := plan.New(jobID, limits, steps)
	if err != nil {
		return nil, Routing{}, err
	}
	return p, routing, nil
}
