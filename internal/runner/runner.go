// Package runner implements the end-to-end job orchestration (spec.md
// C10): state advancement, routing, plan walk, and finalization. run_job
// is the single entry point a host (the HTTP API or a CLI) calls to drive
// a job from RECEIVED to a terminal state.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/antigravity-dev/docops/internal/executor"
	"github.com/antigravity-dev/docops/internal/jobstate"
	"github.com/antigravity-dev/docops/internal/plan"
	"github.com/antigravity-dev/docops/internal/planner"
	"github.com/antigravity-dev/docops/internal/policy"
	"github.com/antigravity-dev/docops/internal/store"
	"github.com/antigravity-dev/docops/internal/tool"
)

// ErrMissingSource is returned when a job has no source text to process.
var ErrMissingSource = errors.New("job has no source text")

// ToolNotRegistered is returned when a plan step names a tool the
// registry doesn't carry.
type ToolNotRegistered struct {
	Tool string
}

func (e *ToolNotRegistered) Error() string {
	return fmt.Sprintf("tool %q not registered", e.Tool)
}

// Result is run_job's return payload.
type Result struct {
	JobID       string
	FinalStatus jobstate.Status
	Signals     map[string]any
	Note        string
}

// Runner wires together the planner, bounded executor, and store to drive
// one job through its full lifecycle.
type Runner struct {
	store    *store.Store
	planner  planner.Planner
	exec     *executor.Executor
	registry *tool.Registry
	policy   *policy.Policy
}

// New builds a Runner from its collaborators. policy is stored alongside
// the executor but the runner itself never consults it — the executor
// owns enforcement.
func New(s *store.Store, p planner.Planner, ex *executor.Executor, reg *tool.Registry, pol *policy.Policy) *Runner {
	return &Runner{store: s, planner: p, exec: ex, registry: reg, policy: pol}
}

// noOpOnEntry is the set of statuses Phase A treats as already-finished,
// per spec.md §4.5: the three graph sinks jobstate.Terminal reports, plus
// NEEDS_REVIEW, which has an outgoing edge back to EXECUTING in the state
// machine but must still never be silently re-driven by run_job — a
// reviewer re-queues it explicitly via set_job_status, not by re-calling
// run_job.
var noOpOnEntry = map[jobstate.Status]bool{
	jobstate.Succeeded:   true,
	jobstate.Failed:      true,
	jobstate.Cancelled:   true,
	jobstate.NeedsReview: true,
}

// advanceStatus is the monotone status advancer spec.md §4.1 describes:
// a no-op if the job is already at or past `to`, otherwise a validated
// set_job_status call.
func advanceStatus(ctx context.Context, sess *store.Session, jobID string, current jobstate.Status, to jobstate.Status, reason string) (jobstate.Status, error) {
	if jobstate.Order(current) >= jobstate.Order(to) {
		return current, nil
	}
	job, err := sess.SetJobStatus(ctx, jobID, to, reason)
	if err != nil {
		return current, err
	}
	return job.Status, nil
}

// RunJob drives jobID through Phases A-D of spec.md §4.5: preconditions,
// prep & route, plan walk, finalization. It owns one Session for the
// whole run, committing at the end. Terminal jobs are a no-op; a job with
// no source text fails with ErrMissingSource.
func (r *Runner) RunJob(ctx context.Context, jobID string) (*Result, error) {
	sess, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			sess.Rollback()
		}
	}()

	job, err := sess.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Phase A — preconditions & idempotency.
	if noOpOnEntry[job.Status] {
		if err := sess.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return &Result{
			JobID:       jobID,
			FinalStatus: job.Status,
			Signals:     job.Signals,
			Note:        fmt.Sprintf("no-op: job already at a no-op status (%s)", job.Status),
		}, nil
	}
	if job.SourceText == "" {
		return nil, ErrMissingSource
	}

	status := job.Status

	// Phase B — prep & route.
	status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Preprocessed, "preprocess_done")
	if err != nil {
		return nil, err
	}

	p, routing, err := r.planner.Plan(ctx, jobID, job.SourceText)
	if err != nil {
		return nil, err
	}
	if err := sess.SetRouting(ctx, jobID, routing.Domain, routing.PipelineID, routing.SchemaID); err != nil {
		return nil, err
	}
	job, err = sess.MergeSignals(ctx, jobID, map[string]any{
		"routing.domain":      routing.Domain,
		"routing.pipeline_id": routing.PipelineID,
		"routing.schema_id":   routing.SchemaID,
	})
	if err != nil {
		return nil, err
	}

	status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Routed, "routed")
	if err != nil {
		return nil, err
	}
	status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Planned, "plan_built")
	if err != nil {
		return nil, err
	}
	status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Executing, "execution_started")
	if err != nil {
		return nil, err
	}

	// Phase C — plan walk.
	budget := executor.NewBudget(p.Limits)
	signals := make(map[string]any, len(job.Signals))
	for k, v := range job.Signals {
		signals[k] = v
	}
	var extracted map[string]any
	var verificationReport map[string]any

	for _, step := range p.Steps {
		if !step.When.Matches(signals) {
			continue
		}

		if step.Type == plan.StepHalt {
			if err := budget.StepTaken(); err != nil {
				return nil, err
			}
			if err := sess.WriteAuditEvent(ctx, jobID, "EXECUTOR_HALTED", map[string]any{"reason": step.Reason}); err != nil {
				return nil, err
			}
			break
		}

		if _, err := r.registry.Get(step.Tool); err != nil {
			return nil, &ToolNotRegistered{Tool: step.Tool}
		}

		inputs := make(map[string]any, len(step.Inputs))
		for k, v := range step.Inputs {
			inputs[k] = v
		}
		switch step.Tool {
		case "extraction.run":
			inputs["source_text"] = job.SourceText
		case "verification.run":
			inputs["source_text"] = job.SourceText
			inputs["extracted"] = orEmpty(extracted)
		case "actions.export_json", "actions.draft_email":
			inputs["extracted"] = orEmpty(extracted)
		case "actions.create_ticket":
			inputs["report"] = orEmpty(verificationReport)
		}

		out, err := r.exec.RunTool(ctx, sess, jobID, budget, step.Tool, inputs)
		if err != nil {
			return nil, err
		}

		switch step.Tool {
		case "extraction.run":
			extracted, _ = out["extracted"].(map[string]any)
			if _, err := sess.UpsertArtifact(ctx, jobID, "extracted_json", extracted); err != nil {
				return nil, err
			}
			signals["extraction.ok"] = true
		case "verification.run":
			verificationReport, _ = out["report"].(map[string]any)
			if _, err := sess.UpsertArtifact(ctx, jobID, "verification_report", verificationReport); err != nil {
				return nil, err
			}
			if verdict, ok := verificationReport["verdict"]; ok {
				signals["verification.verdict"] = verdict
			}
		case "actions.export_json":
			if _, err := sess.UpsertArtifact(ctx, jobID, "export_result", out); err != nil {
				return nil, err
			}
		case "actions.draft_email":
			if _, err := sess.UpsertArtifact(ctx, jobID, "email_draft", out); err != nil {
				return nil, err
			}
		case "actions.create_ticket":
			if _, err := sess.UpsertArtifact(ctx, jobID, "ticket", out); err != nil {
				return nil, err
			}
		}
	}

	job, err = sess.MergeSignals(ctx, jobID, signals)
	if err != nil {
		return nil, err
	}

	// Phase D — finalization.
	status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Verified, "verification_completed")
	if err != nil {
		return nil, err
	}

	verdict, _ := job.Signals["verification.verdict"].(string)
	var finalStatus jobstate.Status
	switch verdict {
	case "PASS":
		status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Acted, "actions_completed")
		if err != nil {
			return nil, err
		}
		finalStatus, err = advanceStatus(ctx, sess, jobID, status, jobstate.Succeeded, "done")
	case "WARN":
		status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Acted, "actions_completed_warn")
		if err != nil {
			return nil, err
		}
		finalStatus, err = advanceStatus(ctx, sess, jobID, status, jobstate.NeedsReview, "needs_human_review")
	case "FAIL":
		status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Acted, "actions_completed_fail")
		if err != nil {
			return nil, err
		}
		finalStatus, err = advanceStatus(ctx, sess, jobID, status, jobstate.Failed, "verification_failed")
	default:
		// VERIFIED has no direct edge to SUCCEEDED, so the no-verdict
		// fallback passes through ACTED like the PASS branch.
		status, err = advanceStatus(ctx, sess, jobID, status, jobstate.Acted, "actions_completed")
		if err != nil {
			return nil, err
		}
		finalStatus, err = advanceStatus(ctx, sess, jobID, status, jobstate.Succeeded, "done_no_verdict")
	}
	if err != nil {
		return nil, err
	}

	job, err = sess.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		return nil, err
	}
	committed = true

	return &Result{JobID: jobID, FinalStatus: finalStatus, Signals: job.Signals}, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
