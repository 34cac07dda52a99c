// Package executor implements the bounded tool executor (spec.md C9): the
// only path by which a plan step is allowed to invoke a Tool. Every
// invocation passes through policy, budget, and rate-limit gates in a
// fixed order before the tool ever runs, and every invocation is audited
// on both sides regardless of outcome.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/docops/internal/plan"
	"github.com/antigravity-dev/docops/internal/policy"
	"github.com/antigravity-dev/docops/internal/store"
	"github.com/antigravity-dev/docops/internal/tool"
)

// PolicyDenied is returned when a step's tool is not on the allowlist. No
// budget is ever charged for a denied call.
type PolicyDenied struct {
	Tool string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("policy denied tool %q", e.Tool)
}

// StepLimitExceeded is returned when a run has taken max_steps steps,
// tool-invoking or not.
type StepLimitExceeded struct {
	Limit int
}

func (e *StepLimitExceeded) Error() string {
	return fmt.Sprintf("step limit exceeded: %d", e.Limit)
}

// BudgetExceeded is returned when a plan run has exhausted max_tool_calls
// or max_cost_units.
type BudgetExceeded struct {
	Kind  string
	Limit int
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded: %s limit %d", e.Kind, e.Limit)
}

// ToolTimeout is returned when a tool invocation exceeds its deadline.
type ToolTimeout struct {
	Tool string
}

func (e *ToolTimeout) Error() string {
	return fmt.Sprintf("tool %q timed out", e.Tool)
}

// ToolExecution wraps any error a Tool itself returns.
type ToolExecution struct {
	Tool string
	Err  error
}

func (e *ToolExecution) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecution) Unwrap() error {
	return e.Err
}

// Budget tracks consumption against a plan's Limits across one run. It is
// not safe for concurrent use — a run walks its plan sequentially. Budget
// counters never decrease within a run.
type Budget struct {
	limits        plan.Limits
	stepsUsed     int
	toolCallsUsed int
	costUnitsUsed int
}

// NewBudget starts a fresh budget for a plan's limits.
func NewBudget(limits plan.Limits) *Budget {
	return &Budget{limits: limits}
}

// StepTaken charges one step against max_steps for a step that never
// reaches the bounded executor (a halt step has no tool to invoke, but
// still counts against the step budget).
func (b *Budget) StepTaken() error {
	if b.stepsUsed >= b.limits.MaxSteps {
		return &StepLimitExceeded{Limit: b.limits.MaxSteps}
	}
	b.stepsUsed++
	return nil
}

// defaultToolCost is charged per tool invocation when no override is
// configured.
const defaultToolCost = 1

// CostTable lets a host charge some tools more than others; tools absent
// from the table cost defaultToolCost.
type CostTable map[string]int

func (c CostTable) costOf(toolName string) int {
	if v, ok := c[toolName]; ok {
		return v
	}
	return defaultToolCost
}

// Executor runs plan steps against a tool.Registry, gated by policy,
// budget, and a shared rate limiter (C13). One Executor is shared across
// runs; callers supply a per-run Budget.
type Executor struct {
	policy   *policy.Policy
	registry *tool.Registry
	limiter  *rate.Limiter
	costs    CostTable
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithCostTable overrides the default per-tool cost of 1.
func WithCostTable(c CostTable) Option {
	return func(e *Executor) { e.costs = c }
}

// WithTimeout bounds a single tool invocation. Zero (the default) means
// no per-call deadline beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New builds an Executor. rl paces tool invocations globally across all
// runs sharing this Executor — pass rate.NewLimiter(rate.Inf, 0) to
// disable pacing.
func New(pol *policy.Policy, reg *tool.Registry, rl *rate.Limiter, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{policy: pol, registry: reg, limiter: rl, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunTool executes run_tool for one plan step, in the fixed order spec.md
// §4.4 requires: policy gate, budget check, rate-limiter wait, budget
// charge, redacted TOOL_CALLED audit, invoke, TOOL_RESULT audit, return. A
// denied call, or one already at max_steps or max_tool_calls, never
// reaches the limiter; a call that overruns max_cost_units fails after the
// limiter wait; none of these reaches the tool. The limiter wait and the tool invocation both run under the same
// timeout-bounded context, so a call stuck waiting for a token fails with
// ToolTimeout rather than hanging. The charge always precedes invocation,
// so a failing tool still consumes its budget.
func (e *Executor) RunTool(ctx context.Context, sess *store.Session, jobID string, budget *Budget, toolName string, inputs map[string]any) (map[string]any, error) {
	if !e.policy.IsAllowed(toolName) {
		if auditErr := sess.WriteAuditEvent(ctx, jobID, "POLICY_DENIED", map[string]any{
			"tool":   toolName,
			"reason": "deny_by_default",
		}); auditErr != nil {
			return nil, auditErr
		}
		return nil, &PolicyDenied{Tool: toolName}
	}

	if budget.stepsUsed >= budget.limits.MaxSteps {
		return nil, &StepLimitExceeded{Limit: budget.limits.MaxSteps}
	}
	if budget.toolCallsUsed >= budget.limits.MaxToolCalls {
		return nil, &BudgetExceeded{Kind: "max_tool_calls", Limit: budget.limits.MaxToolCalls}
	}

	callCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(callCtx); err != nil {
			return nil, &ToolTimeout{Tool: toolName}
		}
	}

	cost := e.costs.costOf(toolName)
	budget.stepsUsed++
	budget.toolCallsUsed++
	budget.costUnitsUsed += cost
	if budget.costUnitsUsed > budget.limits.MaxCostUnits {
		return nil, &BudgetExceeded{Kind: "max_cost_units", Limit: budget.limits.MaxCostUnits}
	}

	redacted := e.policy.RedactInputs(toolName, inputs)
	if err := sess.WriteAuditEvent(ctx, jobID, "TOOL_CALLED", map[string]any{
		"tool":   toolName,
		"inputs": redacted,
	}); err != nil {
		return nil, err
	}

	t, err := e.registry.Get(toolName)
	if err != nil {
		return nil, err
	}

	out, runErr := t.Run(callCtx, inputs)

	resultAudit := map[string]any{"tool": toolName}
	if runErr != nil {
		if callCtx.Err() != nil {
			runErr = &ToolTimeout{Tool: toolName}
		} else {
			runErr = &ToolExecution{Tool: toolName, Err: runErr}
		}
		resultAudit["error"] = runErr.Error()
	} else {
		resultAudit["result_keys"] = sortedKeys(out)
	}
	if auditErr := sess.WriteAuditEvent(ctx, jobID, "TOOL_RESULT", resultAudit); auditErr != nil {
		return nil, auditErr
	}

	if runErr != nil {
		e.logger.Warn("tool invocation failed", "tool", toolName, "job_id", jobID, "error", runErr)
		return nil, runErr
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
