package tool

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/antigravity-dev/docops/internal/verify"
)

// asString reads a string input, defaulting to "" when absent or wrongly
// typed — tool inputs come from the runner's own plan-step construction,
// never directly from an untrusted caller, so this stays permissive.
func asString(inputs map[string]any, key string) string {
	if v, ok := inputs[key].(string); ok {
		return v
	}
	return ""
}

func asMap(inputs map[string]any, key string) map[string]any {
	if v, ok := inputs[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

// ExtractionTool is the default extraction.run stub. A real extraction
// backend (LLM-based) is out of scope for this module (spec §1); this
// stub exists so the default plan has something concrete to run end to
// end, and so tests can exercise the full runner without a live model.
type ExtractionTool struct{}

// Run implements Tool.
func (ExtractionTool) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	schemaID := asString(inputs, "schema_id")
	pipelineID := asString(inputs, "pipeline_id")
	return map[string]any{
		"extracted": map[string]any{
			"schema_id":   schemaID,
			"pipeline_id": pipelineID,
			"fields": map[string]any{
				"example": "value",
			},
		},
	}, nil
}

// VerificationTool is the default verification.run tool: a deterministic,
// domain-keyed rule engine (internal/verify), not an LLM call. Verification
// rules content beyond these defaults is a pluggable concern (spec §1).
type VerificationTool struct{}

// Run implements Tool.
func (VerificationTool) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	domain := asString(inputs, "domain")
	schemaID := asString(inputs, "schema_id")
	sourceText := asString(inputs, "source_text")
	extracted := asMap(inputs, "extracted")

	report := verify.Run(domain, schemaID, sourceText, extracted)
	return map[string]any{
		"report": map[string]any{
			"verdict": report.Verdict,
			"checks":  report.Checks,
		},
	}, nil
}

// ExportJSONTool is the default actions.export_json stub.
type ExportJSONTool struct{}

// Run implements Tool.
func (ExportJSONTool) Run(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"exported": true}, nil
}

// DraftEmailTool is the default actions.draft_email stub.
type DraftEmailTool struct{}

// Run implements Tool.
func (DraftEmailTool) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	to := asString(inputs, "to")
	templateID := asString(inputs, "template_id")
	return map[string]any{
		"to":      to,
		"subject": fmt.Sprintf("[DOCOPS] %s", templateID),
		"body":    "Draft email body (stub) based on extracted data.",
	}, nil
}

// CreateTicketTool is the default actions.create_ticket stub.
type CreateTicketTool struct{}

// Run implements Tool.
func (CreateTicketTool) Run(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"ticket_id": fmt.Sprintf("TCK-%s", uuid.NewString()[:6]),
	}, nil
}

// DefaultRegistry builds the registry backing the default plan: exactly
// the five tools the default Policy allows.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Tool{
		"extraction.run":        ExtractionTool{},
		"verification.run":      VerificationTool{},
		"actions.export_json":   ExportJSONTool{},
		"actions.draft_email":   DraftEmailTool{},
		"actions.create_ticket": CreateTicketTool{},
	})
}
