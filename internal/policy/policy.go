// Package policy implements the deny-by-default capability check and the
// per-tool audit redaction whitelist the bounded executor gates on.
package policy

// Policy is an immutable allow-list of tools plus a per-tool whitelist of
// input keys that may be copied into audit payloads. Construct once with
// New; there are no setters.
type Policy struct {
	allowedTools    map[string]bool
	auditAllowKeys  map[string]map[string]bool
}

// New builds an immutable Policy. allowedTools is the full set of callable
// tool names; auditAllowKeys maps tool name to the input keys safe to
// persist in a TOOL_CALLED audit payload.
func New(allowedTools []string, auditAllowKeys map[string][]string) *Policy {
	p := &Policy{
		allowedTools:   make(map[string]bool, len(allowedTools)),
		auditAllowKeys: make(map[string]map[string]bool, len(auditAllowKeys)),
	}
	for _, t := range allowedTools {
		p.allowedTools[t] = true
	}
	for tool, keys := range auditAllowKeys {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		p.auditAllowKeys[tool] = set
	}
	return p
}

// IsAllowed reports whether tool may be invoked. Absence from the
// allow-list is a denial, never an error.
func (p *Policy) IsAllowed(tool string) bool {
	return p.allowedTools[tool]
}

// AllowedAuditKeys returns the input keys permitted in an audit payload for
// tool. Keys absent from the result must be redacted (omitted), not masked.
func (p *Policy) AllowedAuditKeys(tool string) map[string]bool {
	return p.auditAllowKeys[tool]
}

// RedactInputs copies only the policy-allowed keys of inputs, for building
// a TOOL_CALLED audit payload.
func (p *Policy) RedactInputs(tool string, inputs map[string]any) map[string]any {
	allow := p.AllowedAuditKeys(tool)
	safe := make(map[string]any, len(allow))
	for k := range allow {
		if v, ok := inputs[k]; ok {
			safe[k] = v
		}
	}
	return safe
}

// Default returns the platform's default policy: the five tools the
// default plan invokes, with the audit-safe key whitelists spec'd for
// each. source_text and extracted are never audit-safe for any tool.
func Default() *Policy {
	return New(
		[]string{
			"extraction.run",
			"verification.run",
			"actions.export_json",
			"actions.draft_email",
			"actions.create_ticket",
		},
		map[string][]string{
			"extraction.run":        {"schema_id", "pipeline_id"},
			"verification.run":      {"domain", "schema_id"},
			"actions.export_json":   {},
			"actions.draft_email":   {"to", "template_id"},
			"actions.create_ticket": {"queue", "title"},
		},
	)
}
