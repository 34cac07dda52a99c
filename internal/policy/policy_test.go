package policy

import "testing"

func TestDefaultPolicyAllowsExactFive(t *testing.T) {
	p := Default()
	want := []string{
		"extraction.run",
		"verification.run",
		"actions.export_json",
		"actions.draft_email",
		"actions.create_ticket",
	}
	for _, tool := range want {
		if !p.IsAllowed(tool) {
			t.Errorf("expected %q to be allowed", tool)
		}
	}
	if p.IsAllowed("actions.delete_everything") {
		t.Error("unknown tool must be denied by default")
	}
}

func TestRedactInputsOmitsDisallowedKeys(t *testing.T) {
	p := Default()
	safe := p.RedactInputs("extraction.run", map[string]any{
		"schema_id":   "s1",
		"pipeline_id": "p1",
		"source_text": "secret document body",
	})
	if len(safe) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(safe), safe)
	}
	if _, ok := safe["source_text"]; ok {
		t.Error("source_text must be redacted, never copied")
	}
	if safe["schema_id"] != "s1" || safe["pipeline_id"] != "p1" {
		t.Errorf("unexpected redacted payload: %v", safe)
	}
}

func TestRedactInputsExportJSONHasNoSafeKeys(t *testing.T) {
	p := Default()
	safe := p.RedactInputs("actions.export_json", map[string]any{"extracted": map[string]any{"x": 1}})
	if len(safe) != 0 {
		t.Errorf("expected no audit-safe keys for export_json, got %v", safe)
	}
}

func TestRedactInputsUnknownToolYieldsEmpty(t *testing.T) {
	p := Default()
	safe := p.RedactInputs("not.a.tool", map[string]any{"a": 1})
	if len(safe) != 0 {
		t.Errorf("expected empty redaction for unknown tool, got %v", safe)
	}
}
