package verify

import "testing"

func TestRunGeneralDomainEmptyFieldsFails(t *testing.T) {
	r := Run("general", "general.v1", "x", map[string]any{"fields": map[string]any{}})
	if r.Verdict != "FAIL" {
		t.Fatalf("expected FAIL (has_fields is HARD), got %s", r.Verdict)
	}
}

func TestRunGeneralDomainPass(t *testing.T) {
	r := Run("general", "general.v1", "x", map[string]any{"fields": map[string]any{"example": "value"}})
	if r.Verdict != "PASS" {
		t.Fatalf("expected PASS, got %s: %+v", r.Verdict, r.Checks)
	}
}

func TestRunFinanceDomainWarnsOnMissingSoftFields(t *testing.T) {
	r := Run("finance", "finance.v1", "x", map[string]any{"fields": map[string]any{"example": "value"}})
	if r.Verdict != "WARN" {
		t.Fatalf("expected WARN (soft checks fail, has_fields passes), got %s", r.Verdict)
	}
}

func TestRunFinanceDomainPassesWithAllFields(t *testing.T) {
	r := Run("finance", "finance.v1", "x", map[string]any{
		"fields": map[string]any{
			"vendor":   "Acme Co",
			"total":    123.45,
			"currency": "USD",
		},
	})
	if r.Verdict != "PASS" {
		t.Fatalf("expected PASS, got %s: %+v", r.Verdict, r.Checks)
	}
}

func TestRunLegalDomain(t *testing.T) {
	r := Run("legal", "legal.v1", "x", map[string]any{
		"fields": map[string]any{
			"parties":        []any{"A", "B"},
			"effective_date": "2026-01-01",
			"governing_law":  "Delaware",
		},
	})
	if r.Verdict != "PASS" {
		t.Fatalf("expected PASS, got %s: %+v", r.Verdict, r.Checks)
	}
}

func TestRunNilExtractedFailsHard(t *testing.T) {
	r := Run("general", "general.v1", "x", nil)
	if r.Verdict != "FAIL" {
		t.Fatalf("expected FAIL on nil extracted, got %s", r.Verdict)
	}
}
