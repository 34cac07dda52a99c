// Package verify implements the deterministic, non-LLM verification rule
// engine used by the default verification.run tool. Actual rule content
// beyond these defaults is a pluggable concern (spec §1): a host can ignore
// this package entirely and wire a different verification.run tool.
package verify

// Check is one named deterministic check performed during verification.
type Check struct {
	Name     string         `json:"name"`
	Pass     bool           `json:"pass"`
	Severity string         `json:"severity"` // "HARD" or "SOFT"
	Details  map[string]any `json:"details,omitempty"`
}

// Report is the verdict and evidence produced by a verification run.
type Report struct {
	Verdict string  `json:"verdict"` // PASS, WARN, FAIL
	Checks  []Check `json:"checks"`
}

func presentString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func presentNumberOrString(v any) bool {
	switch v.(type) {
	case int, int64, float64:
		return true
	case string:
		return presentString(v)
	default:
		return false
	}
}

func fieldsOf(extracted map[string]any) map[string]any {
	if extracted == nil {
		return map[string]any{}
	}
	f, ok := extracted["fields"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return f
}

// Run applies domain-specific deterministic checks to the extracted fields
// and returns a PASS/WARN/FAIL verdict: any failing HARD check forces
// FAIL; otherwise any failing SOFT check forces WARN; all-pass is PASS.
func Run(domain, schemaID, sourceText string, extracted map[string]any) Report {
	fields := fieldsOf(extracted)

	var checks []Check
	hardFail := false
	softFail := false

	add := func(name string, pass bool, severity string, details map[string]any) {
		checks = append(checks, Check{Name: name, Pass: pass, Severity: severity, Details: details})
		if !pass {
			if severity == "HARD" {
				hardFail = true
			} else {
				softFail = true
			}
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	add("has_fields", len(fields) > 0, "HARD", map[string]any{"keys": keys})

	switch domain {
	case "finance":
		add("vendor_present", presentString(fields["vendor"]), "SOFT", nil)
		add("total_present", presentNumberOrString(fields["total"]), "SOFT", nil)
		add("currency_present", presentString(fields["currency"]), "SOFT", nil)
	case "legal":
		_, hasParties := fields["parties"]
		add("parties_present", hasParties && fields["parties"] != nil, "SOFT", nil)
		add("effective_date_present", presentString(fields["effective_date"]), "SOFT", nil)
		add("governing_law_present", presentString(fields["governing_law"]), "SOFT", nil)
	default:
		add("non_empty_fields", len(fields) > 0, "SOFT", nil)
	}

	verdict := "PASS"
	switch {
	case hardFail:
		verdict = "FAIL"
	case softFail:
		verdict = "WARN"
	}

	return Report{Verdict: verdict, Checks: checks}
}
