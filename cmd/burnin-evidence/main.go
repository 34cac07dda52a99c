// Command burnin-evidence reports job-processing quality metrics over a
// date window: status breakdown, FAILED/NEEDS_REVIEW rates, and
// EXECUTOR_HALTED/POLICY_DENIED event counts, gated against fixed SLO
// thresholds for a pass/fail verdict.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SLOGates struct {
	FailedPctMax       float64 `json:"failed_pct_max"`
	NeedsReviewPctMax  float64 `json:"needs_review_pct_max"`
	CriticalEventsMax  int     `json:"critical_events_max"`
}

type BurninMetrics struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Days        int    `json:"days"`

	TotalJobs    int            `json:"total_jobs"`
	StatusCounts map[string]int `json:"status_counts"`

	FailedCount int     `json:"failed_count"`
	FailedPct   float64 `json:"failed_pct"`

	NeedsReviewCount int     `json:"needs_review_count"`
	NeedsReviewPct   float64 `json:"needs_review_pct"`

	CriticalEventCounts map[string]int `json:"critical_event_counts"`
	CriticalEventTotal  int            `json:"critical_event_total"`
}

type BurninReport struct {
	GeneratedAt string        `json:"generated_at"`
	Mode        string        `json:"mode"` // daily|final
	Date        string        `json:"date"`
	Gates       SLOGates      `json:"gates"`
	Metrics     BurninMetrics `json:"metrics"`
	GateResults map[string]bool `json:"gate_results,omitempty"`
	OverallPass bool          `json:"overall_pass,omitempty"`
}

func main() {
	var (
		dbPath  = flag.String("db", "./docops.db", "path to the docops sqlite database")
		outDir  = flag.String("out", "artifacts/burnin", "output directory for evidence artifacts")
		dateStr = flag.String("date", time.Now().Format("2006-01-02"), "anchor date (YYYY-MM-DD)")
		days    = flag.Int("days", 1, "window length in days (1 for daily; 7 for final)")
		mode    = flag.String("mode", "daily", "report mode: daily|final")
	)
	flag.Parse()

	date, err := time.Parse("2006-01-02", *dateStr)
	if err != nil {
		die("invalid --date: %v", err)
	}

	if *mode != "daily" && *mode != "final" {
		die("invalid --mode %q (expected daily|final)", *mode)
	}
	if *days <= 0 {
		die("--days must be > 0")
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		die("open db: %v", err)
	}
	defer db.Close()

	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(*days-1))
	end := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC)

	metrics, err := collectMetrics(db, start, end)
	if err != nil {
		die("collect metrics: %v", err)
	}

	gates := SLOGates{FailedPctMax: 5.0, NeedsReviewPctMax: 20.0, CriticalEventsMax: 0}
	report := BurninReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Mode:        *mode,
		Date:        *dateStr,
		Gates:       gates,
		Metrics:     metrics,
	}

	if *mode == "final" || *days >= 7 {
		report.GateResults = map[string]bool{
			"failed_pct":        metrics.FailedPct <= gates.FailedPctMax,
			"needs_review_pct":  metrics.NeedsReviewPct <= gates.NeedsReviewPctMax,
			"critical_events":   metrics.CriticalEventTotal <= gates.CriticalEventsMax,
		}
		report.OverallPass = report.GateResults["failed_pct"] && report.GateResults["needs_review_pct"] && report.GateResults["critical_events"]
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		die("mkdir out dir: %v", err)
	}

	base := fmt.Sprintf("burnin-%s-%s", *mode, *dateStr)
	jsonPath := filepath.Join(*outDir, base+".json")
	mdPath := filepath.Join(*outDir, base+".md")

	if err := writeJSON(jsonPath, report); err != nil {
		die("write json: %v", err)
	}
	if err := os.WriteFile(mdPath, []byte(renderMarkdown(report)), 0o644); err != nil {
		die("write markdown: %v", err)
	}

	fmt.Printf("Burn-in evidence written:\n- %s\n- %s\n", jsonPath, mdPath)
}

func collectMetrics(db *sql.DB, start, end time.Time) (BurninMetrics, error) {
	m := BurninMetrics{
		WindowStart:         start.Format(time.RFC3339),
		WindowEnd:           end.Format(time.RFC3339),
		Days:                int(end.Sub(start).Hours()/24) + 1,
		StatusCounts:        make(map[string]int),
		CriticalEventCounts: make(map[string]int),
	}

	where := "created_at >= ? AND created_at <= ?"
	args := []any{start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05")}

	rows, err := db.Query("SELECT status, COUNT(*) FROM jobs WHERE "+where+" GROUP BY status", args...)
	if err != nil {
		return m, err
	}
	for rows.Next() {
		var s string
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			rows.Close()
			return m, err
		}
		m.StatusCounts[s] = c
		m.TotalJobs += c
	}
	rows.Close()

	m.FailedCount = m.StatusCounts["FAILED"]
	m.NeedsReviewCount = m.StatusCounts["NEEDS_REVIEW"]

	if m.TotalJobs > 0 {
		m.FailedPct = 100 * float64(m.FailedCount) / float64(m.TotalJobs)
		m.NeedsReviewPct = 100 * float64(m.NeedsReviewCount) / float64(m.TotalJobs)
	}

	evWhere := "created_at >= ? AND created_at <= ?"
	critical := []string{"EXECUTOR_HALTED", "POLICY_DENIED"}
	for _, ev := range critical {
		var c int
		q := "SELECT COUNT(*) FROM audit_events WHERE " + evWhere + " AND event_type = ?"
		if err := db.QueryRow(q, append(append([]any{}, args...), ev)...).Scan(&c); err != nil {
			return m, err
		}
		m.CriticalEventCounts[ev] = c
		m.CriticalEventTotal += c
	}

	return m, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func renderMarkdown(r BurninReport) string {
	var sb strings.Builder
	sb.WriteString("# docops Burn-in Evidence\n\n")
	sb.WriteString(fmt.Sprintf("- Generated: `%s`\n", r.GeneratedAt))
	sb.WriteString(fmt.Sprintf("- Mode: `%s`\n", r.Mode))
	sb.WriteString(fmt.Sprintf("- Date: `%s`\n", r.Date))
	sb.WriteString("\n## Window\n")
	sb.WriteString(fmt.Sprintf("- Start: `%s`\n- End: `%s`\n- Days: `%d`\n", r.Metrics.WindowStart, r.Metrics.WindowEnd, r.Metrics.Days))

	sb.WriteString("\n## Core Metrics\n")
	sb.WriteString(fmt.Sprintf("- Total jobs: **%d**\n", r.Metrics.TotalJobs))
	sb.WriteString(fmt.Sprintf("- Failed: **%d** (**%.2f%%**)\n", r.Metrics.FailedCount, r.Metrics.FailedPct))
	sb.WriteString(fmt.Sprintf("- Needs review: **%d** (**%.2f%%**)\n", r.Metrics.NeedsReviewCount, r.Metrics.NeedsReviewPct))
	sb.WriteString(fmt.Sprintf("- Critical event total: **%d**\n", r.Metrics.CriticalEventTotal))

	sb.WriteString("\n## Status Breakdown\n")
	statuses := make([]string, 0, len(r.Metrics.StatusCounts))
	for k := range r.Metrics.StatusCounts {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, k := range statuses {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", k, r.Metrics.StatusCounts[k]))
	}

	sb.WriteString("\n## Critical Event Breakdown\n")
	evs := make([]string, 0, len(r.Metrics.CriticalEventCounts))
	for k := range r.Metrics.CriticalEventCounts {
		evs = append(evs, k)
	}
	sort.Strings(evs)
	for _, k := range evs {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", k, r.Metrics.CriticalEventCounts[k]))
	}

	if len(r.GateResults) > 0 {
		sb.WriteString("\n## 7-Day Gate Evaluation\n")
		sb.WriteString(fmt.Sprintf("- Failed <= %.2f%%: **%v**\n", r.Gates.FailedPctMax, r.GateResults["failed_pct"]))
		sb.WriteString(fmt.Sprintf("- Needs review <= %.2f%%: **%v**\n", r.Gates.NeedsReviewPctMax, r.GateResults["needs_review_pct"]))
		sb.WriteString(fmt.Sprintf("- Critical events <= %d: **%v**\n", r.Gates.CriticalEventsMax, r.GateResults["critical_events"]))
		sb.WriteString(fmt.Sprintf("\n**Overall Pass:** `%v`\n", r.OverallPass))
	}
	return sb.String()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
