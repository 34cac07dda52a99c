package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/antigravity-dev/docops/internal/jobstate"
)

// ErrJobNotFound is returned when a job lookup by id misses.
var ErrJobNotFound = errors.New("job not found")

// Session is one transactional unit of work against the job, audit-event,
// artifact, and signal stores — the "session abstraction (transactional
// store)" spec.md §1 calls out as a pluggable external collaborator. The
// runner and bounded executor depend only on this interface-shaped type,
// never on *sql.DB directly.
type Session struct {
	tx *sql.Tx
}

// Commit commits the underlying transaction.
func (s *Session) Commit() error {
	return s.tx.Commit()
}

// Rollback rolls back the underlying transaction. Safe to call after a
// successful Commit (sql.Tx.Rollback then returns sql.ErrTxDone, which we
// swallow, matching the standard defer-rollback idiom).
func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

const jobColumns = `id, status, filename, content_type, domain, pipeline_id, schema_id, error, source_text, signals, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var signalsJSON string
	if err := row.Scan(
		&j.ID, &j.Status, &j.Filename, &j.ContentType,
		&j.Domain, &j.PipelineID, &j.SchemaID, &j.Error,
		&j.SourceText, &signalsJSON, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	signals, err := unmarshalJSON(signalsJSON)
	if err != nil {
		return nil, err
	}
	j.Signals = signals
	return &j, nil
}

// InsertJob creates a new job row in RECEIVED status. If id is empty, a
// fresh UUID is generated, satisfying the "opaque 36-char identifier"
// requirement exactly.
func (s *Session) InsertJob(ctx context.Context, id, filename, contentType, sourceText string) (*Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO jobs (id, status, filename, content_type, source_text, signals)
		VALUES (?, ?, ?, ?, ?, '{}')`,
		id, string(jobstate.Received), filename, contentType, sourceText)
	if err != nil {
		return nil, fmt.Errorf("store: insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob loads a job row by id within this session.
func (s *Session) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %s: %w", id, err)
	}
	return job, nil
}

// WriteAuditEvent appends an immutable audit event to the job's timeline
// (C2). Audit rows are never updated or deleted; ordering by id reflects
// causal order within a job (spec §3, §5).
func (s *Session) WriteAuditEvent(ctx context.Context, jobID, eventType string, payload map[string]any) error {
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(ctx, `
		INSERT INTO audit_events (job_id, event_type, payload) VALUES (?, ?, ?)`,
		jobID, eventType, payloadJSON)
	if err != nil {
		return fmt.Errorf("store: write audit event %s for job %s: %w", eventType, jobID, err)
	}
	return nil
}

// ListAuditEvents returns every audit event for a job in causal (id) order.
func (s *Session) ListAuditEvents(ctx context.Context, jobID string) ([]AuditEvent, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, job_id, event_type, payload, created_at
		FROM audit_events WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list audit events for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var payloadJSON string
		if err := rows.Scan(&e.ID, &e.JobID, &e.EventType, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		payload, err := unmarshalJSON(payloadJSON)
		if err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertArtifact always inserts a new artifact row (C3: append-only).
// Readers take the latest row per name by id.
func (s *Session) UpsertArtifact(ctx context.Context, jobID, name string, payload map[string]any) (*Artifact, error) {
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return nil, err
	}
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, name, payload) VALUES (?, ?, ?)`,
		jobID, name, payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("store: upsert artifact %s for job %s: %w", name, jobID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: artifact last insert id: %w", err)
	}
	return &Artifact{ID: id, JobID: jobID, Name: name, Payload: payload}, nil
}

// ListArtifacts returns every artifact ever written for a job, oldest
// first.
func (s *Session) ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, job_id, name, payload, created_at
		FROM artifacts WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var payloadJSON string
		if err := rows.Scan(&a.ID, &a.JobID, &a.Name, &payloadJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		payload, err := unmarshalJSON(payloadJSON)
		if err != nil {
			return nil, err
		}
		a.Payload = payload
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// LatestArtifact returns the most recently written artifact with the given
// name, or nil if none exists.
func LatestArtifact(artifacts []Artifact, name string) *Artifact {
	var latest *Artifact
	for i := range artifacts {
		if artifacts[i].Name == name {
			latest = &artifacts[i]
		}
	}
	return latest
}

// MergeSignals shallow-merges newSignals onto the job's persisted signals
// (C4): later writes overwrite earlier keys, nothing is ever deleted. The
// merged job row is returned.
func (s *Session) MergeSignals(ctx context.Context, jobID string, newSignals map[string]any) (*Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(job.Signals)+len(newSignals))
	for k, v := range job.Signals {
		merged[k] = v
	}
	for k, v := range newSignals {
		merged[k] = v
	}
	signalsJSON, err := marshalJSON(merged)
	if err != nil {
		return nil, err
	}
	if _, err := s.tx.ExecContext(ctx, `
		UPDATE jobs SET signals = ?, updated_at = datetime('now') WHERE id = ?`,
		signalsJSON, jobID); err != nil {
		return nil, fmt.Errorf("store: merge signals for job %s: %w", jobID, err)
	}
	return s.GetJob(ctx, jobID)
}

// SetRouting persists the planner's routing decision onto the job row.
func (s *Session) SetRouting(ctx context.Context, jobID, domain, pipelineID, schemaID string) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE jobs SET domain = ?, pipeline_id = ?, schema_id = ?, updated_at = datetime('now')
		WHERE id = ?`, domain, pipelineID, schemaID, jobID)
	if err != nil {
		return fmt.Errorf("store: set routing for job %s: %w", jobID, err)
	}
	return nil
}

// SetJobStatus validates the transition via jobstate, persists it, and
// emits a STATUS_CHANGED audit event, atomically within this session
// (spec §4.1). An illegal transition is rejected and the row is left
// untouched.
func (s *Session) SetJobStatus(ctx context.Context, jobID string, to jobstate.Status, reason string) (*Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	from := job.Status
	if err := jobstate.EnsureTransitionAllowed(from, to); err != nil {
		return nil, err
	}

	if _, err := s.tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		string(to), jobID); err != nil {
		return nil, fmt.Errorf("store: set job status for job %s: %w", jobID, err)
	}

	if err := s.WriteAuditEvent(ctx, jobID, "STATUS_CHANGED", map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}); err != nil {
		return nil, err
	}

	return s.GetJob(ctx, jobID)
}

// SetJobError records a failure reason on the job row without touching
// status.
func (s *Session) SetJobError(ctx context.Context, jobID, reason string) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE jobs SET error = ?, updated_at = datetime('now') WHERE id = ?`, reason, jobID)
	if err != nil {
		return fmt.Errorf("store: set job error for job %s: %w", jobID, err)
	}
	return nil
}
