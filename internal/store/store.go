// Package store provides SQLite-backed persistence for jobs and the
// append-only audit/artifact stores, plus the transactional Session
// abstraction the runner and executor operate against.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/docops/internal/jobstate"
)

// Job is the persistent unit of work (spec §3).
type Job struct {
	ID          string
	Status      jobstate.Status
	Filename    string
	ContentType string
	Domain      sql.NullString
	PipelineID  sql.NullString
	SchemaID    sql.NullString
	Error       sql.NullString
	SourceText  string
	Signals     map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditEvent is one append-only timeline entry for a job (spec §3).
type AuditEvent struct {
	ID        int64
	JobID     string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

// Artifact is one append-only named structured output (spec §3).
type Artifact struct {
	ID        int64
	JobID     string
	Name      string
	Payload   map[string]any
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	domain TEXT,
	pipeline_id TEXT,
	schema_id TEXT,
	error TEXT,
	source_text TEXT NOT NULL DEFAULT '',
	signals TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id),
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id),
	name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_events_job ON audit_events(job_id, id);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_name ON artifacts(job_id, name, id);
`

// Store wraps the single *sql.DB backing jobs/audit_events/artifacts.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and ensures the schema
// exists, following the teacher's WAL + busy_timeout pragma convention.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a new Session (one *sql.Tx) for a single job run.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return &Session{tx: tx}, nil
}

// CreateJob inserts a new job row in RECEIVED status and writes its
// JOB_CREATED audit event, as one committed unit of work.
func (s *Store) CreateJob(ctx context.Context, id, filename, contentType, sourceText string) (*Job, error) {
	sess, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()

	job, err := sess.InsertJob(ctx, id, filename, contentType, sourceText)
	if err != nil {
		return nil, err
	}
	if err := sess.WriteAuditEvent(ctx, job.ID, "JOB_CREATED", map[string]any{
		"filename":     filename,
		"content_type": contentType,
		"has_text":     sourceText != "",
	}); err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob loads a job by id in its own short-lived session.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	sess, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()
	return sess.GetJob(ctx, id)
}

// ListAuditEvents returns every audit event for a job, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, jobID string) ([]AuditEvent, error) {
	sess, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()
	return sess.ListAuditEvents(ctx, jobID)
}

// ListArtifacts returns every artifact ever written for a job, oldest
// first; callers wanting "latest by name" should take the last match.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	sess, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()
	return sess.ListArtifacts(ctx, jobID)
}

// SetJobStatus validates and applies a single job-status transition in its
// own session, for the HTTP POST /jobs/{id}/status endpoint.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, to jobstate.Status, reason string) (*Job, error) {
	sess, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Rollback()

	job, err := sess.SetJobStatus(ctx, jobID, to, reason)
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal json: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("store: unmarshal json: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	return v, nil
}
