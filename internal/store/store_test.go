package store

import (
	"context"
	"errors"
	"testing"

	"github.com/antigravity-dev/docops/internal/jobstate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateJobWritesJobAndAuditEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "invoice.pdf", "application/pdf", "some text")
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.Status != jobstate.Received {
		t.Errorf("expected RECEIVED, got %s", job.Status)
	}

	events, err := s.ListAuditEvents(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != "JOB_CREATED" {
		t.Fatalf("expected single JOB_CREATED event, got %+v", events)
	}
	if events[0].Payload["filename"] != "invoice.pdf" {
		t.Errorf("unexpected payload: %+v", events[0].Payload)
	}
}

func TestGetJobMissingReturnsErrJobNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetJob(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSetJobStatusAppliesLegalTransitionAndAudits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "f.pdf", "application/pdf", "x")
	if err != nil {
		t.Fatal(err)
	}

	updated, err := s.SetJobStatus(ctx, job.ID, jobstate.Preprocessed, "preprocessing_done")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != jobstate.Preprocessed {
		t.Errorf("expected PREPROCESSED, got %s", updated.Status)
	}

	events, err := s.ListAuditEvents(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].EventType != "STATUS_CHANGED" {
		t.Fatalf("expected JOB_CREATED then STATUS_CHANGED, got %+v", events)
	}
	if events[1].Payload["from"] != "RECEIVED" || events[1].Payload["to"] != "PREPROCESSED" {
		t.Errorf("unexpected status change payload: %+v", events[1].Payload)
	}
}

func TestSetJobStatusRejectsIllegalTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "f.pdf", "application/pdf", "x")
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.SetJobStatus(ctx, job.ID, jobstate.Succeeded, "skip_ahead")
	var it *jobstate.InvalidTransition
	if !errors.As(err, &it) {
		t.Fatalf("expected jobstate.InvalidTransition, got %v", err)
	}

	// Row must be untouched by the rejected transition.
	reloaded, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != jobstate.Received {
		t.Errorf("expected status unchanged at RECEIVED, got %s", reloaded.Status)
	}
}

func TestArtifactsAreAppendOnlyAndOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "f.pdf", "application/pdf", "x")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.UpsertArtifact(ctx, job.ID, "extraction", map[string]any{"version": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.UpsertArtifact(ctx, job.ID, "extraction", map[string]any{"version": 2}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	artifacts, err := s.ListArtifacts(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts (append-only), got %d", len(artifacts))
	}

	latest := LatestArtifact(artifacts, "extraction")
	if latest == nil {
		t.Fatal("expected a latest extraction artifact")
	}
	if v, _ := latest.Payload["version"].(float64); v != 2 {
		t.Errorf("expected latest version 2, got %v", latest.Payload["version"])
	}
}

func TestMergeSignalsIsLaterWinsShallowMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "f.pdf", "application/pdf", "x")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.MergeSignals(ctx, job.ID, map[string]any{"a": 1, "b": 1}); err != nil {
		t.Fatal(err)
	}
	updated, err := sess.MergeSignals(ctx, job.ID, map[string]any{"b": 2, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	if updated.Signals["a"].(float64) != 1 || updated.Signals["b"].(float64) != 2 || updated.Signals["c"].(float64) != 3 {
		t.Errorf("unexpected merged signals: %+v", updated.Signals)
	}
}

func TestSessionRollbackDiscardsUncommittedWork(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "", "f.pdf", "application/pdf", "x")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.SetJobStatus(ctx, job.ID, jobstate.Preprocessed, "in_flight"); err != nil {
		t.Fatal(err)
	}
	if err := sess.Rollback(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != jobstate.Received {
		t.Errorf("expected rolled-back status RECEIVED, got %s", reloaded.Status)
	}
}
