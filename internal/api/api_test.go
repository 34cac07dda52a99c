package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/docops/internal/config"
	"github.com/antigravity-dev/docops/internal/executor"
	"github.com/antigravity-dev/docops/internal/planner"
	"github.com/antigravity-dev/docops/internal/policy"
	"github.com/antigravity-dev/docops/internal/runner"
	"github.com/antigravity-dev/docops/internal/store"
	"github.com/antigravity-dev/docops/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, pol *policy.Policy) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	reg := tool.DefaultRegistry()
	ex := executor.New(pol, reg, rate.NewLimiter(rate.Inf, 0), testLogger())
	r := runner.New(s, planner.Default{}, ex, reg, pol)
	cfg := &config.Config{API: config.API{Bind: ":0"}}
	return NewServer(cfg, s, r, testLogger()), s
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	srv.handleJobsItem(rec, req)
	return rec
}

func createJob(t *testing.T, srv *Server) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"filename":"invoice.pdf","content_type":"application/pdf","text":"some source text"}`))
	rec := httptest.NewRecorder()
	srv.handleJobsCollection(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating job, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	id, _ := got["id"].(string)
	if id == "" {
		t.Fatalf("expected job id in response, got %+v", got)
	}
	return id
}

func TestCreateJobReturns201AndBody(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)
	if id == "" {
		t.Fatal("expected non-empty job id")
	}
}

func TestGetJobReturns200(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	srv.handleJobsItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.handleJobsItem(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListEventsReturns200(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/events", nil)
	rec := httptest.NewRecorder()
	srv.handleJobsItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var events []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("expected at least the JOB_CREATED event")
	}
}

func TestListArtifactsReturns200(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/artifacts", nil)
	rec := httptest.NewRecorder()
	srv.handleJobsItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetStatusAppliesLegalTransition(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	rec := postJSON(t, srv, "/jobs/"+id+"/status", map[string]string{
		"to_status": "PREPROCESSED",
		"reason":    "manual override",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	rec := postJSON(t, srv, "/jobs/"+id+"/status", map[string]string{
		"to_status": "SUCCEEDED",
		"reason":    "skip everything",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetStatusMissingJobReturns404(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())

	rec := postJSON(t, srv, "/jobs/does-not-exist/status", map[string]string{
		"to_status": "PREPROCESSED",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunJobHappyPathReturns200(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())
	id := createJob(t, srv)

	rec := postJSON(t, srv, "/jobs/"+id+"/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunJobMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())

	rec := postJSON(t, srv, "/jobs/does-not-exist/run", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunJobMissingSourceReturns400(t *testing.T) {
	srv, s := newTestServer(t, policy.Default())

	sess, err := s.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	job, err := sess.InsertJob(context.Background(), "", "empty.txt", "text/plain", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	rec := postJSON(t, srv, "/jobs/"+job.ID+"/run", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunJobPolicyDeniedReturns403AndMarksFailed(t *testing.T) {
	srv, s := newTestServer(t, policy.New(nil, nil))
	id := createJob(t, srv)

	rec := postJSON(t, srv, "/jobs/"+id+"/run", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	job, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "FAILED" {
		t.Errorf("expected job marked FAILED after policy denial, got %s", job.Status)
	}

	events, err := s.ListAuditEvents(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	var sawError bool
	for _, e := range events {
		if e.EventType == "ERROR" && e.Payload["kind"] == "policy_denied" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an ERROR audit event with kind=policy_denied")
	}
}

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(t, policy.Default())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
