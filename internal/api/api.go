// Package api provides the HTTP surface for the jobs resource (spec.md
// §6): create a job, inspect it, list its audit trail and artifacts,
// force a status transition, and trigger a run.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/docops/internal/config"
	"github.com/antigravity-dev/docops/internal/executor"
	"github.com/antigravity-dev/docops/internal/jobstate"
	"github.com/antigravity-dev/docops/internal/runner"
	"github.com/antigravity-dev/docops/internal/store"
)

// Server is the jobs HTTP API.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	runner     *runner.Runner
	logger     *slog.Logger
	startTime  time.Time
	httpServer *http.Server
}

// NewServer builds a Server. The runner already carries its own executor,
// planner, and policy — the server only needs the runner for
// POST /jobs/{id}/run and the store for every other endpoint and for the
// run-failure cleanup.
func NewServer(cfg *config.Config, s *store.Store, r *runner.Runner, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, store: s, runner: r, logger: logger, startTime: time.Now()}
}

// Start begins listening on the configured bind address. Blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/jobs", s.handleJobsCollection)
	mux.HandleFunc("/jobs/", s.handleJobsItem)

	s.httpServer = &http.Server{
		Addr:        s.cfg.API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}

type createJobRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

func nsOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func jobResponse(j *store.Job) map[string]any {
	return map[string]any{
		"id":           j.ID,
		"status":       j.Status,
		"filename":     j.Filename,
		"content_type": j.ContentType,
		"domain":       nsOrEmpty(j.Domain),
		"pipeline_id":  nsOrEmpty(j.PipelineID),
		"schema_id":    nsOrEmpty(j.SchemaID),
		"error":        nsOrEmpty(j.Error),
		"signals":      j.Signals,
		"created_at":   j.CreatedAt.Format(time.RFC3339),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339),
	}
}

// POST /jobs
func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported on /jobs")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.store.CreateJob(r.Context(), "", req.Filename, req.ContentType, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse(job))
}

// Routes everything under /jobs/{id}[/events|/artifacts|/status|/run].
func (s *Server) handleJobsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if rest == "" {
		s.handleJobsCollection(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetJob(w, r, id)
	case sub == "events" && r.Method == http.MethodGet:
		s.handleListEvents(w, r, id)
	case sub == "artifacts" && r.Method == http.MethodGet:
		s.handleListArtifacts(w, r, id)
	case sub == "status" && r.Method == http.MethodPost:
		s.handleSetStatus(w, r, id)
	case sub == "run" && r.Method == http.MethodPost:
		s.handleRunJob(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.store.GetJob(r.Context(), id); errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	events, err := s.store.ListAuditEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.store.GetJob(r.Context(), id); errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	artifacts, err := s.store.ListArtifacts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

type setStatusRequest struct {
	ToStatus string `json:"to_status"`
	Reason   string `json:"reason"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.store.SetJobStatus(r.Context(), id, jobstate.Status(req.ToStatus), req.Reason)
	var invalid *jobstate.InvalidTransition
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

// handleRunJob maps the runner's failure modes to the boundary contract
// in spec.md §4.5: PolicyDenied → FAILED "policy_denied" + 403; any other
// error → FAILED "run_failed" + 500. Status-update failures during this
// cleanup are logged but never mask the original error.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request, id string) {
	result, err := s.runner.RunJob(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":       result.JobID,
			"final_status": result.FinalStatus,
			"signals":      result.Signals,
			"note":         result.Note,
		})
		return
	}

	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, runner.ErrMissingSource) {
		writeError(w, http.StatusBadRequest, "job has no source text")
		return
	}

	var policyDenied *executor.PolicyDenied
	kind, code := "run_failed", http.StatusInternalServerError
	if errors.As(err, &policyDenied) {
		kind, code = "policy_denied", http.StatusForbidden
	}

	if _, setErr := s.store.SetJobStatus(r.Context(), id, jobstate.Failed, kind); setErr != nil {
		s.logger.Error("failed to mark job FAILED after run error", "job_id", id, "run_error", err, "set_status_error", setErr)
	}
	if auditErr := s.writeErrorAudit(r.Context(), id, err, kind); auditErr != nil {
		s.logger.Error("failed to write ERROR audit event", "job_id", id, "error", auditErr)
	}

	writeError(w, code, err.Error())
}

func (s *Server) writeErrorAudit(ctx context.Context, jobID string, runErr error, kind string) error {
	sess, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	if err := sess.WriteAuditEvent(ctx, jobID, "ERROR", map[string]any{
		"error": runErr.Error(),
		"kind":  kind,
	}); err != nil {
		return err
	}
	return sess.Commit()
}
