package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/jobs"
)

// JobsHandler serves the jobs API.
type JobsHandler struct {
	jobs   JobService
	logger *slog.Logger
}

func NewJobsHandler(service JobService, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: service, logger: logger}
}

// TriggerRequest is the body of a manual build request.
type TriggerRequest struct {
	Repository string `json:"repository"`
	Commit     string `json:"commit"`
	Ref        string `json:"ref,omitempty"`
}

// JobSummary is the list view of a job; step results are omitted.
type JobSummary struct {
	ID         string           `json:"id"`
	Repository string           `json:"repository"`
	CommitSHA  string           `json:"commit_sha"`
	Pipeline   string           `json:"pipeline"`
	Trigger    core.TriggerKind `json:"trigger"`
	State      core.JobState    `json:"state"`
	Summary    core.Summary     `json:"summary,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  string           `json:"created_at"`
}

func summarize(job *core.BuildJob) JobSummary {
	return JobSummary{
		ID:         job.ID,
		Repository: job.Repository,
		CommitSHA:  job.CommitSHA,
		Pipeline:   job.Pipeline,
		Trigger:    job.Trigger,
		State:      job.State,
		Summary:    job.Summary,
		Reason:     job.Reason,
		CreatedAt:  job.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List handles GET /jobs?repository=&state=&limit=.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.JobFilter{Repository: q.Get("repository")}

	if s := q.Get("state"); s != "" {
		state := core.JobState(strings.ToUpper(s))
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state "+s)
			return
		}
		filter.State = state
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	list, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]JobSummary, 0, len(list))
	for _, job := range list {
		out = append(out, summarize(job))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Trigger handles POST /jobs, a manual build of a registered repository.
func (h *JobsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repository == "" || req.Commit == "" {
		writeError(w, http.StatusBadRequest, "repository and commit are required")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), jobs.Request{
		Repository: req.Repository,
		CommitSHA:  req.Commit,
		Ref:        req.Ref,
		Trigger:    core.TriggerManual,
	})
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Cancel handles POST /jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobsHandler) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, core.ErrUnknownRepository):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrOverloaded), errors.Is(err, core.ErrSchedulerStopped):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "jobs request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
