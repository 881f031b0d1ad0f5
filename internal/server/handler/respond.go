package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/webhook"
)

// Ingestor accepts webhook deliveries.
type Ingestor interface {
	Ingest(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

// JobService creates, inspects and cancels jobs.
type JobService interface {
	Enqueue(ctx context.Context, req jobs.Request) (*core.BuildJob, error)
	Cancel(ctx context.Context, id string) (*core.BuildJob, error)
	Get(ctx context.Context, id string) (*core.BuildJob, error)
	List(ctx context.Context, filter core.JobFilter) ([]*core.BuildJob, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
