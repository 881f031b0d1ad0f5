package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/metrics"
	"github.com/sevigo/build-warden/internal/server/handler"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Ingestor     handler.Ingestor
	Jobs         handler.JobService
	Limiter      Limiter
	Repositories []core.RepositoryConfig
}

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(deps Deps, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		webhookHandler := handler.NewWebhookHandler(deps.Ingestor, logger)
		r.With(rateLimit(deps.Limiter)).Post("/webhook/github", webhookHandler.Handle)

		jobsHandler := handler.NewJobsHandler(deps.Jobs, logger)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobsHandler.List)
			r.Post("/", jobsHandler.Trigger)
			r.Get("/{id}", jobsHandler.Get)
			r.Post("/{id}/cancel", jobsHandler.Cancel)
		})

		r.Get("/repositories", handler.NewRepositoriesHandler(deps.Repositories).List)
	})

	return r
}
