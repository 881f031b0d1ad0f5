// Package app initializes and orchestrates the main components of the
// build-warden service: recovery, the scheduler and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/build-warden/internal/config"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/server"
)

// httpShutdownTimeout bounds how long in-flight requests may take once
// shutdown begins.
const httpShutdownTimeout = 10 * time.Second

// App holds the main application components.
type App struct {
	cfg       *config.Config
	recovery  *jobs.RecoveryManager
	scheduler *jobs.Scheduler
	service   *jobs.Service
	server    *server.Server
	logger    *slog.Logger
}

// NewApp sets up the application with all its dependencies.
func NewApp(
	cfg *config.Config,
	recovery *jobs.RecoveryManager,
	scheduler *jobs.Scheduler,
	service *jobs.Service,
	srv *server.Server,
	logger *slog.Logger,
) *App {
	return &App{
		cfg:       cfg,
		recovery:  recovery,
		scheduler: scheduler,
		service:   service,
		server:    srv,
		logger:    logger,
	}
}

// Run reconciles jobs left behind by a previous process, starts the
// scheduler and serves HTTP until ctx is cancelled or the server fails.
// It then shuts down in order: HTTP first, then the scheduler.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting build-warden",
		"server_port", a.cfg.Server.Port,
		"max_workers", a.cfg.Build.MaxWorkers,
		"queue_depth", a.cfg.Build.QueueDepth,
		"storage", a.cfg.Storage.Driver,
		"repositories", len(a.cfg.Repositories))

	if a.cfg.Webhook.Secret == "" {
		a.logger.Warn("WEBHOOK_SECRET is not set; every webhook delivery will be rejected")
	}

	report, err := a.recovery.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	a.scheduler.Start()
	if n := a.service.Resubmit(ctx, report.Requeue); n > 0 || len(report.Requeue) > 0 {
		a.logger.Info("resubmitted queued jobs", "submitted", n, "found", len(report.Requeue))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.stop()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("build-warden stopped with errors", "error", err)
		return err
	}
	a.logger.Info("build-warden stopped successfully")
	return nil
}

// stop shuts the components down cleanly.
func (a *App) stop() error {
	a.logger.Info("shutting down build-warden services")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop(httpShutdownTimeout)
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	// Running jobs get the grace period; pending jobs stay QUEUED for the next start.
	schedErr := a.scheduler.Stop(a.cfg.Build.ShutdownGrace)
	if schedErr != nil {
		a.logger.Error("scheduler did not drain in time", "error", schedErr)
	}

	return errors.Join(serverErr, schedErr)
}
