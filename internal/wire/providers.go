package wire

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/sevigo/build-warden/internal/app"
	"github.com/sevigo/build-warden/internal/config"
	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/db"
	"github.com/sevigo/build-warden/internal/github"
	"github.com/sevigo/build-warden/internal/gitutil"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/logger"
	"github.com/sevigo/build-warden/internal/runner"
	"github.com/sevigo/build-warden/internal/server"
	"github.com/sevigo/build-warden/internal/storage"
	"github.com/sevigo/build-warden/internal/webhook"
	"github.com/sevigo/build-warden/internal/workspace"
)

// AppSet provides every component of the service.
var AppSet = wire.NewSet(
	config.LoadConfig,
	provideLogger,
	provideJobStore,
	provideRunner,
	provideWorkspaces,
	provideGitClient,
	provideNotifier,
	provideExecutor,
	provideScheduler,
	provideService,
	provideRecovery,
	provideIngestor,
	provideServerDeps,
	server.NewServer,
	app.NewApp,
)

func provideLogger(cfg *config.Config) *slog.Logger {
	l := logger.NewLogger(cfg.Logging, nil)
	slog.SetDefault(l)
	return l
}

// provideJobStore selects the job store named by STORAGE_DRIVER. The
// postgres store connects and migrates before returning.
func provideJobStore(cfg *config.Config, logger *slog.Logger) (core.JobStore, func(), error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory job store; job history is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	conn, cleanup, err := db.NewDatabase(&cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewStore(conn.DB), cleanup, nil
}

func provideRunner(logger *slog.Logger) *runner.Runner {
	return runner.New(logger)
}

func provideWorkspaces(cfg *config.Config, logger *slog.Logger) (*workspace.Manager, error) {
	return workspace.NewManager(cfg.Workspace.BaseDir, cfg.Workspace.Keep, logger)
}

func provideGitClient(cfg *config.Config, logger *slog.Logger) *gitutil.Client {
	return gitutil.NewClient(logger, cfg.Git.Token)
}

// provideNotifier returns nil unless commit status reporting is enabled.
func provideNotifier(cfg *config.Config, logger *slog.Logger) jobs.Notifier {
	if !cfg.GitHub.ReportStatus {
		return nil
	}
	client := github.NewPATClient(context.Background(), cfg.Git.Token, logger)
	return github.NewStatusReporter(client, cfg.GitHub.StatusContext, cfg.GitHub.PublicURL, logger)
}

func provideExecutor(cfg *config.Config, store core.JobStore, r *runner.Runner, ws *workspace.Manager, git *gitutil.Client, notifier jobs.Notifier, logger *slog.Logger) *jobs.Executor {
	return jobs.NewExecutor(store, r, ws, git, jobs.ExecutorConfig{
		JobTimeout:  cfg.Build.JobTimeout,
		OutputLimit: cfg.Build.OutputLimit,
		Notifier:    notifier,
	}, logger)
}

func provideScheduler(cfg *config.Config, executor *jobs.Executor, store core.JobStore, logger *slog.Logger) *jobs.Scheduler {
	return jobs.NewScheduler(executor, store, cfg, cfg.Build.MaxWorkers, cfg.Build.QueueDepth, logger)
}

func provideService(cfg *config.Config, store core.JobStore, scheduler *jobs.Scheduler, logger *slog.Logger) *jobs.Service {
	return jobs.NewService(store, scheduler, cfg, logger)
}

func provideRecovery(cfg *config.Config, store core.JobStore, logger *slog.Logger) *jobs.RecoveryManager {
	return jobs.NewRecoveryManager(store, cfg, logger)
}

func provideIngestor(cfg *config.Config, service *jobs.Service, logger *slog.Logger) *webhook.Ingestor {
	return webhook.NewIngestor(
		webhook.NewSignatureVerifier(cfg.Webhook.Secret),
		webhook.NewDeduplicator(cfg.Webhook.DedupCapacity, cfg.Webhook.DedupRetention),
		service,
		cfg,
		logger,
	)
}

func provideServerDeps(cfg *config.Config, ingestor *webhook.Ingestor, service *jobs.Service) server.Deps {
	return server.Deps{
		Ingestor:     ingestor,
		Jobs:         service,
		Limiter:      webhook.NewRateLimiter(cfg.Webhook.RateLimitPerMin),
		Repositories: cfg.Repositories,
	}
}
