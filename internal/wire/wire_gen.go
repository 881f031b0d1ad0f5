// Code generated manually. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"fmt"

	"github.com/sevigo/build-warden/internal/app"
	"github.com/sevigo/build-warden/internal/config"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/server"
)

// InitializeApp creates and wires all application dependencies.
func InitializeApp() (*app.App, func(), error) {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	slogLogger := provideLogger(cfg)

	// Storage
	store, storeCleanup, err := provideJobStore(cfg, slogLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}

	// Execution
	processRunner := provideRunner(slogLogger)
	workspaces, err := provideWorkspaces(cfg, slogLogger)
	if err != nil {
		storeCleanup()
		return nil, nil, fmt.Errorf("failed to prepare workspace directory: %w", err)
	}
	gitClient := provideGitClient(cfg, slogLogger)
	notifier := provideNotifier(cfg, slogLogger)
	executor := provideExecutor(cfg, store, processRunner, workspaces, gitClient, notifier, slogLogger)

	// Scheduling
	scheduler := provideScheduler(cfg, executor, store, slogLogger)
	service := provideService(cfg, store, scheduler, slogLogger)
	recovery := provideRecovery(cfg, store, slogLogger)

	// Ingestion
	ingestor := provideIngestor(cfg, service, slogLogger)

	// Server
	deps := provideServerDeps(cfg, ingestor, service)
	srv := server.NewServer(cfg, deps, slogLogger)

	// App
	application := app.NewApp(cfg, recovery, scheduler, service, srv, slogLogger)

	cleanup := func() {
		storeCleanup()
	}

	return application, cleanup, nil
}

// InitializeRecovery wires only what an offline recovery pass needs.
func InitializeRecovery() (*jobs.RecoveryManager, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slogLogger := provideLogger(cfg)

	store, storeCleanup, err := provideJobStore(cfg, slogLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}
	recovery := provideRecovery(cfg, store, slogLogger)
	return recovery, storeCleanup, nil
}
