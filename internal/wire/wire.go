//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"github.com/sevigo/build-warden/internal/app"
	"github.com/sevigo/build-warden/internal/config"
	"github.com/sevigo/build-warden/internal/jobs"
)

func InitializeApp() (*app.App, func(), error) {
	wire.Build(AppSet)
	return &app.App{}, nil, nil
}

func InitializeRecovery() (*jobs.RecoveryManager, func(), error) {
	wire.Build(config.LoadConfig, provideLogger, provideJobStore, provideRecovery)
	return &jobs.RecoveryManager{}, nil, nil
}
