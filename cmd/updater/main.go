package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/db"
	"updater-controlplane/pkg/gen"
	"updater-controlplane/pkg/hashistack/secretmanager"
	"updater-controlplane/pkg/health"
	"updater-controlplane/pkg/httpapi"
	"updater-controlplane/pkg/logger"
	"updater-controlplane/pkg/minio"
	"updater-controlplane/pkg/otelcol"
	"updater-controlplane/pkg/process"
	"updater-controlplane/pkg/profiling"
	"updater-controlplane/pkg/redis"
	"updater-controlplane/pkg/server"
	"updater-controlplane/services/license"
	"updater-controlplane/services/sysinfo"
	"updater-controlplane/services/update"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Client,
		gen.Module,
		process.Module,
		otelcol.Module,
		profiling.Module,
		health.Module,
		httpapi.Module,
		sysinfo.Module,
		license.Module,
		update.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
