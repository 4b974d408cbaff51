package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"britepool/pkg/access"
	"britepool/pkg/config"
	"britepool/pkg/db"
	"britepool/pkg/events"
	"britepool/pkg/gen"
	"britepool/pkg/health"
	"britepool/pkg/httpapi"
	"britepool/pkg/idempotency"
	"britepool/pkg/identity"
	"britepool/pkg/logger"
	"britepool/pkg/otelcol"
	"britepool/pkg/profiling"
	"britepool/pkg/redis"
	"britepool/pkg/server"
	"britepool/services/bootstrap"
	"britepool/services/participation"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		identity.Module,
		access.Module,
		idempotency.Module,
		events.Module,
		health.Module,
		server.ProvideHTTPServer,
		httpapi.Module,
		participation.Module,
		bootstrap.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
