package otelcol

import (
	"context"

	"britepool/pkg/config"
	"britepool/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		exporters.New,
		NewTracerProvider,
	),
	fx.Invoke(Register),
)

type TracerParams struct {
	fx.In

	Lc       fx.Lifecycle
	Config   *config.Config
	Exporter trace.SpanExporter `optional:"true"`
}

func serviceResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

// NewTracerProvider builds the SDK provider. Without an exporter spans are
// still created so trace ids reach the logs, they are just never shipped.
func NewTracerProvider(p TracerParams) *trace.TracerProvider {
	opts := []trace.TracerProviderOption{
		trace.WithResource(serviceResource(p.Config)),
	}
	if p.Exporter != nil {
		opts = append(opts, trace.WithBatcher(p.Exporter))
	}

	tp := trace.NewTracerProvider(opts...)

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp
}

// Register installs tp as the global provider used by otel.Tracer.
func Register(tp *trace.TracerProvider, cfg *config.Config) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Otel.Addr == "" {
		zap.L().Info("otel exporter disabled")
		return
	}
	zap.L().Info("otel exporter enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))
}
