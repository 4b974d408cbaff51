package exporters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"britepool/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"
)

const dialTimeout = 10 * time.Second

// New returns the OTLP span exporter selected by OTEL.PROTOCOL, or nil when
// OTEL.ADDR is unset.
func New(cfg *config.Config) (trace.SpanExporter, error) {
	if cfg.Otel.Addr == "" {
		return nil, nil
	}

	var client otlptrace.Client
	switch strings.ToLower(cfg.Otel.Protocol) {
	case "", "http":
		client = otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Otel.Addr),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		)
	case "grpc":
		client = otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithCompressor("gzip"),
		)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("start otlp %s exporter: %w", cfg.Otel.Protocol, err)
	}
	return exp, nil
}
