// Package observability wires the process-wide telemetry: slog setup,
// Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/fairyhunter13/social-fetcher/internal/config"
)

// SetupTracing installs the OTLP trace pipeline when an endpoint is
// configured. The returned shutdown func is nil when tracing is off.
func SetupTracing(cfg config.Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		slog.Info("OTLP endpoint not set; tracing disabled")
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	// WithFromEnv folds in OTEL_RESOURCE_ATTRIBUTES so deploy-time labels
	// reach spans without a config change here.
	res, err := resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.OTELServiceName)),
	)
	if err != nil {
		return nil, err
	}

	ratio := samplingRatio(cfg.AppEnv)
	slog.Info("tracing configured",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sampling_ratio", ratio))

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// samplingRatio keeps prod at 10% to bound trace volume; everywhere else
// records every span.
func samplingRatio(env string) float64 {
	if env == "prod" {
		return 0.1
	}
	return 1.0
}
