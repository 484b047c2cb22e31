// Package tracing configures the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"neighbourhood-chat/internal/logger"
)

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context) error

// Init installs W3C propagation and, when endpoint is set, a batching
// provider exporting over OTLP/gRPC. Without an endpoint spans stay no-op.
func Init(ctx context.Context, endpoint, service, environment string) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if endpoint == "" {
		logger.Get().Info().Msg("tracing disabled: no OTLP endpoint")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider, err := NewProvider(exporter, service, environment)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(provider)
	logger.Get().Info().Str("endpoint", endpoint).Msg("tracing enabled")
	return provider.Shutdown, nil
}

// NewProvider builds a provider that batches spans into exporter.
func NewProvider(exporter sdktrace.SpanExporter, service, environment string) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", service),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	), nil
}
