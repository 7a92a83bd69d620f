// Package telemetry sets up OpenTelemetry tracing exported to Jaeger, the
// way the teacher's own platform/telemetry wired a TracerProvider; trimmed
// to tracing only since Prometheus metrics now live in platform/metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the tracer provider for one process.
type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config configures tracing export.
type Config struct {
	ServiceName    string
	JaegerEndpoint string
	TracingEnabled bool
}

// New builds a Telemetry instance. When cfg.TracingEnabled is false, Tracer
// returns a no-op tracer and spans are discarded, so callers never need to
// branch on whether tracing is configured.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{tracer: otel.Tracer(cfg.ServiceName)}
	if !cfg.TracingEnabled {
		return t, nil
	}

	provider, err := newProvider(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	t.provider = provider
	otel.SetTracerProvider(provider)
	t.tracer = otel.Tracer(cfg.ServiceName)
	return t, nil
}

func newProvider(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// Tracer returns the process tracer, usable even when tracing is disabled
// (spans are simply dropped by the global no-op tracer in that case).
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// Close flushes and shuts down the exporter, if tracing was enabled.
func (t *Telemetry) Close(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
