// Package obstrace wires a real OpenTelemetry TracerProvider for the HTTP
// server, grounded on pkg/observability/otel/otel_otlp.go's InitTracer: an
// OTLP/HTTP exporter is only attached when OTEL_EXPORTER_OTLP_ENDPOINT is
// set, so a deployment that hasn't stood up a collector gets the
// zero-cost no-op tracer rather than failing to start.
package obstrace

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/jacoblin/wark/internal/obslog"
)

// Init sets the global TracerProvider for serviceName and returns a
// shutdown func the caller must defer. If OTEL_EXPORTER_OTLP_ENDPOINT is
// unset, it logs once and leaves the global no-op provider in place —
// otelhttp's spans then cost nothing and are simply never exported.
func Init(serviceName string, log *obslog.Logger) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		log.Info("otel tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }
	}

	ctx := context.Background()
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		log.Error("otel exporter init failed", obslog.Err(err))
		return func(context.Context) error { return nil }
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		log.Error("otel resource init failed", obslog.Err(err))
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	log.Info("otel tracing enabled", obslog.String("endpoint", endpoint))
	return tp.Shutdown
}
