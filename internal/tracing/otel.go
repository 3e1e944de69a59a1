// Package tracing provides OTel tracer initialization for agent-fleet,
// scoped to the orchestrator's dispatch and run spans.
package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// Init configures the global tracer provider. When endpoint is empty, spans
// are recorded in-process only (no exporter runs, so nothing leaves the
// host) — the default, consistent with keeping the event log itself local.
// When endpoint is set, spans are additionally shipped via OTLP/HTTP.
func Init(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	providerMu.Lock()
	defer providerMu.Unlock()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)))
	}

	provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns a named tracer from the global provider, falling back to a
// no-op provider if Init was never called (e.g. in unit tests).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

const (
	orchestratorTracer = "agent-fleet-orchestrator"
	runnerTracer       = "agent-fleet-runner"
)

// StartDispatch opens a span around a single orchestrator dispatch.
func StartDispatch(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := Tracer(orchestratorTracer).Start(ctx, "orchestrator.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("task_id", taskID))
	return ctx, span
}

// StartRunnerExecute opens a span around one agent-runner subprocess execution.
func StartRunnerExecute(ctx context.Context, executionID string) (context.Context, trace.Span) {
	ctx, span := Tracer(runnerTracer).Start(ctx, "runner.execute",
		trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("execution_id", executionID))
	return ctx, span
}
