// Package telemetry integrates run observability with Clue logging and
// OpenTelemetry metrics and tracing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime.
// Implementations typically delegate to Clue but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code can remain agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
//
//	ctx, span := tracer.Start(ctx, "run.model_call")
//	defer span.End()
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric names recorded by the runtime.
const (
	// MetricRunsStarted counts dispatched runs by agent.
	MetricRunsStarted = "agentrun.runs.started"
	// MetricRunsCompleted counts terminal runs by agent and status.
	MetricRunsCompleted = "agentrun.runs.completed"
	// MetricRunDuration measures run wall-clock duration.
	MetricRunDuration = "agentrun.run.duration"
	// MetricModelTokens counts aggregate tokens by agent and direction.
	MetricModelTokens = "agentrun.model.tokens"
	// MetricBackgroundTaskFailures counts swallowed background task errors.
	MetricBackgroundTaskFailures = "agentrun.background.failures"
)
