package telemetry

import (
	"context"

	"github.com/vango-dev/pulse/pkg/reactive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "pulse"

// SpanName is the name of every subscriber execution span.
const SpanName = "pulse.subscriber"

// TracerOption configures the OpenTelemetry observer.
type TracerOption func(*tracerConfig)

type tracerConfig struct {
	name     string
	provider trace.TracerProvider
}

// WithTracerName sets the instrumentation name (default: "pulse").
func WithTracerName(name string) TracerOption {
	return func(c *tracerConfig) {
		c.name = name
	}
}

// WithTracerProvider sets the provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(c *tracerConfig) {
		c.provider = tp
	}
}

// Tracer is a reactive.Observer that emits one span per subscriber
// execution. Spans are created after the fact from ExecInfo timestamps, so
// nested executions appear as siblings rather than children.
type Tracer struct {
	tracer trace.Tracer
}

var _ reactive.Observer = (*Tracer)(nil)

// NewTracer creates a span-emitting observer.
func NewTracer(opts ...TracerOption) *Tracer {
	config := tracerConfig{name: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.provider == nil {
		config.provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: config.provider.Tracer(config.name)}
}

// SignalWritten implements reactive.Observer. Writes are not traced.
func (t *Tracer) SignalWritten(reactive.WriteInfo) {}

// SubscriberExecuted implements reactive.Observer.
func (t *Tracer) SubscriberExecuted(info reactive.ExecInfo) {
	_, span := t.tracer.Start(context.Background(), SpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(info.Start),
		trace.WithAttributes(
			attribute.Int64("pulse.root.id", int64(info.RootID)),
			attribute.Int64("pulse.subscriber.id", int64(info.SubscriberID)),
			attribute.Int64("pulse.run", int64(info.Run)),
			attribute.Int("pulse.depth", info.Depth),
			attribute.Int("pulse.dependencies", info.Dependencies),
		),
	)
	if info.Panicked {
		span.SetStatus(codes.Error, "subscriber panicked")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(info.Start.Add(info.Duration)))
}
