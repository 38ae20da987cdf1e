// Package tracing wires OpenTelemetry with a Jaeger exporter and holds the
// span helpers used by the capture, relay and HTTP layers.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "rillcast"

// Span attribute keys shared by the pipeline.
var (
	SessionIDKey = attribute.Key("session.id")
	StateKey     = attribute.Key("stream.state")
	FormatKey    = attribute.Key("stream.format")
	DeviceIDKey  = attribute.Key("device.id")
	ErrorKindKey = attribute.Key("error.kind")
	DurationKey  = attribute.Key("duration_ms")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// TracerProvider owns the SDK provider. The zero value (tracing disabled)
// is valid and its Shutdown does nothing.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a global provider exporting to Jaeger. With tracing disabled
// the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewSchemaless(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		)),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordTransition adds a state change event to the span in ctx.
func RecordTransition(ctx context.Context, from, to string) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("state.transition", trace.WithAttributes(
			attribute.String("stream.previous_state", from),
			StateKey.String(to),
		))
	}
}

// RecordDuration sets the elapsed time of operation on the span in ctx. The
// caller measures d so that a fake clock can drive it.
func RecordDuration(ctx context.Context, operation string, d time.Duration) {
	AddSpanAttributes(ctx, DurationKey.Int64(d.Milliseconds()), attribute.String("operation", operation))
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

func TraceCapture(ctx context.Context, videoDeviceID, audioDeviceID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "capture.acquire",
		trace.WithAttributes(
			DeviceIDKey.String(videoDeviceID),
			attribute.String("device.audio_id", audioDeviceID),
		),
	)
}

// TraceRelay starts a client span for a relay operation. endpoint must
// already be redacted.
func TraceRelay(ctx context.Context, operation, endpoint string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("relay.endpoint", endpoint)),
	)
}
