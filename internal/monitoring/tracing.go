package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "plutod"

	SpanNameHTTPRequest    = "http_request"
	SpanNameInstructionRun = "instruction_run"
	SpanNameComponentCall  = "component_call"
	SpanNameEventDispatch  = "event_dispatch"
)

// TracingConfig controls whether and how spans are exported.
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SamplingRate float64
}

// DefaultTracingConfig samples lightly and targets a local collector.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		Enabled:      true,
		OTLPEndpoint: "http://localhost:4318/v1/traces",
		ServiceName:  ServiceName,
		Environment:  "development",
		SamplingRate: 0.1,
	}
}

// Tracing manages the OpenTelemetry provider and exposes span helpers for
// the scheduler, component registry, and access surface.
type Tracing struct {
	config     *TracingConfig
	tracer     trace.Tracer
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracing builds a Tracing instance. When config.Enabled is false, it
// returns a tracer that no-ops (spans are created but never exported).
func NewTracing(config *TracingConfig) (*Tracing, error) {
	if !config.Enabled {
		return &Tracing{config: config, tracer: otel.Tracer(config.ServiceName)}, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("monitoring: create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("monitoring: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(propagator)

	return &Tracing{
		config:     config,
		tracer:     provider.Tracer(config.ServiceName),
		provider:   provider,
		propagator: propagator,
	}, nil
}

func (t *Tracing) Tracer() trace.Tracer { return t.tracer }

// Shutdown flushes and stops the tracer provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span tagged with the service name.
func (t *Tracing) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	base := []trace.SpanStartOption{
		trace.WithAttributes(attribute.String("service.name", t.config.ServiceName)),
	}
	return t.tracer.Start(ctx, name, append(base, opts...)...)
}

// InstructionRunSpan traces one Runner.Start/Run cycle.
func (t *Tracing) InstructionRunSpan(ctx context.Context, description string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanNameInstructionRun, trace.WithAttributes(
		attribute.String("instruction.description", description),
	))
}

// ComponentCallSpan traces a CallMethod/GetVariable/SetVariable round trip.
func (t *Tracing) ComponentCallSpan(ctx context.Context, component, operation, target string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanNameComponentCall, trace.WithAttributes(
		attribute.String("component.name", component),
		attribute.String("component.operation", operation),
		attribute.String("component.target", target),
	))
}

// EventDispatchSpan traces a single Bus.Post call.
func (t *Tracing) EventDispatchSpan(ctx context.Context, eventType string, wait bool) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanNameEventDispatch, trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Bool("event.wait", wait),
	))
}

// AddSpanEvent records a named point-in-time event on the active span.
func (t *Tracing) AddSpanEvent(ctx context.Context, name string, attributes ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span != nil {
		span.AddEvent(name, trace.WithAttributes(attributes...))
	}
}

// SetSpanError marks the active span as failed.
func (t *Tracing) SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span == nil || err == nil {
		return
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}

// HTTPMiddleware traces access-surface HTTP requests.
func (t *Tracing) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		spanCtx, span := t.StartSpan(ctx, SpanNameHTTPRequest,
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(r.Method),
				semconv.HTTPTargetKey.String(r.URL.Path),
			),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(spanCtx))

		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(wrapped.statusCode))
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapped.statusCode))
		}
	})
}

// WithTiming runs fn and records its duration as a
// pluto_instruction_duration_seconds-compatible measurement via Metrics;
// the caller supplies the Metrics so tracing and metrics stay decoupled.
// It starts no span of its own.
func WithTiming(ctx context.Context, metrics *Metrics, instruction string, fn func(ctx context.Context) (any, error)) (any, error) {
	start := time.Now()
	result, err := fn(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if metrics != nil {
		metrics.RecordInstructionRun(instruction, outcome, time.Since(start))
	}
	return result, err
}
