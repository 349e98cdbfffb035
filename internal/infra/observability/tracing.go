package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// TraceHeaderName is the W3C correlation header attached to outgoing calls.
const TraceHeaderName = "traceparent"

// InitTracer installs an OTLP/gRPC tracer provider and the W3C propagators.
// An empty endpoint leaves the global no-op provider in place.
func InitTracer(endpoint, serviceName string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// OTelTracer implements port.Tracer on top of OpenTelemetry.
type OTelTracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewOTelTracer uses the global provider and propagator.
func NewOTelTracer(name string) *OTelTracer {
	return NewOTelTracerWith(otel.GetTracerProvider(), otel.GetTextMapPropagator(), name)
}

// NewOTelTracerWith uses an explicit provider and propagator.
func NewOTelTracerWith(tp trace.TracerProvider, prop propagation.TextMapPropagator, name string) *OTelTracer {
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return &OTelTracer{tracer: tp.Tracer(name), propagator: prop}
}

// Start opens a client span for an outgoing call.
func (t *OTelTracer) Start(ctx context.Context, operation string, attrs map[string]string) (context.Context, port.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, span := t.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(kvs...),
	)
	return ctx, &otelSpan{ctx: ctx, span: span, propagator: t.propagator}
}

type otelSpan struct {
	ctx        context.Context
	span       trace.Span
	propagator propagation.TextMapPropagator
}

// TraceHeader renders traceparent; it is absent for non-recording spans
// from the no-op provider.
func (s *otelSpan) TraceHeader() (string, string, bool) {
	carrier := propagation.MapCarrier{}
	s.propagator.Inject(s.ctx, carrier)
	v := carrier.Get(TraceHeaderName)
	return TraceHeaderName, v, v != ""
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
