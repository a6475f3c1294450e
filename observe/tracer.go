package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Lifecycle event names.
const (
	EventInstall  = "install"
	EventActivate = "activate"
	EventFetch    = "fetch"
)

// EventMeta describes a lifecycle event for telemetry purposes.
type EventMeta struct {
	Name    string // install|activate|fetch
	Version string // cache generation name (optional)
	URL     string // request URL for fetch events (optional)
	Method  string // request method for fetch events (optional)
}

// SpanName returns the deterministic span name for this event.
// Format: offlinecache.<name>
func (m EventMeta) SpanName() string {
	return "offlinecache." + m.Name
}

func (m EventMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("event.name", m.Name),
	}
	if m.Version != "" {
		attrs = append(attrs, attribute.String("cache.version", m.Version))
	}
	if m.Method != "" {
		attrs = append(attrs, attribute.String("http.request.method", m.Method))
	}
	if m.URL != "" {
		attrs = append(attrs, attribute.String("url.full", m.URL))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with lifecycle span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a lifecycle event.
	StartSpan(ctx context.Context, meta EventMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with event metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta EventMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("event.error", false))

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("event.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta EventMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
