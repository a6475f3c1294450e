package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FetchSource identifies where an intercepted fetch was answered from.
type FetchSource string

const (
	// SourceCache means the current generation answered without network access.
	SourceCache FetchSource = "cache"
	// SourceNetwork means the network answered after a cache miss.
	SourceNetwork FetchSource = "network"
	// SourceFallback means the cached offline shell answered a failed navigation.
	SourceFallback FetchSource = "fallback"
	// SourceError means the fetch failed and the error reached the caller.
	SourceError FetchSource = "error"
)

// Metrics records lifecycle and fetch metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordPhase records a lifecycle phase with duration and error status.
	RecordPhase(ctx context.Context, meta EventMeta, duration time.Duration, err error)

	// RecordFetch records an intercepted fetch and where it was answered from.
	RecordFetch(ctx context.Context, meta EventMeta, source FetchSource, duration time.Duration)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	phaseTotal    metric.Int64Counter
	phaseErrors   metric.Int64Counter
	phaseDuration metric.Float64Histogram
	fetchTotal    metric.Int64Counter
	fetchDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	phaseTotal, err := meter.Int64Counter(
		"offlinecache.phase.total",
		metric.WithDescription("Total number of lifecycle phase runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	phaseErrors, err := meter.Int64Counter(
		"offlinecache.phase.errors",
		metric.WithDescription("Total number of failed lifecycle phase runs"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	phaseDuration, err := meter.Float64Histogram(
		"offlinecache.phase.duration_ms",
		metric.WithDescription("Lifecycle phase duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	fetchTotal, err := meter.Int64Counter(
		"offlinecache.fetch.total",
		metric.WithDescription("Total number of intercepted fetches by source"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"offlinecache.fetch.duration_ms",
		metric.WithDescription("Intercepted fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		phaseTotal:    phaseTotal,
		phaseErrors:   phaseErrors,
		phaseDuration: phaseDuration,
		fetchTotal:    fetchTotal,
		fetchDuration: fetchDuration,
	}, nil
}

// RecordPhase records metrics for a lifecycle phase.
func (m *metricsImpl) RecordPhase(ctx context.Context, meta EventMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event.name", meta.Name),
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("cache.version", meta.Version))
	}
	opt := metric.WithAttributes(attrs...)

	m.phaseTotal.Add(ctx, 1, opt)
	if err != nil {
		m.phaseErrors.Add(ctx, 1, opt)
	}
	m.phaseDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordFetch records metrics for an intercepted fetch.
// URLs are left off the attributes to keep cardinality bounded.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta EventMeta, source FetchSource, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("fetch.source", string(source)),
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("cache.version", meta.Version))
	}
	opt := metric.WithAttributes(attrs...)

	m.fetchTotal.Add(ctx, 1, opt)
	m.fetchDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics {
	return &noopMetrics{}
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordPhase(ctx context.Context, meta EventMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordFetch(ctx context.Context, meta EventMeta, source FetchSource, duration time.Duration) {
}
