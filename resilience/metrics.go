package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// executorMetrics records executor outcomes. A nil receiver is a no-op so the
// executor never has to branch on whether a meter was configured.
type executorMetrics struct {
	total     metric.Int64Counter
	cacheHits metric.Int64Counter
	duration  metric.Float64Histogram
}

func newExecutorMetrics(meter metric.Meter) (*executorMetrics, error) {
	total, err := meter.Int64Counter(
		"resilience.execute.total",
		metric.WithDescription("Total number of Execute calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"resilience.cache.hits",
		metric.WithDescription("Execute calls served from the cache fast path"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"resilience.execute.duration_ms",
		metric.WithDescription("Execute call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &executorMetrics{
		total:     total,
		cacheHits: cacheHits,
		duration:  duration,
	}, nil
}

func (m *executorMetrics) record(ctx context.Context, kind OutcomeKind, d time.Duration) {
	if m == nil {
		return
	}

	opt := metric.WithAttributes(attribute.String("outcome", kind.String()))
	m.total.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), opt)
}

func (m *executorMetrics) recordHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}
