package resilience

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/shield/cache"
)

// Operation is the injected downstream call the executor protects. It must be
// safe to invoke concurrently.
type Operation func(ctx context.Context) (any, error)

// rateLimiter gates attempts by available capacity.
type rateLimiter interface {
	TryAcquire() bool
}

// circuitGate gates attempts by downstream health.
type circuitGate interface {
	CanExecute() bool
	RecordResult(success bool)
}

// resultCache stores operation results and deduplicates concurrent
// computation per key.
type resultCache interface {
	Get(key string) (any, bool)
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute cache.ComputeFunc) (any, error)
}

// Executor composes the resilience primitives around one entry point.
type Executor struct {
	bucket  rateLimiter
	breaker circuitGate
	cache   resultCache
	policy  cache.Policy

	metrics *executorMetrics
	tracer  trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor. Components are optional;
// whatever is configured is applied in the fixed Execute order.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithTokenBucket adds rate limiting to the executor.
func WithTokenBucket(tb *TokenBucket) ExecutorOption {
	return func(e *Executor) {
		e.bucket = tb
	}
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// WithCache adds a single-flight result cache to the executor.
func WithCache(c *cache.SingleFlight) ExecutorOption {
	return func(e *Executor) {
		e.cache = c
	}
}

// WithPolicy sets the TTL policy applied to per-call TTLs.
func WithPolicy(p cache.Policy) ExecutorOption {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithMeter instruments the executor with outcome and duration metrics.
func WithMeter(m metric.Meter) ExecutorOption {
	return func(e *Executor) {
		em, err := newExecutorMetrics(m)
		if err != nil {
			return
		}
		e.metrics = em
	}
}

// WithTracer records a span per Execute call.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// Execute runs the operation for key through the configured primitives, in
// this fixed order:
//
//  1. Cache lookup. A fresh hit returns immediately so known data consumes
//     neither tokens nor circuit budget.
//  2. Token bucket. A dry bucket yields OutcomeRateLimited before the breaker
//     is consulted, so throttling never skews its failure statistics.
//  3. Circuit breaker. An open circuit yields OutcomeCircuitOpen.
//  4. The operation, through the cache's single-flight path so concurrent
//     misses for the same key still dedupe. The breaker records exactly one
//     result per actual attempt. Success is cached with ttl; failure is
//     returned with its cause wrapped and is never cached.
//
// Rejections are never retried by the executor; retry policy belongs to the
// caller.
func (e *Executor) Execute(ctx context.Context, key string, ttl time.Duration, op Operation) Outcome {
	start := time.Now()
	ctx, span := e.startSpan(ctx, key)

	out := e.execute(ctx, key, ttl, op)

	e.endSpan(span, out)
	e.metrics.record(ctx, out.Kind, time.Since(start))
	return out
}

func (e *Executor) execute(ctx context.Context, key string, ttl time.Duration, op Operation) Outcome {
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			e.metrics.recordHit(ctx)
			return Outcome{Kind: OutcomeSuccess, Value: v}
		}
	}

	if e.bucket != nil && !e.bucket.TryAcquire() {
		return Outcome{Kind: OutcomeRateLimited, Err: ErrRateLimited}
	}

	if e.breaker != nil && !e.breaker.CanExecute() {
		return Outcome{Kind: OutcomeCircuitOpen, Err: ErrCircuitOpen}
	}

	// The breaker sees one result per actual downstream attempt. Under
	// single-flight dedup that is the compute itself, not each joined caller.
	attempt := func(ctx context.Context) (any, error) {
		v, err := op(ctx)
		if e.breaker != nil {
			e.breaker.RecordResult(err == nil)
		}
		return v, err
	}

	var v any
	var err error
	if e.cache != nil {
		v, err = e.cache.GetOrCompute(ctx, key, e.policy.EffectiveTTL(ttl), attempt)
	} else {
		v, err = attempt(ctx)
	}

	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("resilience: operation failed: %w", err)}
	}

	return Outcome{Kind: OutcomeSuccess, Value: v}
}

func (e *Executor) startSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}
	return e.tracer.Start(ctx, "resilience.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("resilience.key", key)),
	)
}

func (e *Executor) endSpan(span trace.Span, out Outcome) {
	if span == nil {
		return
	}

	span.SetAttributes(attribute.String("resilience.outcome", out.Kind.String()))
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
		span.RecordError(out.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
