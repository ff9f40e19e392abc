// Package resilience protects callers from an unreliable downstream
// dependency.
//
// It provides three concurrency-safe primitives and a facade composing them:
//
//   - TokenBucket: bounds outbound request rate with lazily refilled tokens.
//
//   - CircuitBreaker: fails fast after sustained failure, periodically
//     letting a single trial call through to detect recovery.
//
//   - Executor: chains cache lookup, rate limiting and circuit breaking
//     around an injected operation, classifying every call as success,
//     rate-limited, circuit-open or failed.
//
// Result caching and per-key computation dedup live in the sibling cache
// package; the executor drives them through its single Execute entry point.
//
// # Usage
//
//	bucket, err := resilience.NewTokenBucket(resilience.TokenBucketConfig{
//	    Capacity:       100,
//	    RefillAmount:   10,
//	    RefillInterval: time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//
//	breaker, err := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    SuccessThreshold: 2,
//	    RecoveryTimeout:  30 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//
//	executor := resilience.NewExecutor(
//	    resilience.WithTokenBucket(bucket),
//	    resilience.WithCircuitBreaker(breaker),
//	    resilience.WithCache(cache.NewSingleFlight(cache.Config{})),
//	)
//
//	out := executor.Execute(ctx, "user:42", time.Minute, func(ctx context.Context) (any, error) {
//	    return fetchUser(ctx, 42)
//	})
//	switch out.Kind {
//	case resilience.OutcomeSuccess:
//	    use(out.Value)
//	case resilience.OutcomeRateLimited, resilience.OutcomeCircuitOpen:
//	    backOff()
//	default:
//	    return out.Err
//	}
package resilience
