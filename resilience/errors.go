package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrInvalidConfig is returned by constructors when configuration is unusable.
	ErrInvalidConfig = errors.New("resilience: invalid configuration")

	// ErrRateLimited is returned when the token bucket has no tokens available.
	ErrRateLimited = errors.New("resilience: rate limit exceeded")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")
)
