package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Must be at least 1.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker. Must be at least 1.
	SuccessThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing a
	// trial call. Must be positive.
	RecoveryTimeout time.Duration

	// Clock is the time source used for the recovery window.
	// Default: the real clock.
	Clock clockwork.Clock

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure in Execute.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool
}

// CircuitBreaker implements the circuit breaker pattern.
//
// The low-level contract is the CanExecute/RecordResult pair: CanExecute
// gates an attempt, and RecordResult must be called exactly once per attempt
// that CanExecute permitted. Execute wraps both around an operation.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  clockwork.Clock

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config.FailureThreshold < 1 {
		return nil, fmt.Errorf("%w: failure threshold must be at least 1, got %d", ErrInvalidConfig, config.FailureThreshold)
	}
	if config.SuccessThreshold < 1 {
		return nil, fmt.Errorf("%w: success threshold must be at least 1, got %d", ErrInvalidConfig, config.SuccessThreshold)
	}
	if config.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("%w: recovery timeout must be positive, got %v", ErrInvalidConfig, config.RecoveryTimeout)
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		clock:  config.Clock,
		state:  StateClosed,
	}, nil
}

// CanExecute reports whether an attempt may proceed right now.
//
// When the breaker is open and the recovery timeout has elapsed, the
// transition to half-open and the admission of the single trial caller happen
// in the same critical section: exactly one concurrent caller gets true, the
// rest keep getting false until that trial's RecordResult resolves.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.clock.Since(cb.lastFailure) < cb.config.RecoveryTimeout {
			return false
		}
		cb.setStateLocked(StateHalfOpen)
		cb.trialInFlight = true
		return true

	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true

	default:
		return false
	}
}

// RecordResult records the outcome of one permitted attempt. Calling it
// without a preceding permitted CanExecute is a contract violation; such
// results are dropped rather than allowed to corrupt the counters.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		cb.lastFailure = cb.clock.Now()
		if cb.failures >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen)
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		if success {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.setStateLocked(StateClosed)
			}
			return
		}
		// Failed trial: reopen with a fresh recovery window.
		cb.lastFailure = cb.clock.Now()
		cb.setStateLocked(StateOpen)

	case StateOpen:
		// Unsolicited result; drop it.
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.CanExecute() {
		return ErrCircuitOpen
	}

	err := op(ctx)
	cb.RecordResult(!cb.config.IsFailure(err))
	return err
}

// State returns the effective circuit state. It is a read-only view: an open
// breaker whose recovery timeout has elapsed reports half-open, but the
// actual transition happens only inside CanExecute, together with the
// admission of the trial caller.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.trialInFlight = false
}

// Metrics returns current circuit breaker statistics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:                cb.effectiveStateLocked(),
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		LastFailure:          cb.lastFailure,
	}
}

func (cb *CircuitBreaker) effectiveStateLocked() State {
	if cb.state == StateOpen && cb.clock.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) setStateLocked(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to

	switch to {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.trialInFlight = false
	case StateOpen, StateHalfOpen:
		cb.successes = 0
		cb.trialInFlight = false
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
}
