package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestBreaker(t *testing.T, config CircuitBreakerConfig) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker() error = %v", err)
	}
	return cb
}

func TestNewCircuitBreaker_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config CircuitBreakerConfig
	}{
		{"zero failure threshold", CircuitBreakerConfig{FailureThreshold: 0, SuccessThreshold: 1, RecoveryTimeout: time.Second}},
		{"zero success threshold", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 0, RecoveryTimeout: time.Second}},
		{"zero recovery timeout", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCircuitBreaker(tt.config)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewCircuitBreaker() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("CanExecute() = false, want true while closed")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	for i := 0; i < 2; i++ {
		if !cb.CanExecute() {
			t.Fatalf("CanExecute() before trip = false on attempt %d", i+1)
		}
		cb.RecordResult(false)
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	cb.CanExecute()
	cb.RecordResult(false)

	if cb.State() != StateOpen {
		t.Errorf("After 3 failures, state = %v, want open", cb.State())
	}
	if cb.CanExecute() {
		t.Error("CanExecute() = true while open, want false")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	cb.CanExecute()
	cb.RecordResult(false)

	cb.CanExecute()
	cb.RecordResult(true)

	cb.CanExecute()
	cb.RecordResult(false)
	cb.CanExecute()
	cb.RecordResult(false)

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed (success reset the count)", cb.State())
	}
}

func TestCircuitBreaker_RecoveryWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  200 * time.Millisecond,
		Clock:            clock,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	clock.Advance(100 * time.Millisecond)
	if cb.CanExecute() {
		t.Error("CanExecute() = true before recovery timeout, want false")
	}

	clock.Advance(100 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("State = %v, want half-open after recovery timeout", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("CanExecute() = false after recovery timeout, want true for trial")
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  100 * time.Millisecond,
		Clock:            clock,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	clock.Advance(100 * time.Millisecond)

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.CanExecute() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d concurrent half-open callers, want exactly 1", admitted)
	}

	// Until the trial resolves, nobody else gets through.
	if cb.CanExecute() {
		t.Error("CanExecute() = true while trial in flight, want false")
	}

	// After the trial resolves without closing, the next single trial is allowed.
	cb.RecordResult(false)
	clock.Advance(100 * time.Millisecond)
	if !cb.CanExecute() {
		t.Error("CanExecute() = false after trial resolved and window elapsed, want true")
	}
}

func TestCircuitBreaker_HalfOpenSuccessesClose(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
		Clock:            clock,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	clock.Advance(100 * time.Millisecond)

	if !cb.CanExecute() {
		t.Fatal("first trial not admitted")
	}
	cb.RecordResult(true)
	if cb.State() != StateHalfOpen {
		t.Errorf("State after 1/2 successes = %v, want half-open", cb.State())
	}

	if !cb.CanExecute() {
		t.Fatal("second trial not admitted")
	}
	cb.RecordResult(true)
	if cb.State() != StateClosed {
		t.Errorf("State after 2/2 successes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopensWithFreshWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  200 * time.Millisecond,
		Clock:            clock,
	})

	cb.CanExecute()
	cb.RecordResult(false)

	clock.Advance(200 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("trial not admitted")
	}
	cb.RecordResult(false)

	if cb.State() != StateOpen {
		t.Fatalf("State after failed trial = %v, want open", cb.State())
	}

	// The window restarts at the trial failure, not the original trip.
	clock.Advance(150 * time.Millisecond)
	if cb.CanExecute() {
		t.Error("CanExecute() = true inside the fresh recovery window, want false")
	}

	clock.Advance(50 * time.Millisecond)
	if !cb.CanExecute() {
		t.Error("CanExecute() = false after the fresh window elapsed, want true")
	}
}

func TestCircuitBreaker_UnsolicitedResultDropped(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	// Results while open must not corrupt state or counters.
	cb.RecordResult(true)
	cb.RecordResult(false)

	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open (unsolicited results dropped)", cb.State())
	}
	if got := cb.Metrics().ConsecutiveSuccesses; got != 0 {
		t.Errorf("ConsecutiveSuccesses = %d, want 0", got)
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
		if err != testErr {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("operation must not run while circuit is open")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("After reset, state = %v, want closed", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("CanExecute() = false after reset, want true")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  100 * time.Millisecond,
		Clock:            clock,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	cb.CanExecute()
	cb.RecordResult(false)

	clock.Advance(100 * time.Millisecond)
	cb.CanExecute()
	cb.RecordResult(true)

	mu.Lock()
	defer mu.Unlock()

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v -> %v, want %v -> %v",
				i, transitions[i].from, transitions[i].to, want[i].from, want[i].to)
		}
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := newTestBreaker(t, CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	cb.CanExecute()
	cb.RecordResult(false)
	cb.CanExecute()
	cb.RecordResult(false)

	m := cb.Metrics()
	if m.State != StateClosed {
		t.Errorf("Metrics.State = %v, want closed", m.State)
	}
	if m.ConsecutiveFailures != 2 {
		t.Errorf("Metrics.ConsecutiveFailures = %d, want 2", m.ConsecutiveFailures)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
