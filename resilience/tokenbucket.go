package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TokenBucketConfig configures the token bucket.
type TokenBucketConfig struct {
	// Capacity is the maximum number of tokens the bucket can hold.
	// Must be at least 1.
	Capacity int

	// RefillAmount is the number of tokens added per refill interval.
	// Must be at least 1.
	RefillAmount int

	// RefillInterval is how often RefillAmount tokens are added.
	// Must be positive.
	RefillInterval time.Duration

	// Clock is the time source used for refill accounting.
	// Default: the real clock.
	Clock clockwork.Clock
}

// TokenBucket is a token bucket rate limiter. Refill happens lazily on
// access, computed from elapsed time; no background goroutine is involved.
type TokenBucket struct {
	config TokenBucketConfig
	clock  clockwork.Clock

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket filled to capacity.
func NewTokenBucket(config TokenBucketConfig) (*TokenBucket, error) {
	if config.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidConfig, config.Capacity)
	}
	if config.RefillAmount < 1 {
		return nil, fmt.Errorf("%w: refill amount must be at least 1, got %d", ErrInvalidConfig, config.RefillAmount)
	}
	if config.RefillInterval <= 0 {
		return nil, fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, config.RefillInterval)
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &TokenBucket{
		config:     config,
		clock:      config.Clock,
		tokens:     config.Capacity,
		lastRefill: config.Clock.Now(),
	}, nil
}

// TryAcquire takes one token if available. Non-blocking.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is acquired or the context is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.TryAcquire() {
			return nil
		}

		tb.mu.Lock()
		wait := tb.lastRefill.Add(tb.config.RefillInterval).Sub(tb.clock.Now())
		tb.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tb.clock.After(wait):
		}
	}
}

// Tokens returns the current number of available tokens.
func (tb *TokenBucket) Tokens() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.tokens
}

func (tb *TokenBucket) refillLocked() {
	elapsed := tb.clock.Now().Sub(tb.lastRefill)
	if elapsed < tb.config.RefillInterval {
		return
	}

	intervals := int64(elapsed / tb.config.RefillInterval)

	// Advance lastRefill by whole intervals only, so partial progress toward
	// the next refill is never lost.
	tb.lastRefill = tb.lastRefill.Add(time.Duration(intervals) * tb.config.RefillInterval)

	if intervals >= int64(tb.config.Capacity) {
		tb.tokens = tb.config.Capacity
		return
	}

	tb.tokens += int(intervals) * tb.config.RefillAmount
	if tb.tokens > tb.config.Capacity {
		tb.tokens = tb.config.Capacity
	}
}
