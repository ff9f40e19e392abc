package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// ComputeFunc produces the value for a key. It runs outside all cache locks,
// and the context it receives is detached from any single caller's
// cancellation: a waiter abandoning the result never aborts the computation.
type ComputeFunc func(ctx context.Context) (any, error)

// Config configures a SingleFlight cache.
type Config struct {
	// Shards is the number of store shards, rounded up to a power of two.
	// Default: 16.
	Shards int

	// SweepInterval enables a background sweep of expired entries when
	// positive. Expired entries are always dropped lazily on read; the sweep
	// only bounds memory held by keys that are no longer queried.
	SweepInterval time.Duration

	// Clock is the time source used for expiry.
	// Default: the real clock.
	Clock clockwork.Clock
}

// SingleFlight is a TTL cache that deduplicates concurrent recomputation:
// for any key, at most one compute runs at a time and every concurrent caller
// shares its result.
type SingleFlight struct {
	store *store
	clock clockwork.Clock
	group singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSingleFlight creates a new single-flight cache.
func NewSingleFlight(config Config) *SingleFlight {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	c := &SingleFlight{
		store: newStore(config.Shards, config.Clock),
		clock: config.Clock,
		stop:  make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go c.sweepLoop(config.SweepInterval)
	}

	return c
}

// GetOrCompute returns the fresh cached value for key, or computes it.
//
// A fresh entry is returned immediately. Otherwise the caller either starts
// the computation or joins one already in flight for the same key; compute
// runs at most once per expiry cycle regardless of concurrent caller count.
// Successful results are stored with ttl; a failed compute is never cached
// and the key is immediately eligible for retry.
//
// ctx bounds only this caller's wait. Cancelling it abandons the wait without
// stopping the in-flight computation, which still completes and populates the
// cache for other callers.
func (c *SingleFlight) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	if v, ok := c.store.get(key); ok {
		return v, nil
	}

	computeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished between this caller's miss and now may have
		// stored a fresh value already.
		if v, ok := c.store.get(key); ok {
			return v, nil
		}

		v, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}

		c.store.set(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the fresh cached value for key without computing anything.
func (c *SingleFlight) Get(key string) (any, bool) {
	return c.store.get(key)
}

// Set stores a value with the given TTL. A non-positive TTL stores nothing.
func (c *SingleFlight) Set(key string, value any, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	c.store.set(key, value, ttl)
	return nil
}

// Delete removes a cached value. Idempotent.
func (c *SingleFlight) Delete(key string) {
	c.store.delete(key)
}

// Len returns the number of stored entries, including not-yet-swept expired ones.
func (c *SingleFlight) Len() int {
	return c.store.len()
}

// Sweep removes all expired entries and returns how many were removed.
func (c *SingleFlight) Sweep() int {
	return c.store.sweep()
}

// Close stops the background sweeper, if any. Idempotent.
func (c *SingleFlight) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *SingleFlight) sweepLoop(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.store.sweep()
		case <-c.stop:
			return
		}
	}
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
