package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
)

const defaultShards = 16

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// store is a sharded TTL map. Sharding keeps lock contention per key group:
// a computation or sweep touching one shard never serializes reads of
// unrelated keys in other shards.
type store struct {
	shards []*shard
	mask   uint64
	clock  clockwork.Clock
}

func newStore(n int, clock clockwork.Clock) *store {
	if n <= 0 {
		n = defaultShards
	}
	n = nextPowerOfTwo(n)

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]entry)}
	}

	return &store{
		shards: shards,
		mask:   uint64(n - 1),
		clock:  clock,
	}
}

func (s *store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// get returns the value for key if present and fresh. Expired entries are
// removed lazily here.
func (s *store) get(key string) (any, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if e.expired(s.clock.Now()) {
		sh.mu.Lock()
		// Another writer may have stored a fresh entry in the meantime, only
		// delete the one we observed as expired.
		if cur, ok := sh.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(sh.entries, key)
		}
		sh.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// set stores value for key. A non-positive ttl stores nothing.
func (s *store) set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	sh.mu.Unlock()
}

func (s *store) delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

func (s *store) len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// sweep removes all expired entries and returns how many were removed.
func (s *store) sweep() int {
	now := s.clock.Now()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
