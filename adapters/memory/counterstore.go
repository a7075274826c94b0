package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/ports"
)

// counterEntry is one live counter.
type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu      sync.RWMutex
	entries map[string]counterEntry
}

// CounterStore is a sharded in-memory implementation of ports.CounterStore.
// Uses sharding to reduce lock contention for high throughput.
type CounterStore struct {
	shards    []*counterShard
	numShards int
	clock     ports.Clock
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// CounterStoreConfig configures the counter store.
type CounterStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to drop expired counters (default: 5m, <0 disables)
	Clock           ports.Clock   // Expiry clock (required)
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &CounterStore{
		shards:    make([]*counterShard, cfg.NumShards),
		numShards: cfg.NumShards,
		clock:     cfg.Clock,
		done:      make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = &counterShard{
			entries: make(map[string]counterEntry),
		}
	}

	if cfg.CleanupInterval > 0 {
		s.cleanup = time.NewTicker(cfg.CleanupInterval)
		go s.cleanupLoop()
	}

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *CounterStore) getShard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// live returns the entry's value, treating expired entries as absent.
func live(e counterEntry, ok bool, now time.Time) (counterEntry, bool) {
	if !ok || !now.Before(e.expiresAt) {
		return counterEntry{}, false
	}
	return e, true
}

// Increment atomically adds delta to the counter.
func (s *CounterStore) Increment(ctx context.Context, key counter.Key, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 {
		return 0, counter.ErrInvalidDelta
	}
	k := key.String()
	shard := s.getShard(k)
	now := s.clock.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := live(shard.entries[k], true, now)
	if !ok {
		e = counterEntry{expiresAt: now.Add(ttl)}
	}
	if !counter.CanAdd(e.value, delta) {
		return e.value, counter.ErrOverflow
	}
	e.value += delta
	shard.entries[k] = e
	return e.value, nil
}

// IncrementIfBelow atomically adds delta only if the result stays within limit.
func (s *CounterStore) IncrementIfBelow(ctx context.Context, key counter.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	if delta < 0 {
		return 0, false, counter.ErrInvalidDelta
	}
	k := key.String()
	shard := s.getShard(k)
	now := s.clock.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := live(shard.entries[k], true, now)
	if !counter.Fits(e.value, delta, limit) {
		return e.value, false, nil
	}
	if !ok {
		e = counterEntry{expiresAt: now.Add(ttl)}
	}
	e.value += delta
	shard.entries[k] = e
	return e.value, true, nil
}

// Get returns the counter value, 0 if absent or expired.
func (s *CounterStore) Get(ctx context.Context, key counter.Key) (int64, error) {
	k := key.String()
	shard := s.getShard(k)

	shard.mu.RLock()
	e, ok := shard.entries[k]
	shard.mu.RUnlock()

	e, _ = live(e, ok, s.clock.Now())
	return e.value, nil
}

// SetWithTTL overwrites the counter and resets its expiry.
func (s *CounterStore) SetWithTTL(ctx context.Context, key counter.Key, value int64, ttl time.Duration) error {
	if value < 0 {
		return counter.ErrInvalidDelta
	}
	k := key.String()
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.entries[k] = counterEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

// DeleteExpired removes counters that expired before the given time.
func (s *CounterStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	for _, shard := range s.shards {
		shard.mu.Lock()
		for k, e := range shard.entries {
			if !before.Before(e.expiresAt) {
				delete(shard.entries, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// cleanupLoop periodically removes expired counters.
func (s *CounterStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.DeleteExpired(context.Background(), s.clock.Now())
		case <-s.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *CounterStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cleanup != nil {
			s.cleanup.Stop()
		}
	})
	return nil
}

// Len returns the total number of entries across all shards (for testing).
func (s *CounterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// Ensure interface compliance.
var (
	_ ports.CounterStore = (*CounterStore)(nil)
	_ ports.Sweeper      = (*CounterStore)(nil)
)
