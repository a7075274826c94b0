package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/ports"
)

// DefaultStoreTimeout bounds every counter store call.
const DefaultStoreTimeout = 250 * time.Millisecond

// GuardStore wraps a counter store with a per-call timeout and maps every
// backend failure to ports.ErrStoreUnavailable, so callers fail closed.
type GuardStore struct {
	next    ports.CounterStore
	timeout time.Duration
	metrics ports.Metrics
}

// NewGuardStore creates a guarded store. A non-positive timeout uses DefaultStoreTimeout.
func NewGuardStore(next ports.CounterStore, timeout time.Duration, m ports.Metrics) *GuardStore {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &GuardStore{next: next, timeout: timeout, metrics: m}
}

func (g *GuardStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	g.metrics.StoreOp(op, time.Since(start), err)

	if err == nil || errors.Is(err, counter.ErrInvalidDelta) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ports.ErrStoreUnavailable, op, err)
}

// Increment implements ports.CounterStore.
func (g *GuardStore) Increment(ctx context.Context, key counter.Key, delta int64, ttl time.Duration) (int64, error) {
	var v int64
	err := g.call(ctx, "increment", func(ctx context.Context) error {
		var err error
		v, err = g.next.Increment(ctx, key, delta, ttl)
		return err
	})
	return v, err
}

// IncrementIfBelow implements ports.CounterStore.
func (g *GuardStore) IncrementIfBelow(ctx context.Context, key counter.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	var v int64
	var ok bool
	err := g.call(ctx, "increment_if_below", func(ctx context.Context) error {
		var err error
		v, ok, err = g.next.IncrementIfBelow(ctx, key, delta, limit, ttl)
		return err
	})
	return v, ok, err
}

// Get implements ports.CounterStore.
func (g *GuardStore) Get(ctx context.Context, key counter.Key) (int64, error) {
	var v int64
	err := g.call(ctx, "get", func(ctx context.Context) error {
		var err error
		v, err = g.next.Get(ctx, key)
		return err
	})
	return v, err
}

// SetWithTTL implements ports.CounterStore.
func (g *GuardStore) SetWithTTL(ctx context.Context, key counter.Key, value int64, ttl time.Duration) error {
	return g.call(ctx, "set", func(ctx context.Context) error {
		return g.next.SetWithTTL(ctx, key, value, ttl)
	})
}

// nopMetrics discards telemetry.
type nopMetrics struct{}

func (nopMetrics) Decision(string, string)              {}
func (nopMetrics) RateLimitDenied(string, string)       {}
func (nopMetrics) Tracked(string, int64)                {}
func (nopMetrics) SoftWarning(string, string)           {}
func (nopMetrics) StoreOp(string, time.Duration, error) {}
func (nopMetrics) RecordAppendFailed()                  {}

// Ensure interface compliance.
var (
	_ ports.CounterStore = (*GuardStore)(nil)
	_ ports.Metrics      = nopMetrics{}
)
