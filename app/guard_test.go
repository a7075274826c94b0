package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/quotagate/adapters/clock"
	"github.com/artpar/quotagate/adapters/memory"
	"github.com/artpar/quotagate/adapters/metrics"
	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

func TestGuardStore_PassesThrough(t *testing.T) {
	clk := clock.NewFake(baseTime)
	inner := memory.NewCounterStore(memory.CounterStoreConfig{CleanupInterval: -1, Clock: clk})
	defer inner.Close()

	reg := prometheus.NewRegistry()
	g := app.NewGuardStore(inner, 0, metrics.NewWithRegistry(reg))
	ctx := context.Background()
	key := counter.NewKey("tenant:1", "feature:reports", window.Month, baseTime)

	if v, err := g.Increment(ctx, key, 3, key.TTL()); err != nil || v != 3 {
		t.Fatalf("Increment = %d, %v", v, err)
	}
	if v, ok, err := g.IncrementIfBelow(ctx, key, 2, 4, key.TTL()); err != nil || ok || v != 3 {
		t.Errorf("IncrementIfBelow = %d, %v, %v; want 3, false, nil", v, ok, err)
	}
	if err := g.SetWithTTL(ctx, key, 9, key.TTL()); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if v, _ := g.Get(ctx, key); v != 9 {
		t.Errorf("Get = %d, want 9", v)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "quotagate_store_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("store latency was not observed")
	}
}

func TestGuardStore_WrapsFailures(t *testing.T) {
	g := app.NewGuardStore(failingStore{}, time.Second, nil)
	key := counter.NewKey("tenant:1", "feature:reports", window.Month, baseTime)

	_, err := g.Get(context.Background(), key)
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestGuardStore_InvalidDeltaIsNotUnavailable(t *testing.T) {
	clk := clock.NewFake(baseTime)
	inner := memory.NewCounterStore(memory.CounterStoreConfig{CleanupInterval: -1, Clock: clk})
	defer inner.Close()

	g := app.NewGuardStore(inner, time.Second, nil)
	key := counter.NewKey("tenant:1", "feature:reports", window.Month, baseTime)

	_, err := g.Increment(context.Background(), key, -1, key.TTL())
	if !errors.Is(err, counter.ErrInvalidDelta) {
		t.Errorf("err = %v, want ErrInvalidDelta", err)
	}
	if errors.Is(err, ports.ErrStoreUnavailable) {
		t.Error("caller errors must not be reported as store outages")
	}
}
