package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/clock"
	"github.com/artpar/quotagate/adapters/memory"
	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

func newTestRateLimiter(t *testing.T, tiers ratelimit.Tiers) (*app.RateLimiter, *clock.Fake) {
	t.Helper()
	// 20 seconds into the minute
	clk := clock.NewFake(baseTime.Add(20 * time.Second))
	counters := memory.NewCounterStore(memory.CounterStoreConfig{CleanupInterval: -1, Clock: clk})
	t.Cleanup(func() { counters.Close() })

	rl, err := app.NewRateLimiter(app.RateLimiterDeps{
		Counters: counters,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, tiers)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}
	return rl, clk
}

func TestRateLimiter_FreeTierScenario(t *testing.T) {
	rl, _ := newTestRateLimiter(t, nil)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		d, err := rl.Check(ctx, "ip:1.2.3.4", ratelimit.TierFree)
		if err != nil {
			t.Fatalf("Check #%d error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied: %+v", i, d)
		}
		if i == 60 {
			if got := d.Limits[window.Minute].Current; got != 60 {
				t.Errorf("60th request minute current = %d, want 60", got)
			}
			if got := d.Limits[window.Minute].Remaining; got != 0 {
				t.Errorf("60th request remaining = %d, want 0", got)
			}
		}
	}

	d, err := rl.Check(ctx, "ip:1.2.3.4", ratelimit.TierFree)
	if err != nil {
		t.Fatalf("Check #61 error: %v", err)
	}
	if d.Allowed {
		t.Fatal("61st request should be denied")
	}
	if d.ExceededWindow != window.Minute {
		t.Errorf("exceeded_window = %s, want minute", d.ExceededWindow)
	}
	if d.RetryAfter != 40 {
		t.Errorf("retry_after = %d, want 40", d.RetryAfter)
	}
	if d.Headers()["Retry-After"] != "40" {
		t.Errorf("Retry-After header = %q, want 40", d.Headers()["Retry-After"])
	}
}

func TestRateLimiter_WindowPrecedence(t *testing.T) {
	tiers := ratelimit.Tiers{
		"tiny": {Name: "tiny", PerMinute: 2, PerHour: 100, PerDay: 1000},
	}
	rl, _ := newTestRateLimiter(t, tiers)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := rl.Check(ctx, "user:7", "tiny"); !d.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}

	d, err := rl.Check(ctx, "user:7", "tiny")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if d.Allowed || d.ExceededWindow != window.Minute {
		t.Errorf("decision = %+v, want denied on minute", d)
	}
	if _, ok := d.Limits[window.Hour]; ok {
		t.Error("windows after the exceeded one must not be evaluated")
	}
}

func TestRateLimiter_DeniedWindowNotIncremented(t *testing.T) {
	tiers := ratelimit.Tiers{
		"hourly": {Name: "hourly", PerMinute: 10, PerHour: 10, PerDay: 100},
	}
	rl, clk := newTestRateLimiter(t, tiers)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rl.Check(ctx, "tenant:1", "hourly")
	}

	// Next minute: the minute window passes and is spent, the hour window denies.
	clk.Advance(time.Minute)
	d, _ := rl.Check(ctx, "tenant:1", "hourly")
	if d.Allowed || d.ExceededWindow != window.Hour {
		t.Fatalf("decision = %+v, want denied on hour", d)
	}

	status, err := rl.Status(ctx, "tenant:1", "hourly")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if got := status.Limits[window.Minute].Current; got != 1 {
		t.Errorf("minute counter = %d, want 1 (spent on attempt)", got)
	}
	if got := status.Limits[window.Hour].Current; got != 10 {
		t.Errorf("hour counter = %d, want 10 (denying window untouched)", got)
	}
	if got := status.Limits[window.Day].Current; got != 10 {
		t.Errorf("day counter = %d, want 10", got)
	}
}

func TestRateLimiter_MinuteRollover(t *testing.T) {
	tiers := ratelimit.Tiers{
		"tiny": {Name: "tiny", PerMinute: 1, PerHour: 100, PerDay: 1000},
	}
	rl, clk := newTestRateLimiter(t, tiers)
	ctx := context.Background()

	rl.Check(ctx, "ip:a", "tiny")
	if d, _ := rl.Check(ctx, "ip:a", "tiny"); d.Allowed {
		t.Fatal("second request in the minute should be denied")
	}

	clk.Advance(40 * time.Second)
	d, _ := rl.Check(ctx, "ip:a", "tiny")
	if !d.Allowed {
		t.Errorf("request after rollover denied: %+v", d)
	}
	if got := d.Limits[window.Hour].Current; got != 2 {
		t.Errorf("hour current = %d, want 2", got)
	}
}

func TestRateLimiter_IdentifiersIsolated(t *testing.T) {
	tiers := ratelimit.Tiers{
		"tiny": {Name: "tiny", PerMinute: 1, PerHour: 100, PerDay: 1000},
	}
	rl, _ := newTestRateLimiter(t, tiers)
	ctx := context.Background()

	rl.Check(ctx, "ip:a", "tiny")
	if d, _ := rl.Check(ctx, "ip:b", "tiny"); !d.Allowed {
		t.Error("distinct identifiers must not share counters")
	}
}

func TestRateLimiter_UnknownTier(t *testing.T) {
	rl, _ := newTestRateLimiter(t, nil)

	_, err := rl.Check(context.Background(), "ip:a", "platinum")
	if !errors.Is(err, ratelimit.ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}

func TestRateLimiter_UpdateTiers(t *testing.T) {
	rl, _ := newTestRateLimiter(t, nil)
	ctx := context.Background()

	if err := rl.UpdateTiers(ratelimit.Tiers{}); err == nil {
		t.Error("expected empty tier table to be rejected")
	}
	if _, err := rl.Check(ctx, "ip:a", ratelimit.TierFree); err != nil {
		t.Errorf("rejected update must keep previous tiers: %v", err)
	}

	err := rl.UpdateTiers(ratelimit.Tiers{
		"tiny": {Name: "tiny", PerMinute: 1, PerHour: 10, PerDay: 100},
	})
	if err != nil {
		t.Fatalf("UpdateTiers: %v", err)
	}
	if _, err := rl.Check(ctx, "ip:a", ratelimit.TierFree); !errors.Is(err, ratelimit.ErrUnknownTier) {
		t.Errorf("free tier should be gone after reload, err = %v", err)
	}
}

func TestRateLimiter_StoreFailureFailsClosed(t *testing.T) {
	clk := clock.NewFake(baseTime)
	rl, err := app.NewRateLimiter(app.RateLimiterDeps{
		Counters: app.NewGuardStore(failingStore{}, time.Second, nil),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, nil)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}

	d, err := rl.Check(context.Background(), "ip:a", ratelimit.TierFree)
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if d.Allowed {
		t.Error("store failure must not allow")
	}
}

func TestRateLimiter_StoreTimeoutFailsClosed(t *testing.T) {
	clk := clock.NewFake(baseTime)
	rl, _ := app.NewRateLimiter(app.RateLimiterDeps{
		Counters: app.NewGuardStore(slowStore{}, 20*time.Millisecond, nil),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, nil)

	start := time.Now()
	_, err := rl.Check(context.Background(), "ip:a", ratelimit.TierFree)
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}
