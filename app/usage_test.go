package app_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/window"
)

func TestUsageTracker_TrackAccumulates(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		total, err := env.tracker.Track(ctx, "acme", "reports", window.Month, 2)
		if err != nil {
			t.Fatalf("Track error: %v", err)
		}
		if total != 2*i {
			t.Errorf("total = %d, want %d", total, 2*i)
		}
	}

	if n := len(env.records.Drain()); n != 3 {
		t.Errorf("records = %d, want 3", n)
	}
}

func TestUsageTracker_PeriodsIsolated(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	env.tracker.Track(ctx, "acme", "reports", window.Month, 5)
	env.clock.Set(baseTime.AddDate(0, 1, 0))

	current, err := env.tracker.CurrentUsage(ctx, "acme", "reports", window.Month)
	if err != nil {
		t.Fatalf("CurrentUsage error: %v", err)
	}
	if current != 0 {
		t.Errorf("next month usage = %d, want 0", current)
	}
}

func TestUsageTracker_ZeroAmountWritesNoRecord(t *testing.T) {
	env := newTestEnv(app.GateConfig{})

	if _, err := env.tracker.Track(context.Background(), "acme", "reports", window.Month, 0); err != nil {
		t.Fatalf("Track error: %v", err)
	}
	if n := len(env.records.Drain()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestUsageTracker_RejectsNegative(t *testing.T) {
	env := newTestEnv(app.GateConfig{})

	_, err := env.tracker.Track(context.Background(), "acme", "reports", window.Month, -3)
	if !errors.Is(err, app.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
	_, _, err = env.tracker.TrackWithin(context.Background(), "acme", "reports", window.Month, -3, 10)
	if !errors.Is(err, app.ErrInvalidAmount) {
		t.Errorf("TrackWithin err = %v, want ErrInvalidAmount", err)
	}
}

func TestUsageTracker_TrackWithin(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	total, ok, err := env.tracker.TrackWithin(ctx, "acme", "reports", window.Month, 8, 10)
	if err != nil || !ok || total != 8 {
		t.Fatalf("TrackWithin = (%d, %v, %v), want (8, true, nil)", total, ok, err)
	}

	total, ok, _ = env.tracker.TrackWithin(ctx, "acme", "reports", window.Month, 3, 10)
	if ok || total != 8 {
		t.Errorf("TrackWithin over limit = (%d, %v), want (8, false)", total, ok)
	}
	if n := len(env.records.Drain()); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
}

func TestUsageTracker_Reconcile(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	env.tracker.Track(ctx, "acme", "reports", window.Month, 4)
	env.tracker.Track(ctx, "acme", "reports", window.Month, 6)

	// Simulate counter loss.
	env.seedUsage("acme", "reports", window.Month, 0)

	total, err := env.tracker.Reconcile(ctx, "acme", "reports", window.Month)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if total != 10 {
		t.Errorf("reconciled total = %d, want 10", total)
	}

	current, _ := env.tracker.CurrentUsage(ctx, "acme", "reports", window.Month)
	if current != 10 {
		t.Errorf("current = %d, want 10", current)
	}
}

func TestUsageTracker_Records(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	env.tracker.Track(ctx, "acme", "reports", window.Month, 1)
	env.tracker.Track(ctx, "acme", "exports", window.Day, 1)

	recs, err := env.tracker.Records(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Records error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

func TestUsageTracker_CountersExpireAtWindowEnd(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	if _, err := env.tracker.Track(ctx, "acme", "reports", window.Month, 1); err != nil {
		t.Fatalf("Track error: %v", err)
	}

	env.clock.Set(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC))
	if n, _ := env.counters.DeleteExpired(ctx, env.clock.Now()); n != 0 {
		t.Errorf("swept %d counters before the window closed", n)
	}

	env.clock.Set(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if n, _ := env.counters.DeleteExpired(ctx, env.clock.Now()); n != 1 {
		t.Errorf("swept %d counters at window end, want 1", n)
	}
}

func TestUsageTracker_OverflowIsInvalidAmount(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()
	env.seedUsage("acme", "reports", window.Month, math.MaxInt64-1)

	_, err := env.tracker.Track(ctx, "acme", "reports", window.Month, 2)
	if !errors.Is(err, app.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
	if n := len(env.records.Drain()); n != 0 {
		t.Errorf("overflowing track appended %d records", n)
	}
}
