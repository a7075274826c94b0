package counter_test

import (
	"math"
	"testing"
	"time"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/window"
)

var baseTime = time.Date(2024, 1, 15, 12, 34, 56, 0, time.UTC)

func TestNewKey_AlignsToWindowStart(t *testing.T) {
	k := counter.NewKey("ip:1.2.3.4", "rl:free", window.Minute, baseTime)

	want := time.Date(2024, 1, 15, 12, 34, 0, 0, time.UTC)
	if !k.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", k.Start, want)
	}

	same := counter.NewKey("ip:1.2.3.4", "rl:free", window.Minute, baseTime.Add(3*time.Second))
	if k != same {
		t.Errorf("keys in the same window differ: %v vs %v", k, same)
	}
}

func TestKey_String(t *testing.T) {
	k := counter.NewKey("tenant:42", "feature:reports", window.Hour, baseTime)

	want := "tenant:42|feature:reports|hour|1705320000"
	if got := k.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestKey_NextWindowDoesNotCollide(t *testing.T) {
	k := counter.NewKey("tenant:42", "feature:reports", window.Day, baseTime)
	next := counter.NewKey(k.Subject, k.Metric, k.Kind, k.ExpiresAt())

	if next.String() == k.String() {
		t.Error("next window key must differ")
	}
	if !next.Start.Equal(k.ExpiresAt()) {
		t.Errorf("next.Start = %v, want %v", next.Start, k.ExpiresAt())
	}
	if k.TTL() != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", k.TTL())
	}
}

func TestCanAdd(t *testing.T) {
	tests := []struct {
		value, delta int64
		want         bool
	}{
		{0, 0, true},
		{48, 3, true},
		{0, math.MaxInt64, true},
		{1, math.MaxInt64, false},
		{math.MaxInt64/2 + 1, math.MaxInt64/2 + 1, false},
		{math.MaxInt64, 0, true},
	}

	for _, tt := range tests {
		if got := counter.CanAdd(tt.value, tt.delta); got != tt.want {
			t.Errorf("CanAdd(%d, %d) = %v, want %v", tt.value, tt.delta, got, tt.want)
		}
	}
}

func TestFits(t *testing.T) {
	tests := []struct {
		value, delta, limit int64
		want                bool
	}{
		{48, 2, 50, true},
		{48, 3, 50, false},
		{48, math.MaxInt64, 50, false},
		{60, 0, 50, false},
		{0, math.MaxInt64, math.MaxInt64, true},
		{1, math.MaxInt64, math.MaxInt64, false},
	}

	for _, tt := range tests {
		if got := counter.Fits(tt.value, tt.delta, tt.limit); got != tt.want {
			t.Errorf("Fits(%d, %d, %d) = %v, want %v", tt.value, tt.delta, tt.limit, got, tt.want)
		}
	}
}
