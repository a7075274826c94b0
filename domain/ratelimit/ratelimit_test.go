package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/window"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 30, 0, time.UTC)

func TestDefaultTiers_Valid(t *testing.T) {
	tiers := ratelimit.DefaultTiers()

	if err := tiers.Validate(); err != nil {
		t.Fatalf("default tiers invalid: %v", err)
	}

	free, err := tiers.Lookup(ratelimit.TierFree)
	if err != nil {
		t.Fatalf("lookup free: %v", err)
	}
	if free.Limit(window.Minute) != 60 || free.Limit(window.Hour) != 1000 || free.Limit(window.Day) != 10000 {
		t.Errorf("free tier = %+v, want 60/1000/10000", free)
	}

	want := []string{"basic", "enterprise", "free", "pro"}
	got := tiers.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTiers_LookupUnknown(t *testing.T) {
	_, err := ratelimit.DefaultTiers().Lookup("platinum")
	if !errors.Is(err, ratelimit.ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}

func TestTier_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tier    ratelimit.Tier
		wantErr bool
	}{
		{"valid", ratelimit.Tier{Name: "x", PerMinute: 1, PerHour: 1, PerDay: 1}, false},
		{"missing name", ratelimit.Tier{PerMinute: 1, PerHour: 1, PerDay: 1}, true},
		{"zero minute", ratelimit.Tier{Name: "x", PerHour: 1, PerDay: 1}, true},
		{"day below hour", ratelimit.Tier{Name: "x", PerMinute: 1, PerHour: 10, PerDay: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tier.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTiers_ValidateMismatchedName(t *testing.T) {
	tiers := ratelimit.Tiers{"a": {Name: "b", PerMinute: 1, PerHour: 1, PerDay: 1}}
	if err := tiers.Validate(); err == nil {
		t.Error("expected error for mismatched tier name")
	}
	if err := (ratelimit.Tiers{}).Validate(); err == nil {
		t.Error("expected error for empty table")
	}
}

func TestPasses(t *testing.T) {
	if !ratelimit.Passes(59, 60) {
		t.Error("59 of 60 should pass")
	}
	if ratelimit.Passes(60, 60) {
		t.Error("60 of 60 should not pass")
	}
}

func TestStatus_ClampsRemaining(t *testing.T) {
	s := ratelimit.Status(70, 60, baseTime)
	if s.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", s.Remaining)
	}

	s = ratelimit.Status(10, 60, baseTime)
	if s.Remaining != 50 {
		t.Errorf("Remaining = %d, want 50", s.Remaining)
	}
}

func TestDecision_HeadersAllowed(t *testing.T) {
	minuteReset := window.ResetAt(baseTime, window.Minute)
	d := ratelimit.Decision{
		Allowed: true,
		Tier:    "free",
		Limits: map[window.Kind]ratelimit.WindowStatus{
			window.Minute: ratelimit.Status(5, 60, minuteReset),
			window.Hour:   ratelimit.Status(5, 1000, window.ResetAt(baseTime, window.Hour)),
			window.Day:    ratelimit.Status(5, 10000, window.ResetAt(baseTime, window.Day)),
		},
	}

	h := d.Headers()

	checks := map[string]string{
		"X-RateLimit-Tier":             "free",
		"X-RateLimit-Limit":            "60",
		"X-RateLimit-Remaining":        "55",
		"X-RateLimit-Hour-Limit":       "1000",
		"X-RateLimit-Day-Remaining":    "9995",
		"X-RateLimit-Minute-Remaining": "55",
	}
	for k, want := range checks {
		if h[k] != want {
			t.Errorf("%s = %q, want %q", k, h[k], want)
		}
	}
	if h["X-RateLimit-Reset"] != "1705320060" {
		t.Errorf("X-RateLimit-Reset = %q, want 1705320060", h["X-RateLimit-Reset"])
	}
	if _, ok := h["Retry-After"]; ok {
		t.Error("allowed decision must not carry Retry-After")
	}
}

func TestDecision_HeadersDenied(t *testing.T) {
	d := ratelimit.Decision{
		Tier:           "free",
		ExceededWindow: window.Minute,
		RetryAfter:     30,
		Limits: map[window.Kind]ratelimit.WindowStatus{
			window.Minute: ratelimit.Status(60, 60, window.ResetAt(baseTime, window.Minute)),
		},
	}

	h := d.Headers()
	if h["Retry-After"] != "30" {
		t.Errorf("Retry-After = %q, want 30", h["Retry-After"])
	}
	if h["X-RateLimit-Remaining"] != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", h["X-RateLimit-Remaining"])
	}
	if _, ok := h["X-RateLimit-Hour-Limit"]; ok {
		t.Error("unevaluated windows must not be reported")
	}
}
