// Package quota provides pure functions for quota enforcement.
// Tests for all public functions and types.
package quota

import (
	"math"
	"testing"

	"github.com/artpar/quotagate/domain/plan"
)

func limited(v int64) plan.Limit {
	return plan.Limit{PlanID: "basic", FeatureSlug: "reports", Status: plan.StatusLimited, Value: v}
}

// -----------------------------------------------------------------------------
// Evaluate tests
// -----------------------------------------------------------------------------

func TestEvaluate_NoPlan(t *testing.T) {
	d := Evaluate(plan.Limit{Status: plan.StatusNoPlan, FeatureSlug: "reports"}, 0, 1, 80)

	if d.Allowed {
		t.Error("expected Allowed=false")
	}
	if d.Reason != ReasonNoSubscription {
		t.Errorf("expected Reason=%s, got %s", ReasonNoSubscription, d.Reason)
	}
}

func TestEvaluate_NotIncluded(t *testing.T) {
	d := Evaluate(plan.Limit{Status: plan.StatusNotIncluded, FeatureSlug: "sso"}, 0, 1, 80)

	if d.Allowed {
		t.Error("expected Allowed=false")
	}
	if d.Reason != ReasonFeatureNotIncluded {
		t.Errorf("expected Reason=%s, got %s", ReasonFeatureNotIncluded, d.Reason)
	}
	if d.Reason.Retryable() {
		t.Error("feature_not_included must not be retryable")
	}
}

func TestEvaluate_UnlimitedNeverExceeds(t *testing.T) {
	l := plan.Limit{Status: plan.StatusUnlimited, FeatureSlug: "reports"}

	for _, current := range []int64{0, 1_000, 1 << 40} {
		d := Evaluate(l, current, 1_000_000, 80)
		if !d.Allowed {
			t.Errorf("current=%d: expected Allowed=true", current)
		}
		if d.Reason == ReasonLimitExceeded {
			t.Errorf("current=%d: unlimited quota reported limit_exceeded", current)
		}
		if d.Warning {
			t.Errorf("current=%d: unlimited quota must not warn", current)
		}
		if !d.Unlimited() {
			t.Errorf("current=%d: expected Unlimited()", current)
		}
	}
}

func TestEvaluate_LimitExceeded(t *testing.T) {
	d := Evaluate(limited(50), 48, 3, 80)

	if d.Allowed {
		t.Fatal("expected Allowed=false")
	}
	if d.Reason != ReasonLimitExceeded {
		t.Errorf("expected Reason=limit_exceeded, got %s", d.Reason)
	}
	if d.CurrentUsage != 48 || d.Limit != 50 {
		t.Errorf("expected 48/50, got %d/%d", d.CurrentUsage, d.Limit)
	}
	if d.NewUsage != 48 {
		t.Errorf("denied decision must not advance usage, got NewUsage=%d", d.NewUsage)
	}
	if !d.Reason.Retryable() {
		t.Error("limit_exceeded should be retryable")
	}
}

func TestEvaluate_HugeRequestDoesNotWrap(t *testing.T) {
	tests := []struct {
		name      string
		current   int64
		requested int64
		limit     int64
	}{
		{"max request", 48, math.MaxInt64, 50},
		{"max request from zero", 0, math.MaxInt64, 50},
		{"half range twice", math.MaxInt64/2 + 1, math.MaxInt64/2 + 1, math.MaxInt64},
		{"usage already past limit", 60, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(limited(tt.limit), tt.current, tt.requested, 80)
			if d.Allowed {
				t.Fatalf("expected denial, got %+v", d)
			}
			if d.Reason != ReasonLimitExceeded {
				t.Errorf("expected Reason=%s, got %s", ReasonLimitExceeded, d.Reason)
			}
			if d.NewUsage != tt.current {
				t.Errorf("NewUsage = %d, want %d", d.NewUsage, tt.current)
			}
		})
	}
}

func TestEvaluate_RequestFillsMaxLimit(t *testing.T) {
	d := Evaluate(limited(math.MaxInt64), 0, math.MaxInt64, 80)
	if !d.Allowed || d.NewUsage != math.MaxInt64 {
		t.Errorf("expected allowed at MaxInt64, got %+v", d)
	}
}

func TestEvaluate_UnlimitedSaturates(t *testing.T) {
	l := plan.Limit{Status: plan.StatusUnlimited, FeatureSlug: "reports"}
	d := Evaluate(l, math.MaxInt64/2+1, math.MaxInt64/2+1, 80)
	if !d.Allowed {
		t.Fatal("expected Allowed=true")
	}
	if d.NewUsage != math.MaxInt64 {
		t.Errorf("NewUsage = %d, want MaxInt64", d.NewUsage)
	}
}

func TestEvaluate_ExactlyAtLimitAllowed(t *testing.T) {
	d := Evaluate(limited(50), 48, 2, 80)

	if !d.Allowed {
		t.Fatal("expected Allowed=true at exactly the limit")
	}
	if d.NewUsage != 50 {
		t.Errorf("expected NewUsage=50, got %d", d.NewUsage)
	}
	if d.WarningLevel != WarningCritical {
		t.Errorf("expected WarningCritical at 100%%, got %v", d.WarningLevel)
	}
}

func TestEvaluate_SoftWarningThreshold(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		warn      bool
		level     WarningLevel
	}{
		{"85 percent", 10, true, WarningApproaching},
		{"79 percent", 4, false, WarningNone},
		{"exactly 80", 5, true, WarningApproaching},
		{"96 percent", 21, true, WarningCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(limited(100), 75, tt.requested, 80)
			if !d.Allowed {
				t.Fatal("expected Allowed=true")
			}
			if d.Warning != tt.warn {
				t.Errorf("expected Warning=%v, got %v (%.1f%%)", tt.warn, d.Warning, d.PercentUsed)
			}
			if d.WarningLevel != tt.level {
				t.Errorf("expected level %v, got %v", tt.level, d.WarningLevel)
			}
		})
	}
}

func TestEvaluate_ZeroLimit(t *testing.T) {
	d := Evaluate(limited(0), 0, 1, 80)

	if d.Allowed {
		t.Error("expected zero limit to deny")
	}
	if d.Reason != ReasonLimitExceeded {
		t.Errorf("expected limit_exceeded, got %s", d.Reason)
	}
}

// -----------------------------------------------------------------------------
// Level / Percent tests
// -----------------------------------------------------------------------------

func TestLevel_DefaultThreshold(t *testing.T) {
	if got := Level(80, 0); got != WarningApproaching {
		t.Errorf("expected default soft limit of 80, got %v", got)
	}
	if got := Level(79.9, 0); got != WarningNone {
		t.Errorf("expected none below 80, got %v", got)
	}
}

func TestLevel_CustomThresholdAboveCritical(t *testing.T) {
	// With a 98% soft limit, 96% is still quiet.
	if got := Level(96, 98); got != WarningNone {
		t.Errorf("expected none, got %v", got)
	}
	if got := Level(99, 98); got != WarningApproaching {
		t.Errorf("expected approaching, got %v", got)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(85, 100); got != 85 {
		t.Errorf("expected 85, got %f", got)
	}
	if got := Percent(0, 0); got != 100 {
		t.Errorf("expected zero limit to read as 100%%, got %f", got)
	}
}

func TestWarningLevel_String(t *testing.T) {
	tests := map[WarningLevel]string{
		WarningNone:        "none",
		WarningApproaching: "approaching",
		WarningCritical:    "critical",
		WarningLevel(99):   "unknown",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", level, got, want)
		}
	}
}

// -----------------------------------------------------------------------------
// Headers tests
// -----------------------------------------------------------------------------

func TestDecision_Headers(t *testing.T) {
	d := Evaluate(limited(100), 75, 10, 80)

	h := d.Headers()
	if h["X-Usage-Warning"] != "approaching" {
		t.Errorf("X-Usage-Warning = %q", h["X-Usage-Warning"])
	}
	if h["X-Usage-Current"] != "85" {
		t.Errorf("X-Usage-Current = %q, want 85", h["X-Usage-Current"])
	}
	if h["X-Usage-Limit"] != "100" {
		t.Errorf("X-Usage-Limit = %q, want 100", h["X-Usage-Limit"])
	}

	quiet := Evaluate(limited(100), 75, 4, 80)
	if quiet.Headers() != nil {
		t.Error("expected no headers below the soft limit")
	}
}
