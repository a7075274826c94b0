// Package quota provides pure functions for feature quota enforcement.
// All functions are deterministic with no side effects.
package quota

import (
	"math"
	"strconv"
	"time"

	"github.com/artpar/quotagate/domain/plan"
)

// DefaultSoftLimitPct is the usage percentage that triggers a soft warning.
const DefaultSoftLimitPct = 80.0

// Reason explains why a feature request was denied.
type Reason string

const (
	ReasonNoSubscription     Reason = "no_subscription"
	ReasonFeatureNotIncluded Reason = "feature_not_included"
	ReasonLimitExceeded      Reason = "limit_exceeded"
)

// Retryable reports whether waiting for the reset period can change the outcome.
func (r Reason) Retryable() bool {
	return r == ReasonLimitExceeded
}

// WarningLevel indicates how close to the limit the tenant is.
type WarningLevel int

const (
	WarningNone        WarningLevel = iota // below the soft limit
	WarningApproaching                     // >= soft limit
	WarningCritical                        // >= 95%
)

// String returns the header form of a warning level.
func (w WarningLevel) String() string {
	switch w {
	case WarningNone:
		return "none"
	case WarningApproaching:
		return "approaching"
	case WarningCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a feature access check (value type).
type Decision struct {
	Allowed      bool
	Reason       Reason // Empty when allowed
	Feature      string
	PlanID       string
	CurrentUsage int64 // Usage before this request
	Limit        int64 // -1 = unlimited
	NewUsage     int64 // Usage after this request (equals CurrentUsage when denied)
	PercentUsed  float64
	Warning      bool
	WarningLevel WarningLevel
	ResetAt      time.Time
}

// Unlimited reports whether the decision was made against an unlimited quota.
func (d Decision) Unlimited() bool {
	return d.Limit < 0
}

// Evaluate decides whether requested units fit within the resolved limit.
// current is only consulted for limited quotas.
// This is a PURE function.
func Evaluate(l plan.Limit, current, requested int64, softPct float64) Decision {
	d := Decision{
		Feature:      l.FeatureSlug,
		PlanID:       l.PlanID,
		CurrentUsage: current,
		NewUsage:     current,
		Limit:        -1,
	}

	switch l.Status {
	case plan.StatusNoPlan:
		d.Reason = ReasonNoSubscription
		d.Limit = 0
		return d
	case plan.StatusNotIncluded:
		d.Reason = ReasonFeatureNotIncluded
		d.Limit = 0
		return d
	case plan.StatusUnlimited:
		d.Allowed = true
		d.NewUsage = saturatingAdd(current, requested)
		return d
	}

	d.Limit = l.Value
	// Compared as remaining headroom so a huge request cannot wrap the sum.
	if current > l.Value || requested > l.Value-current {
		d.Reason = ReasonLimitExceeded
		d.PercentUsed = Percent(current, l.Value)
		return d
	}

	d.Allowed = true
	d.NewUsage = current + requested
	d.PercentUsed = Percent(d.NewUsage, l.Value)
	d.WarningLevel = Level(d.PercentUsed, softPct)
	d.Warning = d.WarningLevel != WarningNone
	return d
}

func saturatingAdd(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Percent returns usage as a percentage of limit. A zero limit is 100% used.
// This is a PURE function.
func Percent(usage, limit int64) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(usage) / float64(limit) * 100
}

// Level maps a usage percentage to a warning level.
// softPct <= 0 falls back to DefaultSoftLimitPct.
// This is a PURE function.
func Level(pct, softPct float64) WarningLevel {
	if softPct <= 0 {
		softPct = DefaultSoftLimitPct
	}
	switch {
	case pct >= 95 && softPct <= 95:
		return WarningCritical
	case pct >= softPct:
		return WarningApproaching
	default:
		return WarningNone
	}
}

// Headers returns the supplementary headers for an allowed request that
// crossed the soft limit. Returns nil when there is nothing to surface.
// This is a PURE function.
func (d Decision) Headers() map[string]string {
	if !d.Allowed || !d.Warning {
		return nil
	}
	return map[string]string{
		"X-Usage-Warning": d.WarningLevel.String(),
		"X-Usage-Current": strconv.FormatInt(d.NewUsage, 10),
		"X-Usage-Limit":   strconv.FormatInt(d.Limit, 10),
	}
}
