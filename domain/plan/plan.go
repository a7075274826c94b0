// Package plan provides plan, feature and limit value types and the pure
// resolution of a tenant's effective quota for a feature.
package plan

import "github.com/artpar/quotagate/domain/window"

// Plan represents a subscription plan (immutable value type).
type Plan struct {
	ID   string
	Name string
	// RateLimitTier names the request-rate tier granted by this plan.
	RateLimitTier string
	// UnlimitedByDefault grants unlimited access to every active feature
	// the plan has no explicit entry for.
	UnlimitedByDefault bool
}

// Feature is a platform-wide capability in the feature catalog (value type).
type Feature struct {
	Slug         string
	Name         string
	IsActive     bool
	DefaultLimit *int64      // nil = no platform default
	ResetPeriod  window.Kind // Usage window; empty means monthly
}

// PlanFeature is a per-plan override for one feature (value type).
type PlanFeature struct {
	PlanID      string
	FeatureSlug string
	Limit       *int64 // nil = unlimited
	IsIncluded  bool
}

// Status classifies a resolved limit.
type Status string

const (
	StatusNoPlan      Status = "no_plan"
	StatusNotIncluded Status = "not_included"
	StatusUnlimited   Status = "unlimited"
	StatusLimited     Status = "limited"
)

// Limit is the effective quota of one feature for one tenant (value type).
type Limit struct {
	PlanID      string
	FeatureSlug string
	Status      Status
	Value       int64       // Only meaningful when Status == StatusLimited
	ResetPeriod window.Kind // Window usage is counted against
}

// Included reports whether the feature may be used at all.
func (l Limit) Included() bool {
	return l.Status == StatusUnlimited || l.Status == StatusLimited
}

// Unlimited reports whether usage is unbounded.
func (l Limit) Unlimited() bool {
	return l.Status == StatusUnlimited
}

// Resolve computes the effective limit from the tenant's active plan, the
// catalog feature and the plan's override for it. Any argument may be nil.
// An explicit override always wins over the feature default.
// This is a PURE function.
func Resolve(p *Plan, f *Feature, pf *PlanFeature) Limit {
	l := Limit{Status: StatusNotIncluded, ResetPeriod: window.Month}
	if f != nil {
		l.FeatureSlug = f.Slug
		l.ResetPeriod = ResetPeriod(*f)
	}

	if p == nil {
		l.Status = StatusNoPlan
		return l
	}
	l.PlanID = p.ID

	if f == nil || !f.IsActive {
		return l
	}

	if pf != nil {
		if !pf.IsIncluded {
			return l
		}
		return withValue(l, pf.Limit)
	}

	if p.UnlimitedByDefault {
		l.Status = StatusUnlimited
		return l
	}
	if f.DefaultLimit != nil {
		return withValue(l, f.DefaultLimit)
	}
	return l
}

func withValue(l Limit, v *int64) Limit {
	if v == nil {
		l.Status = StatusUnlimited
		return l
	}
	l.Status = StatusLimited
	l.Value = *v
	if l.Value < 0 {
		l.Value = 0
	}
	return l
}

// ResetPeriod returns the window a feature's usage resets on.
// This is a PURE function.
func ResetPeriod(f Feature) window.Kind {
	if f.ResetPeriod.Valid() {
		return f.ResetPeriod
	}
	return window.Month
}

// Int64 returns a pointer to v, for building limits in config and tests.
func Int64(v int64) *int64 {
	return &v
}
