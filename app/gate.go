package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/domain/quota"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

// GateConfig contains hot-reloadable feature gate settings.
type GateConfig struct {
	// SoftLimitPct is the usage percentage that raises a warning (default 80).
	SoftLimitPct float64
	// Strict makes check-and-track a single conditional increment so that
	// concurrent requests can never push usage past the limit.
	Strict bool
}

// FeatureGate decides whether a tenant may consume a feature and tracks usage.
type FeatureGate struct {
	resolver *PlanResolver
	tracker  *UsageTracker
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger

	cfg atomic.Pointer[GateConfig]
}

// GateDeps contains dependencies for FeatureGate.
type GateDeps struct {
	Resolver *PlanResolver
	Tracker  *UsageTracker
	Clock    ports.Clock
	Metrics  ports.Metrics // Optional
	Logger   zerolog.Logger
}

// NewFeatureGate creates a feature gate.
func NewFeatureGate(deps GateDeps, cfg GateConfig) *FeatureGate {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	g := &FeatureGate{
		resolver: deps.Resolver,
		tracker:  deps.Tracker,
		clock:    deps.Clock,
		metrics:  m,
		logger:   deps.Logger,
	}
	g.UpdateConfig(cfg)
	return g
}

// UpdateConfig swaps the gate settings. Safe to call while checks are running.
func (g *FeatureGate) UpdateConfig(cfg GateConfig) {
	if cfg.SoftLimitPct <= 0 {
		cfg.SoftLimitPct = quota.DefaultSoftLimitPct
	}
	g.cfg.Store(&cfg)
}

// Config returns the current gate settings.
func (g *FeatureGate) Config() GateConfig {
	return *g.cfg.Load()
}

// CheckAndTrack admits requested units of feature for tenantID and, when
// admitted, counts them. Denials have no side effect.
// Errors from the catalog or counter store are returned; callers must deny.
func (g *FeatureGate) CheckAndTrack(ctx context.Context, tenantID, feature string, requested int64) (quota.Decision, error) {
	if requested < 0 {
		return quota.Decision{}, ErrInvalidAmount
	}
	cfg := g.Config()

	limit, err := g.resolver.Resolve(ctx, tenantID, feature)
	if err != nil {
		return quota.Decision{}, err
	}
	now := g.clock.Now()

	var d quota.Decision
	switch {
	case !limit.Included():
		d = quota.Evaluate(limit, 0, requested, cfg.SoftLimitPct)

	case limit.Unlimited():
		total, err := g.tracker.Track(ctx, tenantID, feature, limit.ResetPeriod, requested)
		if err != nil {
			return quota.Decision{}, err
		}
		d = quota.Evaluate(limit, total-requested, requested, cfg.SoftLimitPct)

	default:
		d, err = g.trackLimited(ctx, tenantID, feature, limit, requested, cfg)
		if err != nil {
			return quota.Decision{}, err
		}
	}

	if limit.Included() {
		d.ResetAt = window.ResetAt(now, limit.ResetPeriod)
	}
	g.observe(tenantID, d)
	return d, nil
}

func (g *FeatureGate) trackLimited(ctx context.Context, tenantID, feature string, limit plan.Limit, requested int64, cfg GateConfig) (quota.Decision, error) {
	current, err := g.tracker.CurrentUsage(ctx, tenantID, feature, limit.ResetPeriod)
	if err != nil {
		return quota.Decision{}, err
	}

	d := quota.Evaluate(limit, current, requested, cfg.SoftLimitPct)
	if !d.Allowed {
		return d, nil
	}

	if !cfg.Strict {
		total, err := g.tracker.Track(ctx, tenantID, feature, limit.ResetPeriod, requested)
		if err != nil {
			return quota.Decision{}, err
		}
		d.NewUsage = total
		return d, nil
	}

	total, ok, err := g.tracker.TrackWithin(ctx, tenantID, feature, limit.ResetPeriod, requested, limit.Value)
	if err != nil {
		return quota.Decision{}, err
	}
	if !ok {
		// Lost a race to a concurrent request; report the usage that beat us.
		return quota.Evaluate(limit, total, requested, cfg.SoftLimitPct), nil
	}
	return quota.Evaluate(limit, total-requested, requested, cfg.SoftLimitPct), nil
}

// Check evaluates a request without tracking it.
func (g *FeatureGate) Check(ctx context.Context, tenantID, feature string, requested int64) (quota.Decision, error) {
	if requested < 0 {
		return quota.Decision{}, ErrInvalidAmount
	}
	cfg := g.Config()

	limit, err := g.resolver.Resolve(ctx, tenantID, feature)
	if err != nil {
		return quota.Decision{}, err
	}

	var current int64
	if limit.Included() {
		current, err = g.tracker.CurrentUsage(ctx, tenantID, feature, limit.ResetPeriod)
		if err != nil {
			return quota.Decision{}, err
		}
	}

	d := quota.Evaluate(limit, current, requested, cfg.SoftLimitPct)
	if limit.Included() {
		d.ResetAt = window.ResetAt(g.clock.Now(), limit.ResetPeriod)
	}
	return d, nil
}

// UsageSummary describes a tenant's standing for one feature.
type UsageSummary struct {
	TenantID    string
	Feature     string
	PlanID      string
	Status      plan.Status
	Period      window.Kind
	Current     int64
	Limit       int64 // -1 = unlimited, 0 when not included
	Remaining   int64 // -1 = unlimited
	PercentUsed float64
	Warning     quota.WarningLevel
	ResetAt     time.Time
}

// Usage reports current consumption of feature against the tenant's limit.
func (g *FeatureGate) Usage(ctx context.Context, tenantID, feature string) (UsageSummary, error) {
	limit, err := g.resolver.Resolve(ctx, tenantID, feature)
	if err != nil {
		return UsageSummary{}, err
	}

	s := UsageSummary{
		TenantID: tenantID,
		Feature:  feature,
		PlanID:   limit.PlanID,
		Status:   limit.Status,
		Period:   limit.ResetPeriod,
	}
	if !limit.Included() {
		return s, nil
	}

	s.Current, err = g.tracker.CurrentUsage(ctx, tenantID, feature, limit.ResetPeriod)
	if err != nil {
		return UsageSummary{}, err
	}
	s.ResetAt = window.ResetAt(g.clock.Now(), limit.ResetPeriod)

	if limit.Unlimited() {
		s.Limit, s.Remaining = -1, -1
		return s, nil
	}

	s.Limit = limit.Value
	s.Remaining = limit.Value - s.Current
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	s.PercentUsed = quota.Percent(s.Current, limit.Value)
	s.Warning = quota.Level(s.PercentUsed, g.Config().SoftLimitPct)
	return s, nil
}

func (g *FeatureGate) observe(tenantID string, d quota.Decision) {
	if !d.Allowed {
		g.metrics.Decision("feature", string(d.Reason))
		g.logger.Debug().
			Str("tenant_id", tenantID).
			Str("feature", d.Feature).
			Str("reason", string(d.Reason)).
			Int64("current", d.CurrentUsage).
			Int64("limit", d.Limit).
			Msg("feature request denied")
		return
	}

	g.metrics.Decision("feature", "allowed")
	if d.Warning {
		g.metrics.SoftWarning(d.Feature, d.WarningLevel.String())
		g.logger.Info().
			Str("tenant_id", tenantID).
			Str("feature", d.Feature).
			Float64("percent_used", d.PercentUsed).
			Str("level", d.WarningLevel.String()).
			Msg("usage approaching limit")
	}
}
