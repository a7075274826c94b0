package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

// RateLimitMetric returns the counter metric for a tier.
func RateLimitMetric(tier string) string {
	return "rl:" + tier
}

// RateLimiter enforces per-tier request limits across minute, hour and day windows.
type RateLimiter struct {
	counters ports.CounterStore
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger

	// Hot-reloadable tier table
	tiers atomic.Pointer[ratelimit.Tiers]
}

// RateLimiterDeps contains dependencies for RateLimiter.
type RateLimiterDeps struct {
	Counters ports.CounterStore
	Clock    ports.Clock
	Metrics  ports.Metrics // Optional
	Logger   zerolog.Logger
}

// NewRateLimiter creates a rate limiter. A nil tier table uses ratelimit.DefaultTiers.
func NewRateLimiter(deps RateLimiterDeps, tiers ratelimit.Tiers) (*RateLimiter, error) {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	r := &RateLimiter{
		counters: deps.Counters,
		clock:    deps.Clock,
		metrics:  m,
		logger:   deps.Logger,
	}
	if tiers == nil {
		tiers = ratelimit.DefaultTiers()
	}
	if err := r.UpdateTiers(tiers); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateTiers swaps the tier table. Safe to call while checks are running.
func (r *RateLimiter) UpdateTiers(tiers ratelimit.Tiers) error {
	if err := tiers.Validate(); err != nil {
		return fmt.Errorf("invalid tiers: %w", err)
	}
	r.tiers.Store(&tiers)
	return nil
}

// Tiers returns the current tier table.
func (r *RateLimiter) Tiers() ratelimit.Tiers {
	return *r.tiers.Load()
}

// Check admits or rejects one request by identifier under the named tier.
// Windows are walked minute, hour, day. Each passing window is incremented;
// the first exhausted window denies the request and stops the walk, leaving
// its own counter untouched. Earlier windows keep the increment.
func (r *RateLimiter) Check(ctx context.Context, identifier, tierName string) (ratelimit.Decision, error) {
	tier, err := r.Tiers().Lookup(tierName)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	now := r.clock.Now()
	d := ratelimit.Decision{
		Allowed:    true,
		Identifier: identifier,
		Tier:       tierName,
		Limits:     make(map[window.Kind]ratelimit.WindowStatus, len(window.RateLimitKinds)),
	}

	for _, kind := range window.RateLimitKinds {
		limit := tier.Limit(kind)
		key := counter.NewKey(identifier, RateLimitMetric(tierName), kind, now)

		count, ok, err := r.counters.IncrementIfBelow(ctx, key, 1, limit, key.ExpiresAt().Sub(now))
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("rate limit %s window: %w", kind, err)
		}
		d.Limits[kind] = ratelimit.Status(count, limit, window.ResetAt(now, kind))

		if !ok {
			d.Allowed = false
			d.ExceededWindow = kind
			d.RetryAfter = window.RetryAfter(now, kind)

			r.metrics.RateLimitDenied(tierName, string(kind))
			r.metrics.Decision("ratelimit", ratelimit.ReasonRateLimitExceeded)
			r.logger.Debug().
				Str("identifier", identifier).
				Str("tier", tierName).
				Str("window", string(kind)).
				Int64("limit", limit).
				Int("retry_after", d.RetryAfter).
				Msg("rate limit exceeded")
			return d, nil
		}
	}

	r.metrics.Decision("ratelimit", "allowed")
	return d, nil
}

// Status reports the current window state without consuming a request.
func (r *RateLimiter) Status(ctx context.Context, identifier, tierName string) (ratelimit.Decision, error) {
	tier, err := r.Tiers().Lookup(tierName)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	now := r.clock.Now()
	d := ratelimit.Decision{
		Allowed:    true,
		Identifier: identifier,
		Tier:       tierName,
		Limits:     make(map[window.Kind]ratelimit.WindowStatus, len(window.RateLimitKinds)),
	}

	for _, kind := range window.RateLimitKinds {
		limit := tier.Limit(kind)
		current, err := r.counters.Get(ctx, counter.NewKey(identifier, RateLimitMetric(tierName), kind, now))
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("rate limit %s window: %w", kind, err)
		}
		d.Limits[kind] = ratelimit.Status(current, limit, window.ResetAt(now, kind))
		if d.Allowed && !ratelimit.Passes(current, limit) {
			d.Allowed = false
			d.ExceededWindow = kind
			d.RetryAfter = window.RetryAfter(now, kind)
		}
	}
	return d, nil
}
