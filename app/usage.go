package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/usage"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

// ErrInvalidAmount is returned for negative usage amounts and for amounts
// the usage counter cannot hold.
var ErrInvalidAmount = errors.New("amount must be non-negative and fit the usage counter")

// TenantSubject returns the counter subject for a tenant.
func TenantSubject(tenantID string) string {
	return "tenant:" + tenantID
}

// FeatureMetric returns the counter metric for a feature.
func FeatureMetric(feature string) string {
	return "feature:" + feature
}

// UsageTracker counts feature consumption per tenant and reset period.
// Counters drive decisions; the record log is audit data and may lag.
type UsageTracker struct {
	counters ports.CounterStore
	records  ports.UsageRecordStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	metrics  ports.Metrics
	logger   zerolog.Logger
}

// UsageDeps contains dependencies for UsageTracker.
type UsageDeps struct {
	Counters ports.CounterStore
	Records  ports.UsageRecordStore // Optional
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Metrics  ports.Metrics // Optional
	Logger   zerolog.Logger
}

// NewUsageTracker creates a usage tracker.
func NewUsageTracker(deps UsageDeps) *UsageTracker {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &UsageTracker{
		counters: deps.Counters,
		records:  deps.Records,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		metrics:  m,
		logger:   deps.Logger,
	}
}

func (t *UsageTracker) key(tenantID, feature string, period window.Kind) counter.Key {
	return counter.NewKey(TenantSubject(tenantID), FeatureMetric(feature), period, t.clock.Now())
}

// ttl keeps a counter live until its window closes. A key built just before
// a window boundary still gets a positive TTL.
func (t *UsageTracker) ttl(key counter.Key) time.Duration {
	if d := key.ExpiresAt().Sub(t.clock.Now()); d > 0 {
		return d
	}
	return time.Second
}

// CurrentUsage returns the tenant's consumption of feature in the current period.
func (t *UsageTracker) CurrentUsage(ctx context.Context, tenantID, feature string, period window.Kind) (int64, error) {
	return t.counters.Get(ctx, t.key(tenantID, feature, period))
}

// Track unconditionally adds amount and returns the new total.
func (t *UsageTracker) Track(ctx context.Context, tenantID, feature string, period window.Kind, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	key := t.key(tenantID, feature, period)
	total, err := t.counters.Increment(ctx, key, amount, t.ttl(key))
	if errors.Is(err, counter.ErrOverflow) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err != nil {
		return 0, fmt.Errorf("track usage: %w", err)
	}
	t.recorded(ctx, tenantID, feature, period, amount)
	return total, nil
}

// TrackWithin adds amount only if the total stays within limit.
// Returns the resulting total and whether the amount was counted.
func (t *UsageTracker) TrackWithin(ctx context.Context, tenantID, feature string, period window.Kind, amount, limit int64) (int64, bool, error) {
	if amount < 0 {
		return 0, false, ErrInvalidAmount
	}
	key := t.key(tenantID, feature, period)
	total, ok, err := t.counters.IncrementIfBelow(ctx, key, amount, limit, t.ttl(key))
	if err != nil {
		return 0, false, fmt.Errorf("track usage: %w", err)
	}
	if ok {
		t.recorded(ctx, tenantID, feature, period, amount)
	}
	return total, ok, nil
}

// recorded appends an audit record. Failures are logged, never returned.
func (t *UsageTracker) recorded(ctx context.Context, tenantID, feature string, period window.Kind, amount int64) {
	t.metrics.Tracked(feature, amount)
	if t.records == nil || amount == 0 {
		return
	}

	r := usage.NewRecord(t.idGen.New(), tenantID, feature, period, amount, t.clock.Now())
	if err := t.records.Append(ctx, r); err != nil {
		t.metrics.RecordAppendFailed()
		t.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("feature", feature).
			Int64("amount", amount).
			Msg("failed to append usage record")
	}
}

// Reconcile rebuilds the current period's counter from the record log and
// returns the restored total. Used after a counter store loses state.
func (t *UsageTracker) Reconcile(ctx context.Context, tenantID, feature string, period window.Kind) (int64, error) {
	if t.records == nil {
		return 0, errors.New("reconcile: no usage record store configured")
	}
	now := t.clock.Now()
	total, err := t.records.Sum(ctx, tenantID, feature, window.PeriodDate(now, period))
	if err != nil {
		return 0, fmt.Errorf("sum usage records: %w", err)
	}

	key := counter.NewKey(TenantSubject(tenantID), FeatureMetric(feature), period, now)
	if err := t.counters.SetWithTTL(ctx, key, total, t.ttl(key)); err != nil {
		return 0, fmt.Errorf("restore counter: %w", err)
	}

	t.logger.Info().
		Str("tenant_id", tenantID).
		Str("feature", feature).
		Int64("total", total).
		Msg("usage counter reconciled")
	return total, nil
}

// Records returns the tenant's most recent usage records.
func (t *UsageTracker) Records(ctx context.Context, tenantID string, limit int) ([]usage.Record, error) {
	if t.records == nil {
		return nil, nil
	}
	return t.records.List(ctx, tenantID, limit)
}
