// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/domain/usage"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreUnavailable means a backing store could not be reached or timed out.
	// Checks that see it must deny.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by catalog writes that target a missing record.
	ErrNotFound = errors.New("not found")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// CounterStore is an atomic increment/read primitive keyed per window.
// Implementations must be safe for concurrent use: concurrent increments of the
// same key are never lost. Absent or expired keys read as 0.
type CounterStore interface {
	// Increment adds delta (>= 0) and returns the new value.
	// The counter is created on first use and expires ttl after creation.
	Increment(ctx context.Context, key counter.Key, delta int64, ttl time.Duration) (int64, error)

	// IncrementIfBelow adds delta only if the result stays <= limit.
	// Returns the resulting value and whether the increment happened.
	IncrementIfBelow(ctx context.Context, key counter.Key, delta, limit int64, ttl time.Duration) (int64, bool, error)

	// Get returns the current value, 0 if absent.
	Get(ctx context.Context, key counter.Key) (int64, error)

	// SetWithTTL overwrites the value (>= 0) and resets the expiry.
	SetWithTTL(ctx context.Context, key counter.Key, value int64, ttl time.Duration) error
}

// -----------------------------------------------------------------------------
// Catalog Ports
// -----------------------------------------------------------------------------

// PlanCatalog looks up plans, features and per-plan overrides.
// Missing records are reported as nil values, not errors.
type PlanCatalog interface {
	// GetActivePlan returns the tenant's active plan, nil if none.
	GetActivePlan(ctx context.Context, tenantID string) (*plan.Plan, error)

	// GetFeature returns a catalog feature, nil if unknown.
	GetFeature(ctx context.Context, slug string) (*plan.Feature, error)

	// GetPlanFeature returns a plan's override for a feature, nil if absent.
	GetPlanFeature(ctx context.Context, planID, slug string) (*plan.PlanFeature, error)
}

// -----------------------------------------------------------------------------
// Usage Record Ports
// -----------------------------------------------------------------------------

// UsageRecordStore persists the append-only usage log.
type UsageRecordStore interface {
	// Append stores a record.
	Append(ctx context.Context, r usage.Record) error

	// Sum returns the total amount recorded for a tenant, feature and period date.
	Sum(ctx context.Context, tenantID, feature, periodDate string) (int64, error)

	// List returns a tenant's records, newest first.
	List(ctx context.Context, tenantID string, limit int) ([]usage.Record, error)
}

// -----------------------------------------------------------------------------
// Maintenance Ports
// -----------------------------------------------------------------------------

// Sweeper removes counters whose window has ended.
type Sweeper interface {
	// DeleteExpired removes counters that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives decision and store telemetry.
type Metrics interface {
	Decision(check, outcome string)
	RateLimitDenied(tier, window string)
	Tracked(feature string, amount int64)
	SoftWarning(feature, level string)
	StoreOp(op string, d time.Duration, err error)
	RecordAppendFailed()
}
