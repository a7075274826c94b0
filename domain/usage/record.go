// Package usage provides usage record types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"time"

	"github.com/artpar/quotagate/domain/window"
)

// Record is one append-only consumption entry (immutable value type).
// Gating decisions use counters; records exist for audit and reconciliation.
type Record struct {
	ID          string
	TenantID    string
	FeatureSlug string
	PeriodKind  window.Kind
	PeriodDate  string // Window label, e.g. "2024-01" for a monthly period
	Amount      int64
	RecordedAt  time.Time
}

// NewRecord creates a record for amount units consumed at now.
func NewRecord(id, tenantID, feature string, period window.Kind, amount int64, now time.Time) Record {
	return Record{
		ID:          id,
		TenantID:    tenantID,
		FeatureSlug: feature,
		PeriodKind:  period,
		PeriodDate:  window.PeriodDate(now, period),
		Amount:      amount,
		RecordedAt:  now.UTC(),
	}
}

// Summary is aggregated usage of one feature for one tenant and period.
type Summary struct {
	TenantID    string
	FeatureSlug string
	PeriodKind  window.Kind
	PeriodDate  string
	Total       int64
	Records     int64
}
