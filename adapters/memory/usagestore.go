package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/quotagate/domain/usage"
	"github.com/artpar/quotagate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageRecordStore.
type UsageStore struct {
	mu      sync.RWMutex
	records []usage.Record
}

// NewUsageStore creates a new in-memory usage record store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		records: make([]usage.Record, 0),
	}
}

// Append stores a record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	return nil
}

// Sum returns the total amount recorded for a tenant, feature and period date.
func (s *UsageStore) Sum(ctx context.Context, tenantID, feature, periodDate string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return usage.Sum(s.records, tenantID, feature, periodDate), nil
}

// List returns a tenant's records, newest first.
func (s *UsageStore) List(ctx context.Context, tenantID string, limit int) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []usage.Record
	for _, r := range s.records {
		if r.TenantID == tenantID {
			result = append(result, r)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RecordedAt.After(result[j].RecordedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Drain returns and clears all stored records (for testing).
func (s *UsageStore) Drain() []usage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records
	s.records = make([]usage.Record, 0)
	return records
}

// Ensure interface compliance.
var _ ports.UsageRecordStore = (*UsageStore)(nil)
