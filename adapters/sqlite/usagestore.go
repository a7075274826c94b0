package sqlite

import (
	"context"
	"time"

	"github.com/artpar/quotagate/domain/usage"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

// UsageStore implements ports.UsageRecordStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage record store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append stores a usage record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, tenant_id, feature_slug, period_kind, period_date, amount, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TenantID, r.FeatureSlug, string(r.PeriodKind), r.PeriodDate, r.Amount, r.RecordedAt.UTC())
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// AppendBatch stores multiple records in one transaction.
func (s *UsageStore) AppendBatch(ctx context.Context, records []usage.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (id, tenant_id, feature_slug, period_kind, period_date, amount, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.TenantID, r.FeatureSlug, string(r.PeriodKind), r.PeriodDate, r.Amount, r.RecordedAt.UTC(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Sum returns the total amount recorded for a tenant, feature and period date.
func (s *UsageStore) Sum(ctx context.Context, tenantID, feature, periodDate string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM usage_records
		WHERE tenant_id = ? AND feature_slug = ? AND period_date = ?
	`, tenantID, feature, periodDate).Scan(&total)
	return total, err
}

// List returns a tenant's records, newest first.
func (s *UsageStore) List(ctx context.Context, tenantID string, limit int) ([]usage.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, feature_slug, period_kind, period_date, amount, recorded_at
		FROM usage_records
		WHERE tenant_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []usage.Record
	for rows.Next() {
		var r usage.Record
		var kind string
		var recordedAt time.Time
		if err := rows.Scan(&r.ID, &r.TenantID, &r.FeatureSlug, &kind, &r.PeriodDate, &r.Amount, &recordedAt); err != nil {
			return nil, err
		}
		r.PeriodKind = window.Kind(kind)
		r.RecordedAt = recordedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteBefore removes records older than the cutoff.
func (s *UsageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_records WHERE recorded_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageRecordStore = (*UsageStore)(nil)
