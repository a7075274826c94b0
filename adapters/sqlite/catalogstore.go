package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

// Subscription statuses that grant a tenant its plan.
const (
	SubscriptionActive    = "active"
	SubscriptionTrialing  = "trialing"
	SubscriptionCancelled = "cancelled"
)

// CatalogStore implements ports.PlanCatalog with SQLite.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new SQLite catalog store.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// GetActivePlan returns the plan of the tenant's newest active or trialing
// subscription, nil if there is none.
func (s *CatalogStore) GetActivePlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	var p plan.Plan
	var unlimited int
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.rate_limit_tier, p.unlimited_by_default
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.tenant_id = ? AND s.status IN ('active', 'trialing')
		ORDER BY s.created_at DESC
		LIMIT 1
	`, tenantID).Scan(&p.ID, &p.Name, &p.RateLimitTier, &unlimited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UnlimitedByDefault = unlimited == 1
	return &p, nil
}

// GetPlan returns a plan by ID, nil if unknown.
func (s *CatalogStore) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	var p plan.Plan
	var unlimited int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, rate_limit_tier, unlimited_by_default
		FROM plans WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.RateLimitTier, &unlimited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UnlimitedByDefault = unlimited == 1
	return &p, nil
}

// GetFeature returns a catalog feature, nil if unknown.
func (s *CatalogStore) GetFeature(ctx context.Context, slug string) (*plan.Feature, error) {
	var f plan.Feature
	var active int
	var defaultLimit sql.NullInt64
	var period string
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, name, is_active, default_limit, reset_period
		FROM features WHERE slug = ?
	`, slug).Scan(&f.Slug, &f.Name, &active, &defaultLimit, &period)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.IsActive = active == 1
	f.DefaultLimit = int64Ptr(defaultLimit)
	f.ResetPeriod = window.Kind(period)
	return &f, nil
}

// GetPlanFeature returns a plan's override for a feature, nil if absent.
func (s *CatalogStore) GetPlanFeature(ctx context.Context, planID, slug string) (*plan.PlanFeature, error) {
	pf := plan.PlanFeature{PlanID: planID, FeatureSlug: slug}
	var limit sql.NullInt64
	var included int
	err := s.db.QueryRowContext(ctx, `
		SELECT limit_value, is_included
		FROM plan_features WHERE plan_id = ? AND feature_slug = ?
	`, planID, slug).Scan(&limit, &included)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pf.Limit = int64Ptr(limit)
	pf.IsIncluded = included == 1
	return &pf, nil
}

// ListFeatures returns every catalog feature ordered by slug.
func (s *CatalogStore) ListFeatures(ctx context.Context) ([]plan.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, name, is_active, default_limit, reset_period
		FROM features ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []plan.Feature
	for rows.Next() {
		var f plan.Feature
		var active int
		var defaultLimit sql.NullInt64
		var period string
		if err := rows.Scan(&f.Slug, &f.Name, &active, &defaultLimit, &period); err != nil {
			return nil, err
		}
		f.IsActive = active == 1
		f.DefaultLimit = int64Ptr(defaultLimit)
		f.ResetPeriod = window.Kind(period)
		features = append(features, f)
	}
	return features, rows.Err()
}

// SavePlan creates or replaces a plan.
func (s *CatalogStore) SavePlan(ctx context.Context, p plan.Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, rate_limit_tier, unlimited_by_default)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rate_limit_tier = excluded.rate_limit_tier,
			unlimited_by_default = excluded.unlimited_by_default,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.RateLimitTier, boolToInt(p.UnlimitedByDefault))
	return err
}

// SaveFeature creates or replaces a catalog feature.
func (s *CatalogStore) SaveFeature(ctx context.Context, f plan.Feature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO features (slug, name, is_active, default_limit, reset_period)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			default_limit = excluded.default_limit,
			reset_period = excluded.reset_period,
			updated_at = CURRENT_TIMESTAMP
	`, f.Slug, f.Name, boolToInt(f.IsActive), nullInt64(f.DefaultLimit), string(plan.ResetPeriod(f)))
	return err
}

// SavePlanFeature creates or replaces a plan's override for a feature.
func (s *CatalogStore) SavePlanFeature(ctx context.Context, pf plan.PlanFeature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_features (plan_id, feature_slug, limit_value, is_included)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id, feature_slug) DO UPDATE SET
			limit_value = excluded.limit_value,
			is_included = excluded.is_included
	`, pf.PlanID, pf.FeatureSlug, nullInt64(pf.Limit), boolToInt(pf.IsIncluded))
	return err
}

// Subscribe records a new subscription for the tenant. The newest active
// subscription decides the tenant's plan.
func (s *CatalogStore) Subscribe(ctx context.Context, tenantID, planID, status string, at time.Time) error {
	if status == "" {
		status = SubscriptionActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (tenant_id, plan_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, tenantID, planID, status, at.UTC())
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Cancel marks every live subscription of the tenant as cancelled.
func (s *CatalogStore) Cancel(ctx context.Context, tenantID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?
		WHERE tenant_id = ? AND status IN ('active', 'trialing')
	`, SubscriptionCancelled, tenantID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Ensure interface compliance.
var _ ports.PlanCatalog = (*CatalogStore)(nil)
