package app

import (
	"context"
	"fmt"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/ports"
)

// PlanResolver loads catalog records and resolves a tenant's effective limit.
type PlanResolver struct {
	catalog ports.PlanCatalog
}

// NewPlanResolver creates a resolver over a plan catalog.
func NewPlanResolver(catalog ports.PlanCatalog) *PlanResolver {
	return &PlanResolver{catalog: catalog}
}

// Resolve returns the effective limit of feature for tenantID.
// A tenant without an active plan resolves to plan.StatusNoPlan.
// Catalog errors are returned as-is.
func (r *PlanResolver) Resolve(ctx context.Context, tenantID, feature string) (plan.Limit, error) {
	p, err := r.catalog.GetActivePlan(ctx, tenantID)
	if err != nil {
		return plan.Limit{}, fmt.Errorf("load plan: %w", err)
	}

	f, err := r.catalog.GetFeature(ctx, feature)
	if err != nil {
		return plan.Limit{}, fmt.Errorf("load feature: %w", err)
	}

	var pf *plan.PlanFeature
	if p != nil && f != nil {
		pf, err = r.catalog.GetPlanFeature(ctx, p.ID, feature)
		if err != nil {
			return plan.Limit{}, fmt.Errorf("load plan feature: %w", err)
		}
	}

	l := plan.Resolve(p, f, pf)
	if l.FeatureSlug == "" {
		l.FeatureSlug = feature
	}
	return l, nil
}

// ActivePlan returns the tenant's active plan, nil if none.
func (r *PlanResolver) ActivePlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	return r.catalog.GetActivePlan(ctx, tenantID)
}

// RateLimitTier returns the tier granted by the tenant's active plan.
// Tenants without a plan, or whose plan names no tier, get fallback.
func (r *PlanResolver) RateLimitTier(ctx context.Context, tenantID, fallback string) (string, error) {
	p, err := r.catalog.GetActivePlan(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}
	if p == nil || p.RateLimitTier == "" {
		return fallback, nil
	}
	return p.RateLimitTier, nil
}
