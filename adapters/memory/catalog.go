package memory

import (
	"context"
	"sync"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/ports"
)

// Catalog is an in-memory implementation of ports.PlanCatalog.
// It is typically loaded from configuration and replaced wholesale on reload.
type Catalog struct {
	mu            sync.RWMutex
	plans         map[string]plan.Plan
	features      map[string]plan.Feature
	planFeatures  map[string]plan.PlanFeature // keyed by planFeatureKey
	subscriptions map[string]string           // tenantID -> planID
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.reset()
	return c
}

func (c *Catalog) reset() {
	c.plans = make(map[string]plan.Plan)
	c.features = make(map[string]plan.Feature)
	c.planFeatures = make(map[string]plan.PlanFeature)
	c.subscriptions = make(map[string]string)
}

// planFeatureKey joins the pair with a NUL byte, which cannot appear in IDs or slugs.
func planFeatureKey(planID, slug string) string {
	return planID + "\x00" + slug
}

// CatalogData is a full catalog snapshot.
type CatalogData struct {
	Plans         []plan.Plan
	Features      []plan.Feature
	PlanFeatures  []plan.PlanFeature
	Subscriptions map[string]string // tenantID -> planID
}

// Load replaces the catalog contents atomically.
func (c *Catalog) Load(data CatalogData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	for _, p := range data.Plans {
		c.plans[p.ID] = p
	}
	for _, f := range data.Features {
		c.features[f.Slug] = f
	}
	for _, pf := range data.PlanFeatures {
		c.planFeatures[planFeatureKey(pf.PlanID, pf.FeatureSlug)] = pf
	}
	for tenant, planID := range data.Subscriptions {
		c.subscriptions[tenant] = planID
	}
}

// PutPlan stores or replaces a plan.
func (c *Catalog) PutPlan(p plan.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

// PutFeature stores or replaces a feature.
func (c *Catalog) PutFeature(f plan.Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[f.Slug] = f
}

// PutPlanFeature stores or replaces a plan override.
func (c *Catalog) PutPlanFeature(pf plan.PlanFeature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planFeatures[planFeatureKey(pf.PlanID, pf.FeatureSlug)] = pf
}

// Subscribe assigns a plan to a tenant. An empty planID cancels the subscription.
func (c *Catalog) Subscribe(tenantID, planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if planID == "" {
		delete(c.subscriptions, tenantID)
		return
	}
	c.subscriptions[tenantID] = planID
}

// GetActivePlan returns the tenant's active plan, nil if none.
func (c *Catalog) GetActivePlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	planID, ok := c.subscriptions[tenantID]
	if !ok {
		return nil, nil
	}
	p, ok := c.plans[planID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetFeature returns a catalog feature, nil if unknown.
func (c *Catalog) GetFeature(ctx context.Context, slug string) (*plan.Feature, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.features[slug]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// GetPlanFeature returns a plan's override for a feature, nil if absent.
func (c *Catalog) GetPlanFeature(ctx context.Context, planID, slug string) (*plan.PlanFeature, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pf, ok := c.planFeatures[planFeatureKey(planID, slug)]
	if !ok {
		return nil, nil
	}
	return &pf, nil
}

// Ensure interface compliance.
var _ ports.PlanCatalog = (*Catalog)(nil)
