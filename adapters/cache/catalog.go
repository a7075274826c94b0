// Package cache provides a read-through cache in front of a plan catalog.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/ports"
)

// loadTimeout bounds a shared backend load, which outlives any single caller's context.
const loadTimeout = 5 * time.Second

// Config configures the catalog cache.
type Config struct {
	Size int           // Entries per lookup kind (default: 10000)
	TTL  time.Duration // Entry lifetime (default: 30s)
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{Size: 10000, TTL: 30 * time.Second}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// Catalog decorates a ports.PlanCatalog with expirable LRU caches.
// Missing records are cached as nil so repeated lookups for unknown tenants
// do not reach the backing store. Concurrent misses for one key share a single
// backend call. Errors are never cached.
type Catalog struct {
	next         ports.PlanCatalog
	plans        *lru.LRU[string, *plan.Plan]
	features     *lru.LRU[string, *plan.Feature]
	planFeatures *lru.LRU[string, *plan.PlanFeature]
	group        singleflight.Group
	hits         atomic.Int64
	misses       atomic.Int64
}

// NewCatalog wraps next with a cache.
func NewCatalog(next ports.PlanCatalog, cfg Config) *Catalog {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	return &Catalog{
		next:         next,
		plans:        lru.NewLRU[string, *plan.Plan](cfg.Size, nil, cfg.TTL),
		features:     lru.NewLRU[string, *plan.Feature](cfg.Size, nil, cfg.TTL),
		planFeatures: lru.NewLRU[string, *plan.PlanFeature](cfg.Size, nil, cfg.TTL),
	}
}

// readThrough serves key from c, loading it once on a miss.
// The shared load is detached from ctx so one caller giving up does not fail
// the others; each caller still stops waiting when its own ctx is done.
func readThrough[T any](ctx context.Context, cat *Catalog, c *lru.LRU[string, *T], group, key string, load func(ctx context.Context) (*T, error)) (*T, error) {
	if v, ok := c.Get(key); ok {
		cat.hits.Add(1)
		return v, nil
	}
	cat.misses.Add(1)

	ch := cat.group.DoChan(group+":"+key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Add(key, loaded)
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}

// planFeatureKey joins the pair with a NUL byte, which cannot appear in IDs or slugs.
func planFeatureKey(planID, slug string) string {
	return planID + "\x00" + slug
}

// GetActivePlan returns the tenant's active plan, nil if none.
func (c *Catalog) GetActivePlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	return readThrough(ctx, c, c.plans, "plan", tenantID, func(ctx context.Context) (*plan.Plan, error) {
		return c.next.GetActivePlan(ctx, tenantID)
	})
}

// GetFeature returns a catalog feature, nil if unknown.
func (c *Catalog) GetFeature(ctx context.Context, slug string) (*plan.Feature, error) {
	return readThrough(ctx, c, c.features, "feature", slug, func(ctx context.Context) (*plan.Feature, error) {
		return c.next.GetFeature(ctx, slug)
	})
}

// GetPlanFeature returns a plan's override for a feature, nil if absent.
func (c *Catalog) GetPlanFeature(ctx context.Context, planID, slug string) (*plan.PlanFeature, error) {
	return readThrough(ctx, c, c.planFeatures, "planfeature", planFeatureKey(planID, slug), func(ctx context.Context) (*plan.PlanFeature, error) {
		return c.next.GetPlanFeature(ctx, planID, slug)
	})
}

// InvalidateTenant drops the cached plan of one tenant.
func (c *Catalog) InvalidateTenant(tenantID string) {
	c.plans.Remove(tenantID)
}

// Invalidate drops every cached entry.
func (c *Catalog) Invalidate() {
	c.plans.Purge()
	c.features.Purge()
	c.planFeatures.Purge()
}

// Stats returns hit and miss counts since creation.
func (c *Catalog) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Ensure interface compliance.
var _ ports.PlanCatalog = (*Catalog)(nil)
