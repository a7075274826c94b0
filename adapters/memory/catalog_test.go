package memory_test

import (
	"context"
	"testing"

	"github.com/artpar/quotagate/adapters/memory"
	"github.com/artpar/quotagate/domain/plan"
)

func TestCatalog_Lookups(t *testing.T) {
	c := memory.NewCatalog()
	ctx := context.Background()

	c.Load(memory.CatalogData{
		Plans:         []plan.Plan{{ID: "basic", RateLimitTier: "basic"}},
		Features:      []plan.Feature{{Slug: "reports", IsActive: true}},
		PlanFeatures:  []plan.PlanFeature{{PlanID: "basic", FeatureSlug: "reports", Limit: plan.Int64(50), IsIncluded: true}},
		Subscriptions: map[string]string{"t1": "basic"},
	})

	p, err := c.GetActivePlan(ctx, "t1")
	if err != nil || p == nil || p.ID != "basic" {
		t.Fatalf("GetActivePlan = %v, %v", p, err)
	}

	f, _ := c.GetFeature(ctx, "reports")
	if f == nil || !f.IsActive {
		t.Errorf("GetFeature = %v", f)
	}

	pf, _ := c.GetPlanFeature(ctx, "basic", "reports")
	if pf == nil || *pf.Limit != 50 {
		t.Errorf("GetPlanFeature = %v", pf)
	}
}

func TestCatalog_MissingRecordsAreNil(t *testing.T) {
	c := memory.NewCatalog()
	ctx := context.Background()

	if p, err := c.GetActivePlan(ctx, "nobody"); p != nil || err != nil {
		t.Errorf("GetActivePlan = %v, %v; want nil, nil", p, err)
	}
	if f, err := c.GetFeature(ctx, "nothing"); f != nil || err != nil {
		t.Errorf("GetFeature = %v, %v; want nil, nil", f, err)
	}
	if pf, err := c.GetPlanFeature(ctx, "basic", "nothing"); pf != nil || err != nil {
		t.Errorf("GetPlanFeature = %v, %v; want nil, nil", pf, err)
	}
}

func TestCatalog_SubscriptionToUnknownPlan(t *testing.T) {
	c := memory.NewCatalog()
	c.Subscribe("t1", "ghost")

	p, err := c.GetActivePlan(context.Background(), "t1")
	if p != nil || err != nil {
		t.Errorf("GetActivePlan = %v, %v; want nil, nil", p, err)
	}
}

func TestCatalog_Unsubscribe(t *testing.T) {
	c := memory.NewCatalog()
	c.PutPlan(plan.Plan{ID: "pro"})
	c.Subscribe("t1", "pro")
	c.Subscribe("t1", "")

	if p, _ := c.GetActivePlan(context.Background(), "t1"); p != nil {
		t.Errorf("expected no plan after cancel, got %v", p)
	}
}

func TestCatalog_LoadReplaces(t *testing.T) {
	c := memory.NewCatalog()
	c.PutFeature(plan.Feature{Slug: "old", IsActive: true})
	c.Load(memory.CatalogData{Features: []plan.Feature{{Slug: "new", IsActive: true}}})

	if f, _ := c.GetFeature(context.Background(), "old"); f != nil {
		t.Error("Load should replace previous contents")
	}
}

func TestCatalog_PlanFeatureKeysDoNotCollide(t *testing.T) {
	c := memory.NewCatalog()
	c.Load(memory.CatalogData{
		Plans:        []plan.Plan{{ID: "a/b"}, {ID: "a"}},
		Features:     []plan.Feature{{Slug: "c", IsActive: true}, {Slug: "b/c", IsActive: true}},
		PlanFeatures: []plan.PlanFeature{{PlanID: "a/b", FeatureSlug: "c", Limit: plan.Int64(5), IsIncluded: true}},
	})

	if pf, _ := c.GetPlanFeature(context.Background(), "a", "b/c"); pf != nil {
		t.Errorf("expected no override for a + b/c, got %+v", pf)
	}
}
