package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/plan"
)

func TestPlanResolver_Resolve(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	tests := []struct {
		tenant  string
		feature string
		status  plan.Status
		value   int64
	}{
		{"acme", "reports", plan.StatusLimited, 50},
		{"acme", "api_calls", plan.StatusLimited, 100},
		{"acme", "sso", plan.StatusNotIncluded, 0},
		{"acme", "unknown", plan.StatusNotIncluded, 0},
		{"globex", "reports", plan.StatusLimited, 1000},
		{"globex", "sso", plan.StatusUnlimited, 0},
		{"nobody", "reports", plan.StatusNoPlan, 0},
	}

	for _, tt := range tests {
		l, err := env.resolver.Resolve(ctx, tt.tenant, tt.feature)
		if err != nil {
			t.Fatalf("Resolve(%s, %s) error: %v", tt.tenant, tt.feature, err)
		}
		if l.Status != tt.status {
			t.Errorf("Resolve(%s, %s).Status = %s, want %s", tt.tenant, tt.feature, l.Status, tt.status)
		}
		if tt.status == plan.StatusLimited && l.Value != tt.value {
			t.Errorf("Resolve(%s, %s).Value = %d, want %d", tt.tenant, tt.feature, l.Value, tt.value)
		}
		if l.FeatureSlug != tt.feature {
			t.Errorf("Resolve(%s, %s).FeatureSlug = %q", tt.tenant, tt.feature, l.FeatureSlug)
		}
	}
}

func TestPlanResolver_RateLimitTier(t *testing.T) {
	env := newTestEnv(app.GateConfig{})
	ctx := context.Background()

	tier, err := env.resolver.RateLimitTier(ctx, "acme", "free")
	if err != nil {
		t.Fatalf("RateLimitTier error: %v", err)
	}
	if tier != "basic" {
		t.Errorf("acme tier = %s, want basic", tier)
	}

	tier, err = env.resolver.RateLimitTier(ctx, "nobody", "free")
	if err != nil {
		t.Fatalf("RateLimitTier error: %v", err)
	}
	if tier != "free" {
		t.Errorf("tenant without plan tier = %s, want fallback free", tier)
	}
}

func TestPlanResolver_CatalogError(t *testing.T) {
	resolver := app.NewPlanResolver(failingCatalog{})

	if _, err := resolver.Resolve(context.Background(), "acme", "reports"); !errors.Is(err, errBackend) {
		t.Errorf("Resolve error = %v, want wrapped backend error", err)
	}
	if _, err := resolver.RateLimitTier(context.Background(), "acme", "free"); !errors.Is(err, errBackend) {
		t.Errorf("RateLimitTier error = %v, want wrapped backend error", err)
	}
}
