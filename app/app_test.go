package app_test

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/clock"
	"github.com/artpar/quotagate/adapters/idgen"
	"github.com/artpar/quotagate/adapters/memory"
	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/domain/window"
	"github.com/artpar/quotagate/ports"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// testEnv bundles a fully wired set of services over in-memory stores.
type testEnv struct {
	clock    *clock.Fake
	counters *memory.CounterStore
	catalog  *memory.Catalog
	records  *memory.UsageStore
	tracker  *app.UsageTracker
	resolver *app.PlanResolver
	gate     *app.FeatureGate
}

func newTestEnv(cfg app.GateConfig) *testEnv {
	clk := clock.NewFake(baseTime)
	counters := memory.NewCounterStore(memory.CounterStoreConfig{CleanupInterval: -1, Clock: clk})
	catalog := memory.NewCatalog()
	catalog.Load(memory.CatalogData{
		Plans: []plan.Plan{
			{ID: "basic", RateLimitTier: "basic"},
			{ID: "enterprise", RateLimitTier: "enterprise", UnlimitedByDefault: true},
		},
		Features: []plan.Feature{
			{Slug: "reports", IsActive: true},
			{Slug: "api_calls", IsActive: true, DefaultLimit: plan.Int64(100)},
			{Slug: "exports", IsActive: true, ResetPeriod: window.Day},
			{Slug: "legacy", IsActive: false, DefaultLimit: plan.Int64(10)},
			{Slug: "sso", IsActive: true},
		},
		PlanFeatures: []plan.PlanFeature{
			{PlanID: "basic", FeatureSlug: "reports", Limit: plan.Int64(50), IsIncluded: true},
			{PlanID: "basic", FeatureSlug: "exports", Limit: plan.Int64(5), IsIncluded: true},
			{PlanID: "basic", FeatureSlug: "sso", IsIncluded: false},
			{PlanID: "enterprise", FeatureSlug: "reports", Limit: plan.Int64(1000), IsIncluded: true},
		},
		Subscriptions: map[string]string{
			"acme":   "basic",
			"globex": "enterprise",
		},
	})
	records := memory.NewUsageStore()

	tracker := app.NewUsageTracker(app.UsageDeps{
		Counters: counters,
		Records:  records,
		Clock:    clk,
		IDGen:    idgen.NewSequential("rec_"),
		Logger:   zerolog.Nop(),
	})
	resolver := app.NewPlanResolver(catalog)
	gate := app.NewFeatureGate(app.GateDeps{
		Resolver: resolver,
		Tracker:  tracker,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, cfg)

	return &testEnv{
		clock:    clk,
		counters: counters,
		catalog:  catalog,
		records:  records,
		tracker:  tracker,
		resolver: resolver,
		gate:     gate,
	}
}

// seedUsage sets a tenant's current usage of a monthly feature.
func (e *testEnv) seedUsage(tenantID, feature string, period window.Kind, amount int64) {
	key := counter.NewKey(app.TenantSubject(tenantID), app.FeatureMetric(feature), period, e.clock.Now())
	e.counters.SetWithTTL(context.Background(), key, amount, key.TTL())
}

var errBackend = errors.New("connection refused")

// failingStore is a counter store whose every call fails.
type failingStore struct{}

func (failingStore) Increment(context.Context, counter.Key, int64, time.Duration) (int64, error) {
	return 0, errBackend
}

func (failingStore) IncrementIfBelow(context.Context, counter.Key, int64, int64, time.Duration) (int64, bool, error) {
	return 0, false, errBackend
}

func (failingStore) Get(context.Context, counter.Key) (int64, error) {
	return 0, errBackend
}

func (failingStore) SetWithTTL(context.Context, counter.Key, int64, time.Duration) error {
	return errBackend
}

// slowStore blocks until the context is done.
type slowStore struct{ failingStore }

func (slowStore) Get(ctx context.Context, _ counter.Key) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (slowStore) IncrementIfBelow(ctx context.Context, _ counter.Key, _, _ int64, _ time.Duration) (int64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

// failingCatalog fails every lookup.
type failingCatalog struct{}

func (failingCatalog) GetActivePlan(context.Context, string) (*plan.Plan, error) {
	return nil, errBackend
}

func (failingCatalog) GetFeature(context.Context, string) (*plan.Feature, error) {
	return nil, errBackend
}

func (failingCatalog) GetPlanFeature(context.Context, string, string) (*plan.PlanFeature, error) {
	return nil, errBackend
}

var (
	_ ports.CounterStore = failingStore{}
	_ ports.CounterStore = slowStore{}
	_ ports.PlanCatalog  = failingCatalog{}
)
