// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file when one exists, otherwise from
// QUOTAGATE_* environment variables.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/cache"
	"github.com/artpar/quotagate/adapters/clock"
	apihttp "github.com/artpar/quotagate/adapters/http"
	"github.com/artpar/quotagate/adapters/idgen"
	"github.com/artpar/quotagate/adapters/memory"
	"github.com/artpar/quotagate/adapters/metrics"
	qredis "github.com/artpar/quotagate/adapters/redis"
	"github.com/artpar/quotagate/adapters/sqlite"
	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/config"
	"github.com/artpar/quotagate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder // nil when configured from the environment
	DB         *sqlite.DB     // nil unless a sqlite component is configured
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	Clock      ports.Clock

	// Services
	Counters ports.CounterStore
	Catalog  ports.PlanCatalog
	Resolver *app.PlanResolver
	Tracker  *app.UsageTracker
	Limiter  *app.RateLimiter
	Gate     *app.FeatureGate
	Sweeper  *Sweeper

	cfg *config.Config

	// Adapters (for reload and cleanup)
	memCounters  *memory.CounterStore
	redisStore   *qredis.CounterStore
	memCatalog   *memory.Catalog
	sqlCatalog   *sqlite.CatalogStore
	catalogCache *cache.Catalog
	records      *BufferedRecordStore
	health       apihttp.HealthChecker

	shutdownOnce sync.Once
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML config file. When empty or missing, the
	// configuration is read from the environment and hot reload is off.
	ConfigPath string

	// Logger replaces the logger built from the logging config.
	Logger *zerolog.Logger

	// Clock defaults to the system clock.
	Clock ports.Clock
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = NewLogger(cfg.Logging)
	}

	a := &App{
		Logger: logger,
		Clock:  opts.Clock,
	}
	if a.Clock == nil {
		a.Clock = clock.Real{}
	}

	if opts.ConfigPath != "" {
		if _, statErr := os.Stat(opts.ConfigPath); statErr == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return nil, err
			}
			a.Holder = holder
			cfg = holder.Get()
		}
	}
	a.cfg = cfg

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("catalog", cfg.Catalog.Source).
		Str("records", cfg.Usage.Records).
		Msg("initializing quotagate")

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.init(context.Background(), cfg); err != nil {
		a.closeAdapters()
		return nil, err
	}

	if a.Holder != nil {
		a.Holder.OnChange(a.applyConfig)
		a.Holder.OnError(func(err error) {
			a.Metrics.ConfigReloaded(err, a.Clock.Now())
		})
	}

	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	m := a.portMetrics()

	sweep, err := a.initCounters(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init counter store: %w", err)
	}
	if err := a.initCatalog(ctx, cfg); err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	records, pruner, err := a.initRecords(cfg)
	if err != nil {
		return fmt.Errorf("init usage records: %w", err)
	}

	tiers, err := cfg.TierTable()
	if err != nil {
		return err
	}

	a.Resolver = app.NewPlanResolver(a.Catalog)
	a.Tracker = app.NewUsageTracker(app.UsageDeps{
		Counters: a.Counters,
		Records:  records,
		Clock:    a.Clock,
		IDGen:    idgen.ForName(cfg.Usage.IDGenerator),
		Metrics:  m,
		Logger:   a.Logger,
	})
	a.Limiter, err = app.NewRateLimiter(app.RateLimiterDeps{
		Counters: a.Counters,
		Clock:    a.Clock,
		Metrics:  m,
		Logger:   a.Logger,
	}, tiers)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	a.Gate = app.NewFeatureGate(app.GateDeps{
		Resolver: a.Resolver,
		Tracker:  a.Tracker,
		Clock:    a.Clock,
		Metrics:  m,
		Logger:   a.Logger,
	}, gateConfig(cfg))

	a.Sweeper = NewSweeper(SweeperDeps{
		Counters:  sweep,
		Records:   pruner,
		Retention: cfg.Maintenance.RecordRetention,
		Clock:     a.Clock,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	})

	a.initHTTPServer(cfg)
	return nil
}

// portMetrics returns the collector as a port, nil when metrics are off.
func (a *App) portMetrics() ports.Metrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics
}

func (a *App) database(cfg *config.Config) (*sqlite.DB, error) {
	if a.DB != nil {
		return a.DB, nil
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("path", cfg.Database.Path).Msg("database initialized")
	return db, nil
}

// initCounters selects the counter backend and wraps it in a GuardStore.
// It returns the sweeper for backends that keep expired rows.
func (a *App) initCounters(ctx context.Context, cfg *config.Config) (ports.Sweeper, error) {
	var (
		raw   ports.CounterStore
		sweep ports.Sweeper
	)

	switch cfg.Store.Driver {
	case "sqlite":
		db, err := a.database(cfg)
		if err != nil {
			return nil, err
		}
		s := sqlite.NewCounterStore(db, a.Clock)
		raw, sweep = s, s
		a.health = pingFunc(db.PingContext)

	case "redis":
		client, err := qredis.Connect(ctx, qredis.Config{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.redisStore = qredis.NewCounterStore(client, cfg.Redis.Prefix)
		raw = a.redisStore
		a.health = a.redisStore

	default:
		// Expired entries are dropped by the sweeper, not a private ticker.
		a.memCounters = memory.NewCounterStore(memory.CounterStoreConfig{
			NumShards:       cfg.Store.Shards,
			CleanupInterval: -1,
			Clock:           a.Clock,
		})
		raw, sweep = a.memCounters, a.memCounters
	}

	a.Counters = app.NewGuardStore(raw, cfg.Store.Timeout, a.portMetrics())
	return sweep, nil
}

func (a *App) initCatalog(ctx context.Context, cfg *config.Config) error {
	var cat ports.PlanCatalog

	switch cfg.Catalog.Source {
	case "sqlite":
		db, err := a.database(cfg)
		if err != nil {
			return err
		}
		a.sqlCatalog = sqlite.NewCatalogStore(db)
		if err := SeedCatalog(ctx, a.sqlCatalog, cfg, a.Clock.Now()); err != nil {
			return err
		}
		cat = a.sqlCatalog

	default:
		a.memCatalog = memory.NewCatalog()
		a.memCatalog.Load(CatalogData(cfg))
		cat = a.memCatalog
	}

	if cfg.Catalog.Cache.Enabled {
		a.catalogCache = cache.NewCatalog(cat, cache.Config{
			Size: cfg.Catalog.Cache.Size,
			TTL:  cfg.Catalog.Cache.TTL,
		})
		cat = a.catalogCache
	}

	a.Catalog = cat
	return nil
}

// initRecords selects the usage record store. The pruner is nil when
// records cannot be pruned.
func (a *App) initRecords(cfg *config.Config) (ports.UsageRecordStore, RecordPruner, error) {
	switch cfg.Usage.Records {
	case "none":
		return nil, nil, nil

	case "sqlite":
		db, err := a.database(cfg)
		if err != nil {
			return nil, nil, err
		}
		a.records = NewBufferedRecordStore(
			sqlite.NewUsageStore(db),
			cfg.Usage.BatchSize,
			cfg.Usage.FlushInterval,
			a.portMetrics(),
			a.Logger,
		)
		return a.records, a.records, nil

	default:
		return memory.NewUsageStore(), nil, nil
	}
}

func (a *App) initHTTPServer(cfg *config.Config) {
	tenantOf := apihttp.HeaderTenant(cfg.Server.TenantHeader)

	handler := apihttp.NewHandler(apihttp.HandlerDeps{
		Limiter:     a.Limiter,
		Gate:        a.Gate,
		Tracker:     a.Tracker,
		Resolver:    a.Resolver,
		DefaultTier: cfg.RateLimit.DefaultTier,
		Logger:      a.Logger,
	})

	routerCfg := apihttp.RouterConfig{
		Metrics:         a.Metrics,
		MetricsPath:     cfg.Metrics.Path,
		AuthorizeTenant: tenantOf,
	}
	if a.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
	}
	if cfg.RateLimit.Enabled {
		routerCfg.AuthorizeLimiter = &apihttp.RateLimitGuard{
			Identify: apihttp.TenantOrIP(tenantOf),
			Tier:     apihttp.PlanTier(a.Resolver, tenantOf, cfg.RateLimit.DefaultTier),
		}
	}

	router := apihttp.NewRouter(handler, apihttp.NewHealthHandler(a.health), a.Logger, routerCfg)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	if a.Holder != nil {
		return a.Holder.Get()
	}
	return a.cfg
}

// applyConfig pushes hot-reloadable settings into the running services.
func (a *App) applyConfig(cfg *config.Config) {
	tiers, err := cfg.TierTable()
	if err == nil {
		err = a.Limiter.UpdateTiers(tiers)
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("rate limit tiers not updated")
	}

	a.Gate.UpdateConfig(gateConfig(cfg))

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	switch {
	case a.memCatalog != nil:
		a.memCatalog.Load(CatalogData(cfg))
	case a.sqlCatalog != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := SeedCatalog(ctx, a.sqlCatalog, cfg, a.Clock.Now()); err != nil {
			a.Logger.Error().Err(err).Msg("catalog not reseeded")
		}
		cancel()
	}
	if a.catalogCache != nil {
		a.catalogCache.Invalidate()
	}

	a.Metrics.ConfigReloaded(nil, a.Clock.Now())
}

func gateConfig(cfg *config.Config) app.GateConfig {
	return app.GateConfig{
		SoftLimitPct: cfg.Usage.SoftLimitPct,
		Strict:       cfg.Usage.Strict,
	}
}

// CatalogData converts the configured catalog to a memory snapshot.
func CatalogData(cfg *config.Config) memory.CatalogData {
	subs := make(map[string]string, len(cfg.Subscriptions))
	for tenant, planID := range cfg.Subscriptions {
		subs[tenant] = planID
	}
	return memory.CatalogData{
		Plans:         cfg.CatalogPlans(),
		Features:      cfg.CatalogFeatures(),
		PlanFeatures:  cfg.CatalogPlanFeatures(),
		Subscriptions: subs,
	}
}

// SeedCatalog upserts the configured catalog into the sqlite store.
// Tenants already on their configured plan keep their subscription.
func SeedCatalog(ctx context.Context, store *sqlite.CatalogStore, cfg *config.Config, now time.Time) error {
	for _, f := range cfg.CatalogFeatures() {
		if err := store.SaveFeature(ctx, f); err != nil {
			return fmt.Errorf("save feature %s: %w", f.Slug, err)
		}
	}
	for _, p := range cfg.CatalogPlans() {
		if err := store.SavePlan(ctx, p); err != nil {
			return fmt.Errorf("save plan %s: %w", p.ID, err)
		}
	}
	for _, pf := range cfg.CatalogPlanFeatures() {
		if err := store.SavePlanFeature(ctx, pf); err != nil {
			return fmt.Errorf("save plan feature %s/%s: %w", pf.PlanID, pf.FeatureSlug, err)
		}
	}
	for tenant, planID := range cfg.Subscriptions {
		current, err := store.GetActivePlan(ctx, tenant)
		if err != nil {
			return fmt.Errorf("load subscription %s: %w", tenant, err)
		}
		if current != nil && current.ID == planID {
			continue
		}
		if err := store.Subscribe(ctx, tenant, planID, sqlite.SubscriptionActive, now); err != nil {
			return fmt.Errorf("subscribe %s: %w", tenant, err)
		}
	}
	return nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	cfg := a.Config()

	if err := a.Sweeper.Start(cfg.Maintenance.SweepSchedule); err != nil {
		return err
	}

	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watching disabled")
		}
		a.Holder.WatchSignals()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. Calls after the first are no-ops.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if a.Holder != nil {
			a.Holder.Stop()
		}

		if a.Sweeper != nil {
			a.Sweeper.Stop()
		}

		// Shutdown HTTP server
		if a.HTTPServer != nil {
			if err := a.HTTPServer.Shutdown(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server shutdown error")
			}
		}

		a.closeAdapters()
		a.Logger.Info().Msg("shutdown complete")
	})
	return nil
}

func (a *App) closeAdapters() {
	// Flush usage records before the database goes away
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage record flush error")
		}
	}

	if a.memCounters != nil {
		a.memCounters.Close()
	}

	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
