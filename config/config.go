// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/artpar/quotagate/domain/plan"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/window"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Store         StoreConfig       `yaml:"store"`
	Database      DatabaseConfig    `yaml:"database"`
	Redis         RedisConfig       `yaml:"redis"`
	Catalog       CatalogConfig     `yaml:"catalog"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Usage         UsageConfig       `yaml:"usage"`
	Features      []FeatureConfig   `yaml:"features"`
	Plans         []PlanConfig      `yaml:"plans"`
	Subscriptions map[string]string `yaml:"subscriptions"` // tenant -> plan
	Maintenance   MaintenanceConfig `yaml:"maintenance"`
	Logging       LoggingConfig     `yaml:"logging"`
	Metrics       MetricsConfig     `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TenantHeader string        `yaml:"tenant_header"` // Header carrying the tenant ID (default: X-Tenant-ID)
}

// StoreConfig selects the counter backend.
type StoreConfig struct {
	Driver  string        `yaml:"driver"`  // "memory", "sqlite" or "redis"
	Timeout time.Duration `yaml:"timeout"` // Per-call deadline; exceeded calls fail closed
	Shards  int           `yaml:"shards"`  // memory only
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the Redis counter backend.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	Prefix     string `yaml:"prefix"`
}

// CatalogConfig selects where plans and features come from.
type CatalogConfig struct {
	Source string      `yaml:"source"` // "config" or "sqlite"
	Cache  CacheConfig `yaml:"cache"`
}

// CacheConfig configures the catalog read-through cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	Enabled     bool         `yaml:"enabled"`
	DefaultTier string       `yaml:"default_tier"` // Tier for callers without a plan
	Tiers       []TierConfig `yaml:"tiers"`
}

// TierConfig is one rate limit tier.
type TierConfig struct {
	Name      string `yaml:"name"`
	PerMinute int64  `yaml:"per_minute"`
	PerHour   int64  `yaml:"per_hour"`
	PerDay    int64  `yaml:"per_day"`
}

// UsageConfig configures usage tracking and the feature gate.
type UsageConfig struct {
	SoftLimitPct float64 `yaml:"soft_limit_pct"`
	Strict       bool    `yaml:"strict"`
	Records      string  `yaml:"records"`      // "none", "memory" or "sqlite"
	IDGenerator  string  `yaml:"id_generator"` // "uuid", "uuidv7" or "sequential"

	// sqlite records are written in batches
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// FeatureConfig is one catalog feature.
type FeatureConfig struct {
	Slug         string `yaml:"slug"`
	Name         string `yaml:"name"`
	Active       *bool  `yaml:"active"` // default true
	DefaultLimit *int64 `yaml:"default_limit"`
	ResetPeriod  string `yaml:"reset_period"` // minute, hour, day, month
}

// PlanConfig is one subscription plan.
type PlanConfig struct {
	ID                 string                       `yaml:"id"`
	Name               string                       `yaml:"name"`
	RateLimitTier      string                       `yaml:"rate_limit_tier"`
	UnlimitedByDefault bool                         `yaml:"unlimited_by_default"`
	Features           map[string]PlanFeatureConfig `yaml:"features"`
}

// PlanFeatureConfig overrides one feature for a plan.
// An omitted limit means unlimited.
type PlanFeatureConfig struct {
	Limit    *int64 `yaml:"limit"`
	Included *bool  `yaml:"included"` // default true
}

// MaintenanceConfig configures background housekeeping.
type MaintenanceConfig struct {
	SweepSchedule   string        `yaml:"sweep_schedule"`   // cron expression or @every descriptor
	RecordRetention time.Duration `yaml:"record_retention"` // 0 keeps records forever
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// The catalog is empty, so every feature check is denied until plans are
// added to the sqlite catalog.
//
// Environment variables:
//
//	QUOTAGATE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	QUOTAGATE_SERVER_PORT        - Server port (default: 8080)
//	QUOTAGATE_STORE_DRIVER       - Counter backend: memory, sqlite or redis (default: memory)
//	QUOTAGATE_STORE_TIMEOUT      - Per-call store deadline (default: 250ms)
//	QUOTAGATE_DATABASE_PATH      - SQLite path (default: quotagate.db)
//	QUOTAGATE_REDIS_URL          - Redis URL (required for the redis driver)
//	QUOTAGATE_CATALOG_SOURCE     - config or sqlite (default: config)
//	QUOTAGATE_USAGE_SOFT_LIMIT   - Soft warning percentage (default: 80)
//	QUOTAGATE_USAGE_STRICT       - Conditional tracking (default: false)
//	QUOTAGATE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	QUOTAGATE_LOG_FORMAT         - Log format: json or console (default: json)
//	QUOTAGATE_METRICS_ENABLED    - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies QUOTAGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("QUOTAGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("QUOTAGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QUOTAGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("QUOTAGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("QUOTAGATE_SERVER_TENANT_HEADER"); v != "" {
		cfg.Server.TenantHeader = v
	}

	// Store configuration
	if v := os.Getenv("QUOTAGATE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("QUOTAGATE_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Timeout = d
		}
	}
	if v := os.Getenv("QUOTAGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("QUOTAGATE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("QUOTAGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QUOTAGATE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	// Catalog configuration
	if v := os.Getenv("QUOTAGATE_CATALOG_SOURCE"); v != "" {
		cfg.Catalog.Source = v
	}
	if v := os.Getenv("QUOTAGATE_CATALOG_CACHE_ENABLED"); v != "" {
		cfg.Catalog.Cache.Enabled = parseBool(v)
	}

	// Rate limit configuration
	if v := os.Getenv("QUOTAGATE_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUOTAGATE_RATELIMIT_DEFAULT_TIER"); v != "" {
		cfg.RateLimit.DefaultTier = v
	}

	// Usage configuration
	if v := os.Getenv("QUOTAGATE_USAGE_SOFT_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Usage.SoftLimitPct = f
		}
	}
	if v := os.Getenv("QUOTAGATE_USAGE_STRICT"); v != "" {
		cfg.Usage.Strict = parseBool(v)
	}
	if v := os.Getenv("QUOTAGATE_USAGE_RECORDS"); v != "" {
		cfg.Usage.Records = v
	}

	// Maintenance configuration
	if v := os.Getenv("QUOTAGATE_SWEEP_SCHEDULE"); v != "" {
		cfg.Maintenance.SweepSchedule = v
	}
	if v := os.Getenv("QUOTAGATE_RECORD_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintenance.RecordRetention = d
		}
	}

	// Logging configuration
	if v := os.Getenv("QUOTAGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUOTAGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("QUOTAGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUOTAGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.TenantHeader == "" {
		cfg.Server.TenantHeader = "X-Tenant-ID"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 250 * time.Millisecond
	}
	if cfg.Store.Shards == 0 {
		cfg.Store.Shards = 32
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "quotagate.db"
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MaxRetries == 0 {
		cfg.Redis.MaxRetries = 3
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "quotagate"
	}

	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = "config"
	}
	if cfg.Catalog.Cache.Size == 0 {
		cfg.Catalog.Cache.Size = 10000
	}
	if cfg.Catalog.Cache.TTL == 0 {
		cfg.Catalog.Cache.TTL = 30 * time.Second
	}

	if cfg.RateLimit.DefaultTier == "" {
		cfg.RateLimit.DefaultTier = ratelimit.TierFree
	}
	if len(cfg.RateLimit.Tiers) == 0 {
		defaults := ratelimit.DefaultTiers()
		for _, name := range defaults.Names() {
			t := defaults[name]
			cfg.RateLimit.Tiers = append(cfg.RateLimit.Tiers, TierConfig{
				Name:      t.Name,
				PerMinute: t.PerMinute,
				PerHour:   t.PerHour,
				PerDay:    t.PerDay,
			})
		}
	}

	if cfg.Usage.SoftLimitPct == 0 {
		cfg.Usage.SoftLimitPct = 80
	}
	if cfg.Usage.Records == "" {
		cfg.Usage.Records = "memory"
		if cfg.Store.Driver == "sqlite" {
			cfg.Usage.Records = "sqlite"
		}
	}
	if cfg.Usage.IDGenerator == "" {
		cfg.Usage.IDGenerator = "uuidv7"
	}
	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 2 * time.Second
	}

	if cfg.Maintenance.SweepSchedule == "" {
		cfg.Maintenance.SweepSchedule = "@every 5m"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true, "redis": true}
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("store.driver must be 'memory', 'sqlite' or 'redis', got %q", cfg.Store.Driver)
	}
	if cfg.Store.Timeout < 0 {
		return fmt.Errorf("store.timeout must not be negative")
	}
	if cfg.Store.Driver == "redis" && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when store.driver is 'redis'")
	}

	validSources := map[string]bool{"config": true, "sqlite": true}
	if !validSources[cfg.Catalog.Source] {
		return fmt.Errorf("catalog.source must be 'config' or 'sqlite', got %q", cfg.Catalog.Source)
	}

	validRecords := map[string]bool{"none": true, "memory": true, "sqlite": true}
	if !validRecords[cfg.Usage.Records] {
		return fmt.Errorf("usage.records must be 'none', 'memory' or 'sqlite', got %q", cfg.Usage.Records)
	}
	if cfg.Usage.SoftLimitPct <= 0 || cfg.Usage.SoftLimitPct > 100 {
		return fmt.Errorf("usage.soft_limit_pct must be in (0, 100], got %v", cfg.Usage.SoftLimitPct)
	}
	validIDs := map[string]bool{"uuid": true, "uuidv7": true, "sequential": true}
	if !validIDs[cfg.Usage.IDGenerator] {
		return fmt.Errorf("usage.id_generator must be 'uuid', 'uuidv7' or 'sequential', got %q", cfg.Usage.IDGenerator)
	}

	tiers, err := cfg.TierTable()
	if err != nil {
		return fmt.Errorf("rate_limit.tiers: %w", err)
	}
	if _, err := tiers.Lookup(cfg.RateLimit.DefaultTier); err != nil {
		return fmt.Errorf("rate_limit.default_tier: %w", err)
	}

	features := make(map[string]bool, len(cfg.Features))
	for i, f := range cfg.Features {
		if f.Slug == "" {
			return fmt.Errorf("features[%d].slug is required", i)
		}
		if features[f.Slug] {
			return fmt.Errorf("features[%d]: duplicate slug %q", i, f.Slug)
		}
		features[f.Slug] = true
		if f.DefaultLimit != nil && *f.DefaultLimit < 0 {
			return fmt.Errorf("features[%d].default_limit must not be negative", i)
		}
		if f.ResetPeriod != "" {
			if _, err := window.ParseKind(f.ResetPeriod); err != nil {
				return fmt.Errorf("features[%d].reset_period: %w", i, err)
			}
		}
	}

	plans := make(map[string]bool, len(cfg.Plans))
	for i, p := range cfg.Plans {
		if p.ID == "" {
			return fmt.Errorf("plans[%d].id is required", i)
		}
		if plans[p.ID] {
			return fmt.Errorf("plans[%d]: duplicate id %q", i, p.ID)
		}
		plans[p.ID] = true
		if p.RateLimitTier != "" {
			if _, err := tiers.Lookup(p.RateLimitTier); err != nil {
				return fmt.Errorf("plans[%d].rate_limit_tier: %w", i, err)
			}
		}
		for slug, pf := range p.Features {
			if !features[slug] {
				return fmt.Errorf("plans[%d].features: unknown feature %q", i, slug)
			}
			if pf.Limit != nil && *pf.Limit < 0 {
				return fmt.Errorf("plans[%d].features.%s.limit must not be negative", i, slug)
			}
		}
	}

	for tenant, planID := range cfg.Subscriptions {
		if !plans[planID] {
			return fmt.Errorf("subscriptions.%s: unknown plan %q", tenant, planID)
		}
	}

	if _, err := cron.ParseStandard(cfg.Maintenance.SweepSchedule); err != nil {
		return fmt.Errorf("maintenance.sweep_schedule: %w", err)
	}
	if cfg.Maintenance.RecordRetention < 0 {
		return fmt.Errorf("maintenance.record_retention must not be negative")
	}

	return nil
}

// TierTable converts the configured tiers into a validated tier table.
func (c *Config) TierTable() (ratelimit.Tiers, error) {
	tiers := make(ratelimit.Tiers, len(c.RateLimit.Tiers))
	for _, t := range c.RateLimit.Tiers {
		if _, dup := tiers[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", t.Name)
		}
		tiers[t.Name] = ratelimit.Tier{
			Name:      t.Name,
			PerMinute: t.PerMinute,
			PerHour:   t.PerHour,
			PerDay:    t.PerDay,
		}
	}
	if err := tiers.Validate(); err != nil {
		return nil, err
	}
	return tiers, nil
}

// CatalogPlans returns the configured plans.
func (c *Config) CatalogPlans() []plan.Plan {
	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, plan.Plan{
			ID:                 p.ID,
			Name:               p.Name,
			RateLimitTier:      p.RateLimitTier,
			UnlimitedByDefault: p.UnlimitedByDefault,
		})
	}
	return plans
}

// CatalogFeatures returns the configured features.
// Reset periods were checked by validate, so parse errors are not expected.
func (c *Config) CatalogFeatures() []plan.Feature {
	features := make([]plan.Feature, 0, len(c.Features))
	for _, f := range c.Features {
		kind := window.Month
		if f.ResetPeriod != "" {
			if k, err := window.ParseKind(f.ResetPeriod); err == nil {
				kind = k
			}
		}
		features = append(features, plan.Feature{
			Slug:         f.Slug,
			Name:         f.Name,
			IsActive:     f.Active == nil || *f.Active,
			DefaultLimit: f.DefaultLimit,
			ResetPeriod:  kind,
		})
	}
	return features
}

// CatalogPlanFeatures returns every per-plan feature override.
func (c *Config) CatalogPlanFeatures() []plan.PlanFeature {
	var out []plan.PlanFeature
	for _, p := range c.Plans {
		for slug, pf := range p.Features {
			out = append(out, plan.PlanFeature{
				PlanID:      p.ID,
				FeatureSlug: slug,
				Limit:       pf.Limit,
				IsIncluded:  pf.Included == nil || *pf.Included,
			})
		}
	}
	return out
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
