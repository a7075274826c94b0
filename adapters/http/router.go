package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/metrics"
)

// Version is the build version reported by /version.
var Version = "dev"

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler // Defaults to promhttp.Handler() when Metrics is set
	MetricsPath    string       // Default: /metrics

	// Forward-auth endpoint guards. Nil disables the corresponding check.
	AuthorizeLimiter *RateLimitGuard
	AuthorizeTenant  TenantFunc
}

// RateLimitGuard configures RateLimitMiddleware for a route group.
type RateLimitGuard struct {
	Identify IdentifyFunc
	Tier     TierFunc
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if cfg.MetricsHandler != nil {
		r.Handle(metricsPath, cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle(metricsPath, promhttp.Handler())
	}

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version, "service": "quotagate"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ratelimit/check", h.RateLimitCheck)
		r.Get("/ratelimit/status", h.RateLimitStatus)
		r.Post("/features/check", h.FeatureCheck)
		r.Get("/tenants/{tenant}/usage/{feature}", h.Usage)
		r.Get("/tenants/{tenant}/records", h.Records)

		// Forward-auth for reverse proxies: the caller's own request is
		// throttled and, when ?feature= is given, gated.
		r.Group(func(r chi.Router) {
			tenantOf := cfg.AuthorizeTenant
			if tenantOf == nil {
				tenantOf = HeaderTenant("X-Tenant-ID")
			}
			if g := cfg.AuthorizeLimiter; g != nil {
				r.Use(RateLimitMiddleware(h.limiter, g.Identify, g.Tier, logger))
			}
			r.Use(gateRequests(h.gate, queryFeature, tenantOf, logger))
			r.Get("/authorize", h.Authorize)
		})
	})

	return r
}
