package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/metrics"
	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/quota"
	"github.com/artpar/quotagate/domain/ratelimit"
)

// IdentifyFunc returns the rate limit identifier of a request.
type IdentifyFunc func(r *http.Request) string

// TierFunc returns the rate limit tier for an identified request.
type TierFunc func(r *http.Request, identifier string) (string, error)

// TenantFunc returns the tenant a request acts for, "" if unknown.
type TenantFunc func(r *http.Request) string

// HeaderTenant reads the tenant ID from a request header.
func HeaderTenant(header string) TenantFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

// TenantOrIP identifies requests by tenant, falling back to the client IP.
func TenantOrIP(tenantOf TenantFunc) IdentifyFunc {
	return func(r *http.Request) string {
		if tenant := tenantOf(r); tenant != "" {
			return "tenant:" + tenant
		}
		return "ip:" + extractIP(r)
	}
}

// StaticTier assigns every request the same tier.
func StaticTier(name string) TierFunc {
	return func(*http.Request, string) (string, error) {
		return name, nil
	}
}

// PlanTier assigns the tier of the tenant's plan, fallback for anonymous
// callers and tenants without a plan.
func PlanTier(resolver *app.PlanResolver, tenantOf TenantFunc, fallback string) TierFunc {
	return func(r *http.Request, _ string) (string, error) {
		tenant := tenantOf(r)
		if tenant == "" {
			return fallback, nil
		}
		return resolver.RateLimitTier(r.Context(), tenant, fallback)
	}
}

// RateLimitResponse is the 429 body of a throttled request.
type RateLimitResponse struct {
	Error         string                 `json:"error"`
	Message       string                 `json:"message"`
	Tier          string                 `json:"tier"`
	ExceededLimit string                 `json:"exceeded_limit"`
	RetryAfter    int                    `json:"retry_after"`
	Limits        map[string]WindowState `json:"limits"`
}

// WindowState is one window of a rate limit decision.
type WindowState struct {
	Limit     int64     `json:"limit"`
	Current   int64     `json:"current"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func windowStates(d ratelimit.Decision) map[string]WindowState {
	out := make(map[string]WindowState, len(d.Limits))
	for k, s := range d.Limits {
		out[string(k)] = WindowState{
			Limit:     s.Limit,
			Current:   s.Current,
			Remaining: s.Remaining,
			ResetAt:   s.ResetAt,
		}
	}
	return out
}

// RateLimitMiddleware throttles requests per identifier and tier.
// Every response carries the X-RateLimit-* headers of the decision.
func RateLimitMiddleware(limiter *app.RateLimiter, identify IdentifyFunc, tierOf TierFunc, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identify(r)
			tier, err := tierOf(r, id)
			if err != nil {
				logger.Error().Err(err).Str("identifier", id).Msg("resolve rate limit tier")
				writeFailure(w, err)
				return
			}

			d, err := limiter.Check(r.Context(), id, tier)
			if err != nil {
				logger.Error().Err(err).Str("identifier", id).Str("tier", tier).Msg("rate limit check failed")
				writeFailure(w, err)
				return
			}

			setHeaders(w, d.Headers())
			if !d.Allowed {
				writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
					Error:         ratelimit.ReasonRateLimitExceeded,
					Message:       fmt.Sprintf("Rate limit exceeded for the %s window, retry in %d seconds", d.ExceededWindow, d.RetryAfter),
					Tier:          d.Tier,
					ExceededLimit: string(d.ExceededWindow),
					RetryAfter:    d.RetryAfter,
					Limits:        windowStates(d),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FeatureDeniedResponse is the 403/429 body of a gated request.
type FeatureDeniedResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	Feature         string `json:"feature"`
	CurrentUsage    int64  `json:"current_usage"`
	LimitValue      int64  `json:"limit_value"`
	UpgradeRequired bool   `json:"upgrade_required"`
}

// featureRequest names what a gated request consumes.
type featureRequest func(r *http.Request) (feature string, amount int64, err error)

// FeatureGateMiddleware admits a request only if the tenant's plan allows
// amount more units of feature, and tracks them on success.
func FeatureGateMiddleware(gate *app.FeatureGate, feature string, amount int64, tenantOf TenantFunc, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return gateRequests(gate, func(*http.Request) (string, int64, error) {
		return feature, amount, nil
	}, tenantOf, logger)
}

func gateRequests(gate *app.FeatureGate, requested featureRequest, tenantOf TenantFunc, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feature, amount, err := requested(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			if feature == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenant := tenantOf(r)
			if tenant == "" {
				writeError(w, http.StatusBadRequest, "missing_tenant", "Tenant identifier is required")
				return
			}

			d, err := gate.CheckAndTrack(r.Context(), tenant, feature, amount)
			if err != nil {
				logger.Error().Err(err).Str("tenant_id", tenant).Str("feature", feature).Msg("feature check failed")
				writeFailure(w, err)
				return
			}

			if !d.Allowed {
				writeFeatureDenied(w, d)
				return
			}

			setHeaders(w, d.Headers())
			next.ServeHTTP(w, r)
		})
	}
}

func writeFeatureDenied(w http.ResponseWriter, d quota.Decision) {
	status := http.StatusForbidden
	if d.Reason.Retryable() {
		status = http.StatusTooManyRequests
		if !d.ResetAt.IsZero() {
			w.Header().Set("X-Usage-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
	}

	message := "Your plan does not include this feature"
	switch d.Reason {
	case quota.ReasonNoSubscription:
		message = "An active subscription is required"
	case quota.ReasonLimitExceeded:
		message = fmt.Sprintf("Usage limit of %d reached for %s", d.Limit, d.Feature)
	}

	writeJSON(w, status, FeatureDeniedResponse{
		Error:           string(d.Reason),
		Message:         message,
		Feature:         d.Feature,
		CurrentUsage:    d.CurrentUsage,
		LimitValue:      d.Limit,
		UpgradeRequired: true,
	})
}

// queryFeature reads feature and amount from the query string.
// amount defaults to 1.
func queryFeature(r *http.Request) (string, int64, error) {
	q := r.URL.Query()
	amount := int64(1)
	if v := q.Get("amount"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", 0, errors.New("amount must be an integer")
		}
		amount = n
	}
	return q.Get("feature"), amount, nil
}

// NewLoggingMiddleware logs HTTP requests.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// NewMetricsMiddleware records request counts, latency and in-flight requests.
// Routes are labelled by their chi pattern to bound cardinality.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r.Context())
			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
