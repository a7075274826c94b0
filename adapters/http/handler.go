package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/quota"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/domain/usage"
)

// Handler serves the decision API.
type Handler struct {
	limiter     *app.RateLimiter
	gate        *app.FeatureGate
	tracker     *app.UsageTracker
	resolver    *app.PlanResolver
	defaultTier string
	logger      zerolog.Logger
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Limiter     *app.RateLimiter
	Gate        *app.FeatureGate
	Tracker     *app.UsageTracker
	Resolver    *app.PlanResolver
	DefaultTier string // Tier used when a request names none and the tenant has no plan
	Logger      zerolog.Logger
}

// NewHandler creates the decision API handler.
func NewHandler(deps HandlerDeps) *Handler {
	tier := deps.DefaultTier
	if tier == "" {
		tier = ratelimit.TierFree
	}
	return &Handler{
		limiter:     deps.Limiter,
		gate:        deps.Gate,
		tracker:     deps.Tracker,
		resolver:    deps.Resolver,
		defaultTier: tier,
		logger:      deps.Logger,
	}
}

// RateLimitCheckRequest is the body of POST /v1/ratelimit/check.
type RateLimitCheckRequest struct {
	Identifier string `json:"identifier"`
	Tier       string `json:"tier,omitempty"`      // Explicit tier; wins over tenant_id
	TenantID   string `json:"tenant_id,omitempty"` // Use the tier of this tenant's plan
}

// RateLimitDecisionResponse describes a rate limit decision.
type RateLimitDecisionResponse struct {
	Allowed       bool                   `json:"allowed"`
	Identifier    string                 `json:"identifier"`
	Tier          string                 `json:"tier"`
	ExceededLimit string                 `json:"exceeded_limit,omitempty"`
	RetryAfter    int                    `json:"retry_after,omitempty"`
	Limits        map[string]WindowState `json:"limits"`
}

func rateLimitResponse(d ratelimit.Decision) RateLimitDecisionResponse {
	return RateLimitDecisionResponse{
		Allowed:       d.Allowed,
		Identifier:    d.Identifier,
		Tier:          d.Tier,
		ExceededLimit: string(d.ExceededWindow),
		RetryAfter:    d.RetryAfter,
		Limits:        windowStates(d),
	}
}

func (h *Handler) tierFor(ctx context.Context, explicit, tenantID string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if tenantID != "" && h.resolver != nil {
		return h.resolver.RateLimitTier(ctx, tenantID, h.defaultTier)
	}
	return h.defaultTier, nil
}

// RateLimitCheck consumes one request for an identifier.
// Denials are reported in the body with status 200 and the usual headers.
func (h *Handler) RateLimitCheck(w http.ResponseWriter, r *http.Request) {
	var req RateLimitCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}

	tier, err := h.tierFor(r.Context(), req.Tier, req.TenantID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	d, err := h.limiter.Check(r.Context(), req.Identifier, tier)
	if err != nil {
		h.logger.Error().Err(err).Str("identifier", req.Identifier).Msg("rate limit check failed")
		writeFailure(w, err)
		return
	}

	setHeaders(w, d.Headers())
	writeJSON(w, http.StatusOK, rateLimitResponse(d))
}

// RateLimitStatus reports window state without consuming a request.
func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("identifier")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}

	tier, err := h.tierFor(r.Context(), q.Get("tier"), q.Get("tenant_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	d, err := h.limiter.Status(r.Context(), id, tier)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitResponse(d))
}

// FeatureCheckRequest is the body of POST /v1/features/check.
type FeatureCheckRequest struct {
	TenantID string `json:"tenant_id"`
	Feature  string `json:"feature"`
	Amount   *int64 `json:"amount,omitempty"` // default 1
	DryRun   bool   `json:"dry_run"`
}

// FeatureDecisionResponse describes a feature gate decision.
type FeatureDecisionResponse struct {
	Allowed         bool       `json:"allowed"`
	Reason          string     `json:"reason,omitempty"`
	Feature         string     `json:"feature"`
	PlanID          string     `json:"plan_id,omitempty"`
	CurrentUsage    int64      `json:"current_usage"`
	NewUsage        int64      `json:"new_usage"`
	Limit           int64      `json:"limit"` // -1 = unlimited
	PercentUsed     float64    `json:"percent_used"`
	Warning         bool       `json:"warning"`
	WarningLevel    string     `json:"warning_level"`
	ResetAt         *time.Time `json:"reset_at,omitempty"`
	UpgradeRequired bool       `json:"upgrade_required"`
	DryRun          bool       `json:"dry_run"`
}

func featureResponse(d quota.Decision, dryRun bool) FeatureDecisionResponse {
	resp := FeatureDecisionResponse{
		Allowed:         d.Allowed,
		Reason:          string(d.Reason),
		Feature:         d.Feature,
		PlanID:          d.PlanID,
		CurrentUsage:    d.CurrentUsage,
		NewUsage:        d.NewUsage,
		Limit:           d.Limit,
		PercentUsed:     d.PercentUsed,
		Warning:         d.Warning,
		WarningLevel:    d.WarningLevel.String(),
		UpgradeRequired: !d.Allowed,
		DryRun:          dryRun,
	}
	if !d.ResetAt.IsZero() {
		at := d.ResetAt
		resp.ResetAt = &at
	}
	return resp
}

// FeatureCheck evaluates, and unless dry_run is set tracks, feature usage.
func (h *Handler) FeatureCheck(w http.ResponseWriter, r *http.Request) {
	var req FeatureCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}
	if req.TenantID == "" || req.Feature == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant_id and feature are required")
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	var (
		d   quota.Decision
		err error
	)
	if req.DryRun {
		d, err = h.gate.Check(r.Context(), req.TenantID, req.Feature, amount)
	} else {
		d, err = h.gate.CheckAndTrack(r.Context(), req.TenantID, req.Feature, amount)
	}
	if err != nil {
		h.logger.Error().Err(err).
			Str("tenant_id", req.TenantID).
			Str("feature", req.Feature).
			Msg("feature check failed")
		writeFailure(w, err)
		return
	}

	setHeaders(w, d.Headers())
	writeJSON(w, http.StatusOK, featureResponse(d, req.DryRun))
}

// UsageResponse is a tenant's standing for one feature.
type UsageResponse struct {
	TenantID    string     `json:"tenant_id"`
	Feature     string     `json:"feature"`
	PlanID      string     `json:"plan_id,omitempty"`
	Status      string     `json:"status"`
	Period      string     `json:"period"`
	Current     int64      `json:"current"`
	Limit       int64      `json:"limit"`
	Remaining   int64      `json:"remaining"`
	PercentUsed float64    `json:"percent_used"`
	Warning     string     `json:"warning"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
}

// Usage reports current consumption of a feature.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	feature := chi.URLParam(r, "feature")

	s, err := h.gate.Usage(r.Context(), tenant, feature)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := UsageResponse{
		TenantID:    s.TenantID,
		Feature:     s.Feature,
		PlanID:      s.PlanID,
		Status:      string(s.Status),
		Period:      string(s.Period),
		Current:     s.Current,
		Limit:       s.Limit,
		Remaining:   s.Remaining,
		PercentUsed: s.PercentUsed,
		Warning:     s.Warning.String(),
	}
	if !s.ResetAt.IsZero() {
		at := s.ResetAt
		resp.ResetAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordResponse is one entry of the usage log.
type RecordResponse struct {
	ID         string    `json:"id"`
	Feature    string    `json:"feature"`
	Period     string    `json:"period"`
	PeriodDate string    `json:"period_date"`
	Amount     int64     `json:"amount"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Records lists a tenant's most recent usage records.
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.tracker.Records(r.Context(), tenant, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "records": out})
}

func recordResponse(r usage.Record) RecordResponse {
	return RecordResponse{
		ID:         r.ID,
		Feature:    r.FeatureSlug,
		Period:     string(r.PeriodKind),
		PeriodDate: r.PeriodDate,
		Amount:     r.Amount,
		RecordedAt: r.RecordedAt,
	}
}

// Authorize answers forward-auth subrequests from a reverse proxy.
// It runs behind the rate limit and feature gate middleware, so reaching it
// means the request is admitted.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store HealthChecker
}

// HealthChecker interface for checking backing store health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the counter store answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
