package ratelimit

import (
	"strconv"
	"time"

	"github.com/artpar/quotagate/domain/window"
)

// ReasonRateLimitExceeded is the denial code for request-volume throttling.
const ReasonRateLimitExceeded = "rate_limit_exceeded"

// WindowStatus is the per-window state reported with a decision (value type).
type WindowStatus struct {
	Limit     int64
	Current   int64
	Remaining int64
	ResetAt   time.Time
}

// Decision is the outcome of a multi-window rate limit check (value type).
type Decision struct {
	Allowed        bool
	Identifier     string
	Tier           string
	Limits         map[window.Kind]WindowStatus
	ExceededWindow window.Kind // Empty when allowed
	RetryAfter     int         // Seconds; 0 when allowed
}

// Passes reports whether a request may consume one more unit of a window
// already holding current requests.
// This is a PURE function.
func Passes(current, limit int64) bool {
	return current < limit
}

// Status builds the reported state of one window.
// This is a PURE function.
func Status(current, limit int64, resetAt time.Time) WindowStatus {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return WindowStatus{
		Limit:     limit,
		Current:   current,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Primary returns the status of the most granular window present.
func (d Decision) Primary() (window.Kind, WindowStatus, bool) {
	for _, k := range window.RateLimitKinds {
		if s, ok := d.Limits[k]; ok {
			return k, s, true
		}
	}
	return "", WindowStatus{}, false
}

// Headers returns the response headers for a decision.
// X-RateLimit-{Limit,Remaining,Reset} describe the most granular window;
// per-window variants are emitted for every evaluated window.
// This is a PURE function.
func (d Decision) Headers() map[string]string {
	h := make(map[string]string, 4+3*len(d.Limits))
	h["X-RateLimit-Tier"] = d.Tier

	if _, s, ok := d.Primary(); ok {
		h["X-RateLimit-Limit"] = strconv.FormatInt(s.Limit, 10)
		h["X-RateLimit-Remaining"] = strconv.FormatInt(s.Remaining, 10)
		h["X-RateLimit-Reset"] = strconv.FormatInt(s.ResetAt.Unix(), 10)
	}

	for _, k := range window.RateLimitKinds {
		s, ok := d.Limits[k]
		if !ok {
			continue
		}
		prefix := "X-RateLimit-" + k.Title() + "-"
		h[prefix+"Limit"] = strconv.FormatInt(s.Limit, 10)
		h[prefix+"Remaining"] = strconv.FormatInt(s.Remaining, 10)
		h[prefix+"Reset"] = strconv.FormatInt(s.ResetAt.Unix(), 10)
	}

	if !d.Allowed {
		h["Retry-After"] = strconv.Itoa(d.RetryAfter)
	}
	return h
}
