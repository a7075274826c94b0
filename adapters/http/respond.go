// Package http exposes rate limiting and feature gating over HTTP:
// embeddable middleware plus a small decision API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/quotagate/app"
	"github.com/artpar/quotagate/domain/ratelimit"
	"github.com/artpar/quotagate/ports"
)

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an ErrorBody response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: code, Message: message})
}

// writeFailure maps a service error to a response. Store failures are 503 so
// callers can tell an outage from a denial.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Usage store is unavailable, request denied")
	case errors.Is(err, ratelimit.ErrUnknownTier):
		writeError(w, http.StatusInternalServerError, "configuration_error", err.Error())
	case errors.Is(err, app.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// setHeaders copies decision headers onto the response.
func setHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

// extractIP extracts the client IP from the request.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
