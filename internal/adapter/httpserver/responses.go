// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the public intake endpoints (similar-user and search fetches),
// task status retrieval and the operational surfaces (health, readiness,
// admin task browser). Handlers translate between HTTP and the usecase
// layer; domain errors map onto a stable JSON error envelope.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusMap orders the sentinel checks; earlier entries win when an error
// chain carries more than one sentinel.
var statusMap = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrAccountSuspended, http.StatusServiceUnavailable, "ACCOUNT_SUSPENDED"},
	{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
	{domain.ErrSchemaInvalid, http.StatusServiceUnavailable, "SCHEMA_INVALID"},
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	for _, m := range statusMap {
		if errors.Is(err, m.sentinel) {
			status, code = m.status, m.code
			break
		}
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}
