// Package httpserver contains HTTP handlers and middleware.
//
// It provides REST API endpoints for the asynchronous job pipeline: submit,
// status, and artifact retrieval. The package follows clean architecture
// principles and keeps a clear separation between HTTP concerns and the
// usecase layer.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// envelope is the response shape required of every Ingress API endpoint:
// status (bool), message (human), code (stable machine token), data (payload or null).
type envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Data    interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Status:  status >= 200 && status < 300,
		Message: message,
		Code:    code,
		Data:    data,
	})
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, "OK", "ok", data)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status = http.StatusServiceUnavailable
		code = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		status = http.StatusServiceUnavailable
		code = "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		status = http.StatusServiceUnavailable
		code = "SCHEMA_INVALID"
	}
	writeJSON(w, status, code, err.Error(), details)
}
