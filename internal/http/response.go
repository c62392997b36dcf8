package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"spendsync/internal/core"
	"spendsync/internal/log"
	"spendsync/internal/reports"
)

type errorBody struct {
	Error string   `json:"error"`
	Rules []string `json:"rules,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Response encoding failed", "error", err)
	}
}

// statusFor maps an engine or service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrRemoteFailure), errors.Is(err, core.ErrOfflineReplay):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, reports.ErrExportDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err at a level matching its status and writes it as JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: core.Message(err)}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Rules = verr.Rules
	}

	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "error", err, log.FieldStatusCode, status)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", "error", err, log.FieldStatusCode, status)
	}
	writeJSON(w, r, status, body)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msg})
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusTooManyRequests, errorBody{Error: "Rate limit exceeded. Please try again later."})
}
