package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

// errorNames mirrors the API's error names for errors raised by the BFF itself.
var errorNames = map[int]string{
	http.StatusBadRequest:          "ParameterError",
	http.StatusUnauthorized:        "AuthorizationError",
	http.StatusForbidden:           "ForbiddenError",
	http.StatusNotFound:            "NotFoundError",
	http.StatusServiceUnavailable:  "ServiceUnavailableError",
	http.StatusGatewayTimeout:      "TimeoutError",
	http.StatusInternalServerError: "UnexpectedServerError",
}

func writeError(w http.ResponseWriter, status int, msg string) {
	name, ok := errorNames[status]
	if !ok {
		name = "UnexpectedServerError"
	}
	writeAPIError(w, &domain.APIError{Name: name, StatusCode: status, Message: msg})
}

func writeAPIError(w http.ResponseWriter, apiErr *domain.APIError) {
	body, err := domain.EncodeError(apiErr)
	if err != nil {
		body = []byte(`{"status":"error","error":{"name":"UnexpectedServerError","statusCode":500,"message":"internal server error"}}`)
	}
	status := apiErr.StatusCode
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeOK answers with the API's success envelope.
func writeOK(w http.ResponseWriter, results any) {
	body, err := domain.EncodeOK(results)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not encode results")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// handleServiceError maps domain errors to HTTP responses. Errors from the
// API client keep their status code and body; a pending sign-in redirect
// is announced with X-Redirect-To.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if to, ok := RedirectFromContext(r.Context()); ok {
		w.Header().Set(HeaderRedirectTo, to)
	}

	var apiErr *domain.APIError
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &apiErr):
		if apiErr.IsNetworkError() {
			logger.Error("upstream unreachable", zap.Error(err))
		} else {
			logger.Debug("upstream error",
				zap.String("name", apiErr.Name),
				zap.Int("status", apiErr.StatusCode),
			)
		}
		writeAPIError(w, apiErr)
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
