package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

// Error types used in the JSON error envelope.
const (
	errInvalidRequest   = "invalid_request_error"
	errAuthentication   = "authentication_error"
	errIndexUnavailable = "index_unavailable"
	errIndexStale       = "index_stale"
	errGeneration       = "generation_error"
	errNotFound         = "not_found"
	errAPI              = "api_error"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

// classify maps an error from the service layer to an HTTP status and
// envelope type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery),
		errors.Is(err, curriculum.ErrInvalidRequest),
		errors.Is(err, resource.ErrInvalid):
		return http.StatusBadRequest, errInvalidRequest
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, errIndexUnavailable
	case errors.Is(err, retrieval.ErrStaleIndex):
		return http.StatusServiceUnavailable, errIndexStale
	case errors.Is(err, generation.ErrUnavailable):
		return http.StatusBadGateway, errGeneration
	case errors.Is(err, retrieval.ErrNotFound):
		return http.StatusNotFound, errNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errAPI
	default:
		return http.StatusInternalServerError, errAPI
	}
}

func serviceError(w http.ResponseWriter, op string, err error) {
	code, typ := classify(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "error", err)
	}
	httpError(w, code, typ, "%s: %v", op, err)
}
