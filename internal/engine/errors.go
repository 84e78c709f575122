package engine

import (
	"errors"
	"net/http"

	"github.com/kalambet/ethika/internal/ollama"
	"google.golang.org/genai"
)

// IsRateLimited reports whether err is a backend quota or rate-limit rejection.
func IsRateLimited(err error) bool {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}
