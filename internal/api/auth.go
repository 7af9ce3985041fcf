package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// requireAPIKey enforces the bearer-token gate on management endpoints. It
// writes the error response itself and reports whether the request may
// proceed. With RequireAPIKey disabled every request passes; enabling the
// gate without configuring a key is a deployment error surfaced as a 500.
func (h *Handler) requireAPIKey(w http.ResponseWriter, r *http.Request) bool {
	if !h.requireKey {
		return true
	}
	if h.apiKey == "" {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("API key authentication is enabled but no API key is configured"))
		return false
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("API key required, provide it in the Authorization header as 'Bearer YOUR_API_KEY'"))
		return false
	}
	provided := strings.TrimPrefix(header, bearerPrefix)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) != 1 {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid API key"))
		return false
	}
	return true
}
