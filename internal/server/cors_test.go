package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowsWildcardOrigin(t *testing.T) {
	t.Parallel()

	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"*"}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials header")
	}
}

func TestCORSBlocksUnlistedOrigin(t *testing.T) {
	t.Parallel()

	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://dashboard.example.com"}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestCORSAllowsSameOriginRequest(t *testing.T) {
	t.Parallel()

	policy, err := newCORSPolicy(CORSConfig{})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/events", nil)
	req.Header.Set("Origin", "http://api.example.com")
	req.Host = "api.example.com"
	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for same-origin request, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"*"}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/streamers/twitchdev", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("expected allow-methods header on preflight")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Authorization" {
		t.Fatalf("expected requested headers to be allowed, got %q", got)
	}
}

func TestCORSIgnoresRequestsWithoutOrigin(t *testing.T) {
	t.Parallel()

	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://dashboard.example.com"}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers without an Origin header")
	}
}

func TestNewCORSPolicyRejectsMalformedOrigin(t *testing.T) {
	t.Parallel()

	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"dashboard.example.com"}}); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}
