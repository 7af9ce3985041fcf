package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/api"
	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/streamers"
	"github.com/mja00/twitch-eventsub-rest/internal/subscriptions"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

const testCallback = "https://events.example.com/webhooks/eventsub"

// fakeTwitch is a no-op Helix client covering both manager interfaces.
type fakeTwitch struct{}

func (fakeTwitch) UserByLogin(ctx context.Context, login string) (*twitch.User, error) {
	return nil, nil
}

func (fakeTwitch) StreamInfo(ctx context.Context, userID string) (*models.StreamInfo, error) {
	return nil, nil
}

func (fakeTwitch) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID string) (*eventsub.Subscription, error) {
	return &eventsub.Subscription{ID: "sub-1", Type: subType, Status: "enabled"}, nil
}

func (fakeTwitch) DeleteEventSubSubscription(ctx context.Context, id string) error {
	return nil
}

func (fakeTwitch) ListEventSubSubscriptions(ctx context.Context) ([]eventsub.Subscription, twitch.Costs, error) {
	return nil, twitch.Costs{}, nil
}

func newTestHandler(t *testing.T) *api.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.New()
	store := storage.NewMemoryStore()
	service := analytics.New(analytics.NewMemoryStore(), logger)

	subsManager, err := subscriptions.NewManager(subscriptions.Config{
		API:         fakeTwitch{},
		Store:       store,
		CallbackURL: testCallback,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		t.Fatalf("new subscription manager: %v", err)
	}

	streamerManager, err := streamers.NewManager(streamers.Config{
		Store:         store,
		Analytics:     service,
		Twitch:        fakeTwitch{},
		Subscriptions: subsManager,
		Logger:        logger,
		Metrics:       recorder,
	})
	if err != nil {
		t.Fatalf("new streamer manager: %v", err)
	}

	handler, err := api.NewHandler(api.Config{
		Streamers:     streamerManager,
		Analytics:     service,
		Subscriptions: subsManager,
		Store:         store,
		WebhookSecret: "test-webhook-secret",
		WebhookURL:    testCallback,
		Logger:        logger,
		Metrics:       recorder,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(newTestHandler(t), cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv
}

func serveRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestServerRoutesRequests(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for root, got %d", rec.Code)
	}
	var root map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &root); err != nil {
		t.Fatalf("decode root response: %v", err)
	}
	if root["message"] != "Twitch EventSub REST API" {
		t.Fatalf("unexpected root payload %v", root)
	}

	rec = serveRequest(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for health, got %d", rec.Code)
	}

	rec = serveRequest(srv, httptest.NewRequest(http.MethodGet, "/streamers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for streamers, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv := newTestServer(t, Config{})

	serveRequest(srv, httptest.NewRequest(http.MethodGet, "/streamers", nil))

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "eventsub_http_requests_total") {
		t.Fatalf("expected request counter in metrics output, got:\n%s", body)
	}
	if !strings.Contains(body, `path="/streamers"`) {
		t.Fatalf("expected /streamers label in metrics output, got:\n%s", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-supplied-42")
	rec = serveRequest(srv, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-supplied-42" {
		t.Fatalf("expected supplied request ID to be echoed, got %q", got)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	cases := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	}
	for _, tc := range cases {
		if got := rec.Header().Get(tc.header); got != tc.want {
			t.Fatalf("expected %s header %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 once the bucket drained, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode rate limit response: %v", err)
	}
	if payload["error"] != "global rate limit exceeded" {
		t.Fatalf("unexpected rate limit payload %v", payload)
	}
}

func TestWebhookRateLimitPerIP(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Hour},
	})

	post := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/eventsub", strings.NewReader("{}"))
		req.RemoteAddr = remoteAddr
		return serveRequest(srv, req)
	}

	// Unsigned deliveries fail verification with 403, which still proves the
	// limiter let them through to the handler.
	if rec := post("198.51.100.7:4040"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected first delivery to reach the handler, got %d", rec.Code)
	}

	rec := post("198.51.100.7:4041")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second delivery from same IP, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled delivery")
	}

	if rec := post("203.0.113.9:4040"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected delivery from other IP to reach the handler, got %d", rec.Code)
	}
}

func TestWebhookRateLimitSkipsOtherRoutes(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Hour},
	})

	for i := 0; i < 3; i++ {
		rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/streamers", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200 on attempt %d, got %d", i+1, rec.Code)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "cloudflare header wins",
			remoteAddr: "10.0.0.1:1234",
			headers: map[string]string{
				"CF-Connecting-IP": "198.51.100.7",
				"X-Forwarded-For":  "203.0.113.5",
				"X-Real-IP":        "192.0.2.10",
			},
			want: "198.51.100.7",
		},
		{
			name:       "first forwarded entry",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			want:       "203.0.113.5",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "192.0.2.10"},
			want:       "192.0.2.10",
		},
		{
			name:       "remote addr host",
			remoteAddr: "10.0.0.1:1234",
			want:       "10.0.0.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			if got := extractClientIP(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:         metrics.New(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}
