package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/streamers"
	"github.com/mja00/twitch-eventsub-rest/internal/subscriptions"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

const (
	testSecret   = "test-webhook-secret"
	testCallback = "https://events.example.com/webhooks/eventsub"
)

// fakeTwitch satisfies both the streamer manager's Helix surface and the
// subscription manager's EventSub surface.
type fakeTwitch struct {
	mu      sync.Mutex
	users   map[string]*twitch.User
	streams map[string]*models.StreamInfo
	subs    map[string]eventsub.Subscription
	nextID  int
}

func newFakeTwitch() *fakeTwitch {
	return &fakeTwitch{
		users:   make(map[string]*twitch.User),
		streams: make(map[string]*models.StreamInfo),
		subs:    make(map[string]eventsub.Subscription),
	}
}

func (f *fakeTwitch) UserByLogin(ctx context.Context, login string) (*twitch.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[login], nil
}

func (f *fakeTwitch) StreamInfo(ctx context.Context, userID string) (*models.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[userID], nil
}

func (f *fakeTwitch) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID string) (*eventsub.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := eventsub.Subscription{
		ID:        fmt.Sprintf("sub-%d", f.nextID),
		Type:      subType,
		Status:    "enabled",
		Condition: eventsub.Condition{BroadcasterUserID: broadcasterID},
		Transport: eventsub.Transport{Method: "webhook", Callback: testCallback},
	}
	f.subs[sub.ID] = sub
	return &sub, nil
}

func (f *fakeTwitch) DeleteEventSubSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

func (f *fakeTwitch) ListEventSubSubscriptions(ctx context.Context) ([]eventsub.Subscription, twitch.Costs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]eventsub.Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	costs := twitch.Costs{Total: len(subs), TotalCost: len(subs), MaxTotalCost: 10000}
	return subs, costs, nil
}

func (f *fakeTwitch) addSubscription(subType, broadcasterID, callback, status string) eventsub.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := eventsub.Subscription{
		ID:        fmt.Sprintf("sub-%d", f.nextID),
		Type:      subType,
		Status:    status,
		Condition: eventsub.Condition{BroadcasterUserID: broadcasterID},
		Transport: eventsub.Transport{Method: "webhook", Callback: callback},
	}
	f.subs[sub.ID] = sub
	return sub
}

type harnessParams struct {
	defaults   []string
	requireKey bool
	apiKey     string
}

type testHarness struct {
	handler        *Handler
	store          storage.Store
	analyticsStore *analytics.MemoryStore
	analytics      *analytics.Service
	twitch         *fakeTwitch
	subs           *subscriptions.Manager
	streamers      *streamers.Manager
}

func newTestHarness(t *testing.T, configure ...func(*harnessParams)) *testHarness {
	t.Helper()
	params := harnessParams{}
	for _, fn := range configure {
		fn(&params)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.New()
	store := storage.NewMemoryStore()
	analyticsStore := analytics.NewMemoryStore()
	service := analytics.New(analyticsStore, logger)
	ft := newFakeTwitch()

	subsManager, err := subscriptions.NewManager(subscriptions.Config{
		API:         ft,
		Store:       store,
		CallbackURL: testCallback,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		t.Fatalf("new subscription manager: %v", err)
	}

	streamerManager, err := streamers.NewManager(streamers.Config{
		Store:            store,
		Analytics:        service,
		Twitch:           ft,
		Subscriptions:    subsManager,
		DefaultStreamers: params.defaults,
		Logger:           logger,
		Metrics:          recorder,
	})
	if err != nil {
		t.Fatalf("new streamer manager: %v", err)
	}

	handler, err := NewHandler(Config{
		Streamers:     streamerManager,
		Analytics:     service,
		Subscriptions: subsManager,
		Store:         store,
		WebhookSecret: testSecret,
		WebhookURL:    testCallback,
		RequireAPIKey: params.requireKey,
		APIKey:        params.apiKey,
		Logger:        logger,
		Metrics:       recorder,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	return &testHarness{
		handler:        handler,
		store:          store,
		analyticsStore: analyticsStore,
		analytics:      service,
		twitch:         ft,
		subs:           subsManager,
		streamers:      streamerManager,
	}
}

func (h *testHarness) seedStreamer(t *testing.T, userID, username string) models.Streamer {
	t.Helper()
	streamer := models.Streamer{
		UserID:                userID,
		Username:              username,
		DisplayName:           username,
		OnlineSubscriptionID:  "sub-online-" + userID,
		OfflineSubscriptionID: "sub-offline-" + userID,
		IsActive:              true,
	}
	if err := h.store.StoreStreamer(context.Background(), streamer); err != nil {
		t.Fatalf("seed streamer: %v", err)
	}
	return streamer
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestRootEndpoint(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.handler.Root(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload map[string]string
	decodeResponse(t, rec, &payload)
	if payload["message"] != "Twitch EventSub REST API" {
		t.Fatalf("unexpected root payload %v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec = httptest.NewRecorder()
	h.handler.Root(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown path, got %d", rec.Code)
	}
}

type failingStore struct {
	storage.Store
}

func (f failingStore) Ping(ctx context.Context) error {
	return errors.New("dial tcp: connection refused")
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.handler.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Status   string            `json:"status"`
		Services []componentStatus `json:"services"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Status != "ok" || len(payload.Services) != 2 {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	h := newTestHarness(t)
	h.handler.store = failingStore{Store: h.store}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.handler.Health(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	var payload struct {
		Status   string            `json:"status"`
		Services []componentStatus `json:"services"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", payload.Status)
	}
	if payload.Services[0].Component != "event_store" || payload.Services[0].Status != "degraded" {
		t.Fatalf("expected degraded event_store, got %+v", payload.Services[0])
	}
	if payload.Services[1].Status != "ok" {
		t.Fatalf("expected healthy analytics store, got %+v", payload.Services[1])
	}
}

func TestAPIKeyGate(t *testing.T) {
	cases := []struct {
		name       string
		requireKey bool
		apiKey     string
		header     string
		wantStatus int
	}{
		{name: "disabled gate admits all", wantStatus: http.StatusOK},
		{name: "enabled without configured key", requireKey: true, wantStatus: http.StatusInternalServerError},
		{name: "missing header", requireKey: true, apiKey: "k1", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", requireKey: true, apiKey: "k1", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "correct key", requireKey: true, apiKey: "k1", header: "Bearer k1", wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHarness(t, func(p *harnessParams) {
				p.requireKey = tc.requireKey
				p.apiKey = tc.apiKey
			})
			req := httptest.NewRequest(http.MethodGet, "/streamers", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.handler.Streamers(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestQueryLimitClamping(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{name: "absent uses default", query: "", want: 50},
		{name: "in range", query: "limit=120", want: 120},
		{name: "below minimum clamps", query: "limit=0", want: 1},
		{name: "above maximum clamps", query: "limit=9000", want: 500},
		{name: "non-numeric rejected", query: "limit=abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events?"+tc.query, nil)
			got, err := queryLimit(req, "limit", 50, 1, 500)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("queryLimit: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
