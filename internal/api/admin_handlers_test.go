package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

func TestAdminSubscriptionsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	h.twitch.addSubscription(models.EventTypeStreamOnline, "100", testCallback, "enabled")
	h.twitch.addSubscription(models.EventTypeStreamOffline, "100", testCallback, "enabled")
	h.twitch.addSubscription(models.EventTypeStreamOnline, "999", "https://elsewhere.example.com/hook", "enabled")

	req := httptest.NewRequest(http.MethodGet, "/admin/subscriptions", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminSubscriptions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Subscriptions      []subscriptionSummary `json:"subscriptions"`
		OtherSubscriptions []subscriptionSummary `json:"other_subscriptions"`
		TotalSubscriptions int                   `json:"total_subscriptions"`
		OurCount           int                   `json:"our_subscriptions_count"`
		OtherCount         int                   `json:"other_subscriptions_count"`
		WebhookURL         string                `json:"webhook_url"`
		Costs              twitch.Costs          `json:"costs"`
	}
	decodeResponse(t, rec, &payload)
	if payload.OurCount != 2 || payload.OtherCount != 1 || payload.TotalSubscriptions != 3 {
		t.Fatalf("unexpected split %+v", payload)
	}
	if payload.WebhookURL != testCallback {
		t.Fatalf("expected webhook url %q, got %q", testCallback, payload.WebhookURL)
	}
	if payload.Costs.Total != 3 {
		t.Fatalf("unexpected costs %+v", payload.Costs)
	}
}

func TestAdminCleanupSubscriptionsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	streamer := h.seedStreamer(t, "100", "alpha")
	// Rewrite the handles so they point at real fake-side subscriptions.
	kept := h.twitch.addSubscription(models.EventTypeStreamOnline, "100", testCallback, "enabled")
	streamer.OnlineSubscriptionID = kept.ID
	streamer.OfflineSubscriptionID = ""
	if err := h.store.StoreStreamer(context.Background(), streamer); err != nil {
		t.Fatalf("store streamer: %v", err)
	}
	h.twitch.addSubscription(models.EventTypeStreamOnline, "555", testCallback, "enabled")
	foreign := h.twitch.addSubscription(models.EventTypeStreamOnline, "999", "https://elsewhere.example.com/hook", "enabled")

	req := httptest.NewRequest(http.MethodPost, "/admin/cleanup-subscriptions", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminCleanupSubscriptions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Message      string `json:"message"`
		CleanupCount int    `json:"cleanup_count"`
	}
	decodeResponse(t, rec, &payload)
	if payload.CleanupCount != 1 {
		t.Fatalf("expected 1 cleaned subscription, got %+v", payload)
	}

	if _, ok := h.twitch.subs[kept.ID]; !ok {
		t.Fatal("expected the tracked subscription kept")
	}
	if _, ok := h.twitch.subs[foreign.ID]; !ok {
		t.Fatal("expected the foreign subscription kept")
	}
	if len(h.twitch.subs) != 2 {
		t.Fatalf("expected 2 remaining subscriptions, got %d", len(h.twitch.subs))
	}
}

func TestAdminVerifySubscriptionsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	streamer := h.seedStreamer(t, "100", "alpha")
	healthy := h.twitch.addSubscription(models.EventTypeStreamOnline, "100", testCallback, "enabled")
	streamer.OnlineSubscriptionID = healthy.ID
	streamer.OfflineSubscriptionID = "sub-gone"
	if err := h.store.StoreStreamer(context.Background(), streamer); err != nil {
		t.Fatalf("store streamer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/verify-subscriptions", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminVerifySubscriptions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Message    string `json:"message"`
		Status     string `json:"status"`
		FixedCount int    `json:"fixed_count"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Status != "success" || payload.FixedCount != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	repaired, err := h.store.GetStreamer(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("get streamer: %v", err)
	}
	if repaired.OfflineSubscriptionID == "" || repaired.OfflineSubscriptionID == "sub-gone" {
		t.Fatalf("expected a recreated offline handle, got %+v", repaired)
	}
}

func TestAdminReloadDefaultStreamersEndpoint(t *testing.T) {
	h := newTestHarness(t, func(p *harnessParams) {
		p.defaults = []string{"alpha", "ghost"}
	})
	h.twitch.users["alpha"] = &twitch.User{ID: "100", Login: "alpha", DisplayName: "Alpha"}

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-default-streamers", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminReloadDefaultStreamers(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Message         string   `json:"message"`
		AddedCount      int      `json:"added_count"`
		TotalConfigured int      `json:"total_configured"`
		FailedStreamers []string `json:"failed_streamers"`
	}
	decodeResponse(t, rec, &payload)
	if payload.AddedCount != 1 || payload.TotalConfigured != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.FailedStreamers) != 1 || payload.FailedStreamers[0] != "ghost" {
		t.Fatalf("expected ghost to fail, got %v", payload.FailedStreamers)
	}
}

func TestAdminReloadDefaultStreamersWithoutConfig(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-default-streamers", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminReloadDefaultStreamers(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Message    string `json:"message"`
		AddedCount int    `json:"added_count"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Message != "No default streamers configured" || payload.AddedCount != 0 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAdminDeleteAllSubscriptionsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	h.twitch.addSubscription(models.EventTypeStreamOnline, "100", testCallback, "enabled")
	h.twitch.addSubscription(models.EventTypeStreamOnline, "999", "https://elsewhere.example.com/hook", "enabled")

	req := httptest.NewRequest(http.MethodPost, "/admin/delete-all-subscriptions", nil)
	rec := httptest.NewRecorder()
	h.handler.AdminDeleteAllSubscriptions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		Message      string `json:"message"`
		DeletedCount int    `json:"deleted_count"`
		Warning      string `json:"warning"`
	}
	decodeResponse(t, rec, &payload)
	if payload.DeletedCount != 2 || payload.Warning == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(h.twitch.subs) != 0 {
		t.Fatalf("expected every subscription deleted, got %d", len(h.twitch.subs))
	}
}
