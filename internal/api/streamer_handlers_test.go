package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

func TestStreamerLifecycleEndpoints(t *testing.T) {
	h := newTestHarness(t)
	h.twitch.users["twitchdev"] = &twitch.User{ID: "141981764", Login: "twitchdev", DisplayName: "TwitchDev"}

	req := httptest.NewRequest(http.MethodPost, "/streamers/twitchdev", nil)
	rec := httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var added map[string]string
	decodeResponse(t, rec, &added)
	if added["message"] != "Added streamer: twitchdev" {
		t.Fatalf("unexpected add payload %v", added)
	}

	req = httptest.NewRequest(http.MethodGet, "/streamers", nil)
	rec = httptest.NewRecorder()
	h.handler.Streamers(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var tracked []models.Streamer
	decodeResponse(t, rec, &tracked)
	if len(tracked) != 1 || tracked[0].Username != "twitchdev" || !tracked[0].IsActive {
		t.Fatalf("unexpected streamer list %+v", tracked)
	}

	req = httptest.NewRequest(http.MethodDelete, "/streamers/twitchdev", nil)
	rec = httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	// Removing again reports the missing resource.
	req = httptest.NewRequest(http.MethodDelete, "/streamers/twitchdev", nil)
	rec = httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestAddStreamerUnknownLogin(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/streamers/nobody", nil)
	rec := httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestStreamerStatusEndpoint(t *testing.T) {
	h := newTestHarness(t)
	streamer := h.seedStreamer(t, "141981764", "twitchdev")
	status := models.StreamStatus{
		UserID:      streamer.UserID,
		Username:    streamer.Username,
		DisplayName: streamer.DisplayName,
		IsLive:      true,
		Stream:      &models.StreamInfo{ID: "9001", UserID: streamer.UserID, UserLogin: streamer.Username, ViewerCount: 77},
		LastUpdated: time.Now().UTC(),
		Source:      models.StatusSourceEvent,
	}
	if err := h.store.StoreStreamStatus(context.Background(), status); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/streamers/twitchdev/status", nil)
	rec := httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got models.StreamStatus
	decodeResponse(t, rec, &got)
	if !got.IsLive || got.Stream == nil || got.Stream.ViewerCount != 77 {
		t.Fatalf("unexpected status payload %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/streamers/nobody/status", nil)
	rec = httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown streamer, got %d", rec.Code)
	}
}

func TestLiveStreamsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	now := time.Now().UTC()
	statuses := []models.StreamStatus{
		{UserID: "100", Username: "alpha", IsLive: true, Stream: &models.StreamInfo{ID: "1", UserID: "100", UserLogin: "alpha"}, LastUpdated: now},
		{UserID: "200", Username: "beta", IsLive: false, LastUpdated: now},
	}
	for _, status := range statuses {
		if err := h.store.StoreStreamStatus(context.Background(), status); err != nil {
			t.Fatalf("seed status: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/live", nil)
	rec := httptest.NewRecorder()
	h.handler.LiveStreams(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload struct {
		LiveStreams []models.StreamStatus `json:"live_streams"`
		Count       int                   `json:"count"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Count != 1 || len(payload.LiveStreams) != 1 {
		t.Fatalf("expected one live stream, got %+v", payload)
	}
	if payload.LiveStreams[0].Username != "alpha" {
		t.Fatalf("unexpected live stream %+v", payload.LiveStreams[0])
	}
}

func TestStreamerByNameUnknownSubpath(t *testing.T) {
	h := newTestHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/streamers/twitchdev/followers", nil)
	rec := httptest.NewRecorder()
	h.handler.StreamerByName(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
