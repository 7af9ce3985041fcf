package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHelix struct {
	tokenRequests  atomic.Int64
	tokenExpiresIn int
	handler        http.HandlerFunc
}

func newFakeHelix(t *testing.T, handler http.HandlerFunc) (*fakeHelix, *Client) {
	t.Helper()
	fake := &fakeHelix{tokenExpiresIn: 3600, handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			fake.tokenRequests.Add(1)
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse token form: %v", err)
			}
			if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
				t.Errorf("unexpected grant_type %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "app-token-1",
				"expires_in":   fake.tokenExpiresIn,
			})
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Client-Id"); got != "client-id" {
			t.Errorf("unexpected client id header %q", got)
		}
		if fake.handler != nil {
			fake.handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	client := New(Config{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		WebhookURL:    "https://example.com/webhooks/eventsub",
		WebhookSecret: "hook-secret",
		AuthURL:       server.URL + "/oauth2/token",
		BaseURL:       server.URL + "/helix",
	})
	return fake, client
}

func TestTokenCachedUntilRefreshMargin(t *testing.T) {
	fake, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := client.UserByLogin(ctx, "someone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.UserByLogin(ctx, "someone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.tokenRequests.Load(); got != 1 {
		t.Fatalf("expected 1 token request, got %d", got)
	}

	// Within five minutes of expiry the token must be refreshed.
	current = current.Add(56 * time.Minute)
	if _, err := client.UserByLogin(ctx, "someone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.tokenRequests.Load(); got != 2 {
		t.Fatalf("expected token refresh, got %d requests", got)
	}
}

func TestUserByLogin(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("login"); got != "cool_user" {
			t.Errorf("unexpected login query %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"1337","login":"cool_user","display_name":"Cool_User"}]}`))
	})

	user, err := client.UserByLogin(context.Background(), "cool_user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "1337" || user.DisplayName != "Cool_User" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUserByLoginMissingReturnsNil(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	user, err := client.UserByLogin(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}

func TestStreamInfoOfflineReturnsNil(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "1337" {
			t.Errorf("unexpected user_id query %q", got)
		}
		w.Write([]byte(`{"data":[]}`))
	})

	info, err := client.StreamInfo(context.Background(), "1337")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil stream info, got %+v", info)
	}
}

func TestStreamInfoLive(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"40952121085","user_id":"1337","user_login":"cool_user","user_name":"Cool_User","game_id":"509658","game_name":"Just Chatting","type":"live","title":"hello","viewer_count":4270,"started_at":"2024-05-01T17:00:00Z","language":"en"}]}`))
	})

	info, err := client.StreamInfo(context.Background(), "1337")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info == nil {
		t.Fatalf("expected stream info")
	}
	if info.ViewerCount != 4270 || info.GameName != "Just Chatting" {
		t.Fatalf("unexpected stream info: %+v", info)
	}
	if !info.StartedAt.Equal(time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected started_at: %v", info.StartedAt)
	}
}

func TestCreateEventSubSubscription(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/helix/eventsub/subscriptions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload struct {
			Type      string `json:"type"`
			Version   string `json:"version"`
			Condition struct {
				BroadcasterUserID string `json:"broadcaster_user_id"`
			} `json:"condition"`
			Transport struct {
				Method   string `json:"method"`
				Callback string `json:"callback"`
				Secret   string `json:"secret"`
			} `json:"transport"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Type != "stream.online" || payload.Version != "1" {
			t.Errorf("unexpected type/version: %+v", payload)
		}
		if payload.Condition.BroadcasterUserID != "1337" {
			t.Errorf("unexpected condition: %+v", payload.Condition)
		}
		if payload.Transport.Method != "webhook" ||
			payload.Transport.Callback != "https://example.com/webhooks/eventsub" ||
			payload.Transport.Secret != "hook-secret" {
			t.Errorf("unexpected transport: %+v", payload.Transport)
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"data":[{"id":"sub-1","type":"stream.online","version":"1","status":"webhook_callback_verification_pending","cost":1,"condition":{"broadcaster_user_id":"1337"},"transport":{"method":"webhook","callback":"https://example.com/webhooks/eventsub"},"created_at":"2024-05-01T12:00:00.123456789Z"}],"total":1,"total_cost":1,"max_total_cost":10000}`))
	})

	subscription, err := client.CreateEventSubSubscription(context.Background(), "stream.online", "1337")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subscription.ID != "sub-1" || subscription.Status != "webhook_callback_verification_pending" {
		t.Fatalf("unexpected subscription: %+v", subscription)
	}
}

func TestCreateEventSubSubscriptionConflict(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
	})

	_, err := client.CreateEventSubSubscription(context.Background(), "stream.online", "1337")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestDeleteEventSubSubscriptionNotFoundIsSuccess(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "sub-gone" {
			t.Errorf("unexpected id query %q", got)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	if err := client.DeleteEventSubSubscription(context.Background(), "sub-gone"); err != nil {
		t.Fatalf("expected 404 to be treated as success, got %v", err)
	}
}

func TestListEventSubSubscriptionsFollowsPagination(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			w.Write([]byte(`{"data":[{"id":"sub-1","type":"stream.online","status":"enabled","cost":1}],"total":2,"total_cost":2,"max_total_cost":10000,"pagination":{"cursor":"next-page"}}`))
			return
		}
		if got := r.URL.Query().Get("after"); got != "next-page" {
			t.Errorf("unexpected cursor %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"sub-2","type":"stream.offline","status":"enabled","cost":1}],"total":2,"total_cost":2,"max_total_cost":10000,"pagination":{}}`))
	})

	subscriptions, costs, err := client.ListEventSubSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subscriptions) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subscriptions))
	}
	if subscriptions[0].ID != "sub-1" || subscriptions[1].ID != "sub-2" {
		t.Fatalf("unexpected subscriptions: %+v", subscriptions)
	}
	if costs.Total != 2 || costs.TotalCost != 2 || costs.MaxTotalCost != 10000 {
		t.Fatalf("unexpected costs: %+v", costs)
	}
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	_, client := newFakeHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limited`))
	})

	_, err := client.UserByLogin(context.Background(), "cool_user")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Message != "rate limited" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
