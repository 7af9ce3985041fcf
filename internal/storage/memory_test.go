package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

func sampleEvent(i int, ts time.Time) models.StreamEvent {
	return models.StreamEvent{
		ID:               fmt.Sprintf("event-%d", i),
		EventType:        models.EventTypeStreamOnline,
		BroadcasterID:    "141981764",
		BroadcasterLogin: "twitchdev",
		BroadcasterName:  "TwitchDev",
		Timestamp:        ts,
	}
}

func TestMemoryStoreEventCapTrimsOldest(t *testing.T) {
	store := NewMemoryStore(WithEventCap(3))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.StoreEvent(ctx, sampleEvent(i, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("store event %d: %v", i, err)
		}
	}

	events, err := store.RecentEvents(ctx, 0)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after trim, got %d", len(events))
	}
	if events[0].ID != "event-4" {
		t.Fatalf("expected newest event first, got %s", events[0].ID)
	}
	if events[2].ID != "event-2" {
		t.Fatalf("expected event-2 to survive the trim, got %s", events[2].ID)
	}
}

func TestMemoryRecentEventsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// Insert out of order; reads are ordered by timestamp, not arrival.
	for _, i := range []int{1, 0, 2} {
		if err := store.StoreEvent(ctx, sampleEvent(i, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("store event %d: %v", i, err)
		}
	}

	events, err := store.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "event-2" || events[1].ID != "event-1" {
		t.Fatalf("expected newest-first ordering, got %s then %s", events[0].ID, events[1].ID)
	}
}

func TestMemoryStreamerRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	streamer := models.Streamer{
		UserID:      "141981764",
		Username:    "twitchdev",
		DisplayName: "TwitchDev",
		IsActive:    true,
	}
	if err := store.StoreStreamer(ctx, streamer); err != nil {
		t.Fatalf("store streamer: %v", err)
	}
	if err := store.StoreStreamStatus(ctx, models.StreamStatus{
		UserID:      "141981764",
		Username:    "twitchdev",
		IsLive:      true,
		LastUpdated: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("store status: %v", err)
	}

	got, err := store.GetStreamer(ctx, "twitchdev")
	if err != nil {
		t.Fatalf("get streamer: %v", err)
	}
	if got.UserID != "141981764" || !got.IsActive {
		t.Fatalf("unexpected streamer %+v", got)
	}

	if err := store.RemoveStreamer(ctx, "twitchdev"); err != nil {
		t.Fatalf("remove streamer: %v", err)
	}
	if _, err := store.GetStreamer(ctx, "twitchdev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
	if _, err := store.GetStreamStatus(ctx, "twitchdev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected status to be removed with streamer, got %v", err)
	}
	if err := store.RemoveStreamer(ctx, "twitchdev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double removal, got %v", err)
	}
}

func TestMemoryGetStatusMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetStreamStatus(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLiveStreamsFiltersAndSorts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	statuses := []models.StreamStatus{
		{Username: "zelda_speedruns", IsLive: true},
		{Username: "annie", IsLive: true},
		{Username: "midnight_coder", IsLive: false},
	}
	for _, status := range statuses {
		if err := store.StoreStreamStatus(ctx, status); err != nil {
			t.Fatalf("store status %s: %v", status.Username, err)
		}
	}

	live, err := store.LiveStreams(ctx)
	if err != nil {
		t.Fatalf("live streams: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live streams, got %d", len(live))
	}
	if live[0].Username != "annie" || live[1].Username != "zelda_speedruns" {
		t.Fatalf("expected username ordering, got %s then %s", live[0].Username, live[1].Username)
	}
}

func TestMemoryAllStreamersSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, name := range []string{"charlie", "alice", "bob"} {
		if err := store.StoreStreamer(ctx, models.Streamer{Username: name, IsActive: true}); err != nil {
			t.Fatalf("store %s: %v", name, err)
		}
	}

	all, err := store.AllStreamers(ctx)
	if err != nil {
		t.Fatalf("all streamers: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 streamers, got %d", len(all))
	}
	for i, want := range []string{"alice", "bob", "charlie"} {
		if all[i].Username != want {
			t.Fatalf("expected %s at index %d, got %s", want, i, all[i].Username)
		}
	}
}

func TestMemoryConnectAndPing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
