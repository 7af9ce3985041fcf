package models

import (
	"encoding/json"
	"time"
)

// Event types delivered by the upstream EventSub transport.
const (
	EventTypeStreamOnline  = "stream.online"
	EventTypeStreamOffline = "stream.offline"
)

// Provenance markers recorded on StreamStatus.Source describing which path
// produced the most recent accepted observation.
const (
	StatusSourceEvent = "event"
	StatusSourcePoll  = "poll"
	StatusSourceAPI   = "twitch_api"
)

// Streamer is a tracked broadcaster. The two subscription handles are owned by
// the subscription lifecycle manager; IsActive is cleared when a subscription
// cannot be created or recovered and the broadcaster should be skipped by the
// poller until an operator intervenes.
type Streamer struct {
	UserID                string `json:"user_id"`
	Username              string `json:"username"`
	DisplayName           string `json:"display_name"`
	OnlineSubscriptionID  string `json:"online_subscription_id,omitempty"`
	OfflineSubscriptionID string `json:"offline_subscription_id,omitempty"`
	IsActive              bool   `json:"is_active"`
}

// StreamInfo mirrors a row of the upstream "streams" endpoint. A nil
// *StreamInfo means the broadcaster is offline.
type StreamInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id,omitempty"`
	GameName     string    `json:"game_name,omitempty"`
	Type         string    `json:"type,omitempty"`
	Title        string    `json:"title,omitempty"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	TagIDs       []string  `json:"tag_ids,omitempty"`
}

// StreamStatus is the latest accepted live/offline observation for a
// broadcaster. At most one exists per broadcaster; writers overwrite rather
// than append. Source records the provenance used by the poll suppression
// policy (event-sourced writes always win, poll-sourced offline transitions
// are gated by age).
type StreamStatus struct {
	UserID        string      `json:"user_id"`
	Username      string      `json:"username"`
	DisplayName   string      `json:"display_name"`
	IsLive        bool        `json:"is_live"`
	Stream        *StreamInfo `json:"stream_data,omitempty"`
	LastUpdated   time.Time   `json:"last_updated"`
	LastEventType string      `json:"last_event_type,omitempty"`
	Source        string      `json:"last_update_source,omitempty"`
}

// Age reports how long ago the status was last updated.
func (s StreamStatus) Age(now time.Time) time.Duration {
	return now.Sub(s.LastUpdated)
}

// StreamEvent is an entry in the capped event log: one accepted webhook
// notification, with the raw payload retained for diagnostics.
type StreamEvent struct {
	ID               string          `json:"id"`
	EventType        string          `json:"event_type"`
	BroadcasterID    string          `json:"broadcaster_id"`
	BroadcasterLogin string          `json:"broadcaster_login"`
	BroadcasterName  string          `json:"broadcaster_name"`
	Timestamp        time.Time       `json:"timestamp"`
	Data             json.RawMessage `json:"data,omitempty"`
}

// ViewerSample is a single viewer-count observation attached to a session.
type ViewerSample struct {
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
	ViewerCount int       `bson:"viewer_count" json:"viewer_count"`
}

// StreamSession is one continuous live interval for a broadcaster. EndedAt nil
// means the session is open; the reconciliation engine maintains at most one
// open session per broadcaster. DurationMinutes, MaxViewers, and AvgViewers
// are set when the session closes.
type StreamSession struct {
	ID               string         `bson:"_id" json:"_id"`
	BroadcasterID    string         `bson:"broadcaster_id" json:"broadcaster_id"`
	BroadcasterLogin string         `bson:"broadcaster_login" json:"broadcaster_login"`
	BroadcasterName  string         `bson:"broadcaster_name" json:"broadcaster_name"`
	StartedAt        time.Time      `bson:"started_at" json:"started_at"`
	EndedAt          *time.Time     `bson:"ended_at" json:"ended_at"`
	DurationMinutes  *int           `bson:"duration_minutes" json:"duration_minutes"`
	CategoryID       string         `bson:"category_id,omitempty" json:"category_id,omitempty"`
	CategoryName     string         `bson:"category_name,omitempty" json:"category_name,omitempty"`
	Title            string         `bson:"title,omitempty" json:"title,omitempty"`
	ViewerSamples    []ViewerSample `bson:"viewer_count_samples" json:"viewer_count_samples"`
	MaxViewers       *int           `bson:"max_viewers" json:"max_viewers"`
	AvgViewers       *float64       `bson:"avg_viewers" json:"avg_viewers"`
	CreatedAt        time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `bson:"updated_at" json:"updated_at"`
}

// Open reports whether the session has not yet been closed.
func (s StreamSession) Open() bool {
	return s.EndedAt == nil
}

// StreamSnapshot is a point-in-time poll observation of a live stream.
type StreamSnapshot struct {
	ID               string     `bson:"_id" json:"_id"`
	BroadcasterID    string     `bson:"broadcaster_id" json:"broadcaster_id"`
	BroadcasterLogin string     `bson:"broadcaster_login" json:"broadcaster_login"`
	BroadcasterName  string     `bson:"broadcaster_name" json:"broadcaster_name"`
	IsLive           bool       `bson:"is_live" json:"is_live"`
	StreamID         string     `bson:"stream_id,omitempty" json:"stream_id,omitempty"`
	CategoryID       string     `bson:"category_id,omitempty" json:"category_id,omitempty"`
	CategoryName     string     `bson:"category_name,omitempty" json:"category_name,omitempty"`
	Title            string     `bson:"title,omitempty" json:"title,omitempty"`
	ViewerCount      *int       `bson:"viewer_count" json:"viewer_count"`
	StartedAt        *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	Language         string     `bson:"language,omitempty" json:"language,omitempty"`
	ThumbnailURL     string     `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
	TagIDs           []string   `bson:"tag_ids,omitempty" json:"tag_ids,omitempty"`
	CapturedAt       time.Time  `bson:"captured_at" json:"captured_at"`
}

// StreamerStats is the materialized per-broadcaster aggregate. It is always
// recomputable from session and snapshot history and is fully overwritten on
// every recompute, never incremented.
type StreamerStats struct {
	ID                   string     `bson:"_id" json:"_id"`
	BroadcasterID        string     `bson:"broadcaster_id" json:"broadcaster_id"`
	BroadcasterLogin     string     `bson:"broadcaster_login" json:"broadcaster_login"`
	BroadcasterName      string     `bson:"broadcaster_name" json:"broadcaster_name"`
	TotalStreams         int        `bson:"total_streams" json:"total_streams"`
	TotalHoursStreamed   float64    `bson:"total_hours_streamed" json:"total_hours_streamed"`
	AvgStreamDuration    float64    `bson:"avg_stream_duration_minutes" json:"avg_stream_duration_minutes"`
	MaxConcurrentViewers int        `bson:"max_concurrent_viewers" json:"max_concurrent_viewers"`
	AvgViewersAllTime    float64    `bson:"avg_viewers_all_time" json:"avg_viewers_all_time"`
	LastStreamAt         *time.Time `bson:"last_stream_at" json:"last_stream_at"`
	FirstSeenAt          time.Time  `bson:"first_seen_at" json:"first_seen_at"`
	UpdatedAt            time.Time  `bson:"updated_at" json:"updated_at"`
}
