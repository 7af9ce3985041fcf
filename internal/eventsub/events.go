package eventsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// Event is the decoded payload of a notification delivery. Concrete types are
// OnlineEvent, OfflineEvent, and UnhandledEvent.
type Event interface {
	EventType() string
}

// OnlineEvent is the stream.online notification payload.
type OnlineEvent struct {
	ID                   string    `json:"id"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	Type                 string    `json:"type"`
	StartedAt            time.Time `json:"started_at"`
}

// EventType identifies the subscription type that produced the payload.
func (OnlineEvent) EventType() string { return models.EventTypeStreamOnline }

// OfflineEvent is the stream.offline notification payload.
type OfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

// EventType identifies the subscription type that produced the payload.
func (OfflineEvent) EventType() string { return models.EventTypeStreamOffline }

// UnhandledEvent wraps a payload of a subscription type this service does not
// process. The raw bytes are preserved for storage.
type UnhandledEvent struct {
	Type string
	Raw  json.RawMessage
}

// EventType identifies the subscription type that produced the payload.
func (e UnhandledEvent) EventType() string { return e.Type }

// DecodeEvent decodes the raw event payload according to the subscription
// type. Unknown types are returned as UnhandledEvent rather than guessed at.
func DecodeEvent(subType string, raw json.RawMessage) (Event, error) {
	switch subType {
	case models.EventTypeStreamOnline:
		var event OnlineEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", subType, err)
		}
		return event, nil
	case models.EventTypeStreamOffline:
		var event OfflineEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", subType, err)
		}
		return event, nil
	default:
		return UnhandledEvent{Type: subType, Raw: raw}, nil
	}
}
