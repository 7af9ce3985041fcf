package eventsub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Condition scopes a subscription to a single broadcaster.
type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// Transport describes how Twitch delivers notifications for a subscription.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is the subscription block Twitch embeds in every delivery and
// returns from the Helix subscription endpoints.
type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Cost      int       `json:"cost"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
}

// Envelope is the top-level webhook payload. Challenge is only present on
// webhook_callback_verification deliveries; Event carries the raw payload for
// notification and revocation deliveries.
type Envelope struct {
	Challenge    string          `json:"challenge,omitempty"`
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// ParseEnvelope decodes the webhook body into an Envelope.
func ParseEnvelope(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode eventsub envelope: %w", err)
	}
	return envelope, nil
}
