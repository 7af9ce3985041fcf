// Command send-test-event delivers a signed synthetic EventSub notification to
// a running instance, so webhook handling can be exercised without Twitch.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

func main() {
	_ = godotenv.Load()

	var (
		targetURL     string
		secret        string
		messageType   string
		eventType     string
		broadcasterID string
		login         string
		displayName   string
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8000/webhooks/eventsub", "Webhook endpoint to deliver to")
	flag.StringVar(&secret, "secret", "", "Webhook secret (defaults to WEBHOOK_SECRET)")
	flag.StringVar(&messageType, "message-type", eventsub.MessageTypeNotification, "Delivery type (notification, webhook_callback_verification, or revocation)")
	flag.StringVar(&eventType, "type", models.EventTypeStreamOnline, "Subscription type (stream.online or stream.offline)")
	flag.StringVar(&broadcasterID, "broadcaster-id", "123456789", "Broadcaster user ID for the event")
	flag.StringVar(&login, "login", "teststreamer", "Broadcaster login for the event")
	flag.StringVar(&displayName, "name", "TestStreamer", "Broadcaster display name for the event")
	flag.Parse()

	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	}
	if secret == "" {
		fatalf("--secret or WEBHOOK_SECRET is required to sign the delivery")
	}
	if eventType != models.EventTypeStreamOnline && eventType != models.EventTypeStreamOffline {
		fatalf("unsupported subscription type %q", eventType)
	}

	body, err := buildDelivery(messageType, eventType, broadcasterID, login, displayName, targetURL)
	if err != nil {
		fatalf("build delivery: %v", err)
	}

	messageID := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	req, err := http.NewRequest(http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventsub.HeaderMessageID, messageID)
	req.Header.Set(eventsub.HeaderMessageTimestamp, timestamp)
	req.Header.Set(eventsub.HeaderMessageSignature, eventsub.SignBody(messageID, timestamp, body, secret))
	req.Header.Set(eventsub.HeaderMessageType, messageType)
	req.Header.Set(eventsub.HeaderSubscriptionType, eventType)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatalf("deliver event: %v", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		fatalf("read response: %v", err)
	}

	fmt.Printf("Delivered %s %s as message %s\n", messageType, eventType, messageID)
	fmt.Printf("Response: %s %s\n", resp.Status, strings.TrimSpace(string(responseBody)))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func buildDelivery(messageType, eventType, broadcasterID, login, displayName, callback string) ([]byte, error) {
	subscription := eventsub.Subscription{
		ID:      uuid.NewString(),
		Type:    eventType,
		Version: "1",
		Status:  "enabled",
		Cost:    1,
		Condition: eventsub.Condition{
			BroadcasterUserID: broadcasterID,
		},
		Transport: eventsub.Transport{
			Method:   "webhook",
			Callback: callback,
		},
		CreatedAt: time.Now().UTC(),
	}

	envelope := eventsub.Envelope{Subscription: subscription}
	switch messageType {
	case eventsub.MessageTypeNotification:
		event, err := buildEvent(eventType, broadcasterID, login, displayName)
		if err != nil {
			return nil, err
		}
		envelope.Event = event
	case eventsub.MessageTypeVerification:
		envelope.Challenge = "test-challenge-" + uuid.NewString()
	case eventsub.MessageTypeRevocation:
		envelope.Subscription.Status = "authorization_revoked"
	default:
		return nil, fmt.Errorf("unsupported message type %q", messageType)
	}

	return json.Marshal(envelope)
}

func buildEvent(eventType, broadcasterID, login, displayName string) (json.RawMessage, error) {
	switch eventType {
	case models.EventTypeStreamOnline:
		return json.Marshal(eventsub.OnlineEvent{
			ID:                   uuid.NewString(),
			BroadcasterUserID:    broadcasterID,
			BroadcasterUserLogin: login,
			BroadcasterUserName:  displayName,
			Type:                 "live",
			StartedAt:            time.Now().UTC(),
		})
	case models.EventTypeStreamOffline:
		return json.Marshal(eventsub.OfflineEvent{
			BroadcasterUserID:    broadcasterID,
			BroadcasterUserLogin: login,
			BroadcasterUserName:  displayName,
		})
	default:
		return nil, fmt.Errorf("unsupported subscription type %q", eventType)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
