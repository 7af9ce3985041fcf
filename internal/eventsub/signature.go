// Package eventsub verifies and decodes Twitch EventSub webhook deliveries.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Header names carried on every EventSub webhook delivery.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderSubscriptionType = "Twitch-Eventsub-Subscription-Type"
)

// Message types Twitch sets on the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"
)

const signaturePrefix = "sha256="

// Verify recomputes the HMAC-SHA256 of message id, timestamp, and raw body and
// compares it in constant time against the signature header. Any missing
// header, malformed hex, or empty secret fails verification rather than
// returning an error.
func Verify(headers http.Header, body []byte, secret string) bool {
	if secret == "" {
		return false
	}
	messageID := headers.Get(HeaderMessageID)
	timestamp := headers.Get(HeaderMessageTimestamp)
	signature := headers.Get(HeaderMessageSignature)
	if messageID == "" || timestamp == "" || signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// SignBody computes the signature header value for the provided message
// parts. It exists so tests and local tooling can produce valid deliveries.
func SignBody(messageID, timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
