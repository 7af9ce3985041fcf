package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
)

// maxWebhookBody bounds the webhook body read. EventSub payloads are a few
// kilobytes at most.
const maxWebhookBody = 1 << 20

// Webhook handles EventSub deliveries: challenge handshakes are answered with
// the raw challenge text, revocations update subscription state, and
// notifications are dispatched to the streamer manager. Anything that fails
// the signature check is rejected before the body is interpreted.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return
	}
	r.Body.Close()

	if !eventsub.Verify(r.Header, body, h.webhookSecret) {
		h.metrics.ObserveWebhookRejected("signature")
		h.requestLogger(r).Warn("rejected webhook with invalid signature", "remote", realIP(r))
		writeError(w, http.StatusForbidden, fmt.Errorf("invalid signature"))
		return
	}

	envelope, err := eventsub.ParseEnvelope(body)
	if err != nil {
		h.metrics.ObserveWebhookRejected("malformed")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if envelope.Challenge != "" {
		h.requestLogger(r).Info("answering eventsub challenge",
			"subscription_id", envelope.Subscription.ID,
			"type", envelope.Subscription.Type)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(envelope.Challenge))
		return
	}

	switch r.Header.Get(eventsub.HeaderMessageType) {
	case eventsub.MessageTypeRevocation:
		if err := h.subscriptions.HandleRevocation(r.Context(), envelope.Subscription); err != nil {
			h.requestLogger(r).Error("failed to process revocation",
				"subscription_id", envelope.Subscription.ID, "error", err)
		}
	default:
		if err := h.streamers.HandleNotification(r.Context(), envelope); err != nil {
			h.metrics.ObserveWebhookRejected("decode")
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// realIP resolves the originating client address, preferring the Cloudflare
// header, then the standard proxy headers, before falling back to the socket
// peer.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
