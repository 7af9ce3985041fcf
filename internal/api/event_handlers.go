package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// Events returns the most recent stored stream events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := queryLimit(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.store.RecentEvents(r.Context(), limit)
	if err != nil {
		h.requestLogger(r).Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if events == nil {
		events = []models.StreamEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// EventsByType returns recent events filtered to one of the two supported
// event types. The store is overfetched so the filtered page can still fill
// up to the requested limit.
func (h *Handler) EventsByType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	eventType := strings.Trim(strings.TrimPrefix(r.URL.Path, "/events/type/"), "/")
	if eventType != models.EventTypeStreamOnline && eventType != models.EventTypeStreamOffline {
		writeError(w, http.StatusBadRequest, fmt.Errorf("event_type must be %q or %q", models.EventTypeStreamOnline, models.EventTypeStreamOffline))
		return
	}
	limit, err := queryLimit(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.store.RecentEvents(r.Context(), limit*3)
	if err != nil {
		h.requestLogger(r).Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	filtered := make([]models.StreamEvent, 0, limit)
	for _, event := range events {
		if event.EventType != eventType {
			continue
		}
		filtered = append(filtered, event)
		if len(filtered) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":     filtered,
		"event_type": eventType,
		"count":      len(filtered),
	})
}

// EventsByStreamer returns recent events for a single broadcaster login.
func (h *Handler) EventsByStreamer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	username := strings.Trim(strings.TrimPrefix(r.URL.Path, "/events/streamer/"), "/")
	if username == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	limit, err := queryLimit(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.store.RecentEvents(r.Context(), limit*3)
	if err != nil {
		h.requestLogger(r).Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	filtered := make([]models.StreamEvent, 0, limit)
	for _, event := range events {
		if !strings.EqualFold(event.BroadcasterLogin, username) {
			continue
		}
		filtered = append(filtered, event)
		if len(filtered) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   filtered,
		"streamer": username,
		"count":    len(filtered),
	})
}
