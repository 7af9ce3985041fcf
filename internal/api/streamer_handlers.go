package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/streamers"
)

var errInternal = errors.New("internal server error")

// Streamers lists every tracked broadcaster.
func (h *Handler) Streamers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	tracked, err := h.streamers.List(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list streamers", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if tracked == nil {
		tracked = []models.Streamer{}
	}
	writeJSON(w, http.StatusOK, tracked)
}

// StreamerByName dispatches /streamers/{username} and
// /streamers/{username}/status.
func (h *Handler) StreamerByName(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/streamers/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	username := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPost:
			h.addStreamer(w, r, username)
		case http.MethodDelete:
			h.removeStreamer(w, r, username)
		default:
			writeMethodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		h.streamerStatus(w, r, username)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (h *Handler) addStreamer(w http.ResponseWriter, r *http.Request, username string) {
	if !h.requireAPIKey(w, r) {
		return
	}

	if _, err := h.streamers.Add(r.Context(), username); err != nil {
		if errors.Is(err, streamers.ErrUnknownUser) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("twitch user %s not found", username))
			return
		}
		h.requestLogger(r).Error("failed to add streamer", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Added streamer: %s", username)})
}

func (h *Handler) removeStreamer(w http.ResponseWriter, r *http.Request, username string) {
	if !h.requireAPIKey(w, r) {
		return
	}

	if err := h.streamers.Remove(r.Context(), username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("streamer %s not found", username))
			return
		}
		h.requestLogger(r).Error("failed to remove streamer", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Removed streamer: %s", username)})
}

func (h *Handler) streamerStatus(w http.ResponseWriter, r *http.Request, username string) {
	status, err := h.streamers.Status(r.Context(), username)
	if err != nil {
		if errors.Is(err, streamers.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, fmt.Errorf("streamer %s not found", username))
			return
		}
		h.requestLogger(r).Error("failed to resolve stream status", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// LiveStreams reports every tracked broadcaster currently marked live.
func (h *Handler) LiveStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	live, err := h.streamers.LiveStreams(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list live streams", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if live == nil {
		live = []models.StreamStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"live_streams": live,
		"count":        len(live),
	})
}
