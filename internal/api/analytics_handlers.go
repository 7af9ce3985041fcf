package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
)

// AnalyticsSummary returns the service-wide aggregate counters.
func (h *Handler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	summary, err := h.analytics.Summary(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to build analytics summary", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AnalyticsComprehensiveSummary extends the summary with session-health
// ratios relative to the configured streamer count.
func (h *Handler) AnalyticsComprehensiveSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	tracked, err := h.streamers.List(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list streamers", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	summary, err := h.analytics.ComprehensiveSummary(r.Context(), len(tracked))
	if err != nil {
		h.requestLogger(r).Error("failed to build comprehensive summary", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AnalyticsStreamer dispatches /analytics/streamer/{login}/stats, .../sessions,
// and .../recalculate.
func (h *Handler) AnalyticsStreamer(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/analytics/streamer/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	login := parts[0]

	switch parts[1] {
	case "stats":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		h.streamerAnalyticsStats(w, r, login)
	case "sessions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		h.streamerAnalyticsSessions(w, r, login)
	case "recalculate":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, r, http.MethodPost)
			return
		}
		h.recalculateStreamerStats(w, r, login)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (h *Handler) streamerAnalyticsStats(w http.ResponseWriter, r *http.Request, login string) {
	stats, err := h.analytics.StreamerStats(r.Context(), login)
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no analytics data found for %s", login))
			return
		}
		h.requestLogger(r).Error("failed to load streamer stats", "login", login, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) streamerAnalyticsSessions(w http.ResponseWriter, r *http.Request, login string) {
	limit, err := queryLimit(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessions, err := h.analytics.Sessions(r.Context(), login, limit)
	if err != nil {
		h.requestLogger(r).Error("failed to load stream sessions", "login", login, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if sessions == nil {
		sessions = []models.StreamSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"broadcaster_login": login,
		"sessions":          sessions,
		"count":             len(sessions),
	})
}

func (h *Handler) recalculateStreamerStats(w http.ResponseWriter, r *http.Request, login string) {
	if !h.requireAPIKey(w, r) {
		return
	}

	broadcasterID, err := h.resolveBroadcasterID(r, login)
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("streamer %s not found", login))
			return
		}
		h.requestLogger(r).Error("failed to resolve broadcaster", "login", login, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	if err := h.analytics.RecomputeStats(r.Context(), broadcasterID); err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no analytics data found for %s", login))
			return
		}
		h.requestLogger(r).Error("failed to recompute stats", "login", login, "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":        fmt.Sprintf("Recalculated stats for %s", login),
		"broadcaster_id": broadcasterID,
	})
}

// resolveBroadcasterID maps a login to a broadcaster ID via existing stats
// first, falling back to the streamer registry.
func (h *Handler) resolveBroadcasterID(r *http.Request, login string) (string, error) {
	stats, err := h.analytics.StreamerStats(r.Context(), login)
	if err == nil {
		return stats.BroadcasterID, nil
	}
	if !errors.Is(err, analytics.ErrNotFound) {
		return "", err
	}
	streamer, err := h.store.GetStreamer(r.Context(), login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", analytics.ErrNotFound
		}
		return "", err
	}
	return streamer.UserID, nil
}

// AnalyticsTopStreamers lists streamers ranked by total hours streamed.
func (h *Handler) AnalyticsTopStreamers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := queryLimit(r, "limit", 10, 1, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	top, err := h.analytics.TopStreamersByHours(r.Context(), limit)
	if err != nil {
		h.requestLogger(r).Error("failed to rank streamers", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if top == nil {
		top = []models.StreamerStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_streamers": top,
		"count":         len(top),
	})
}

// AnalyticsSnapshots lists recent viewer snapshots, optionally filtered by
// broadcaster login.
func (h *Handler) AnalyticsSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := queryLimit(r, "limit", 100, 1, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	login := strings.TrimSpace(r.URL.Query().Get("broadcaster_login"))

	snapshots, err := h.analytics.RecentSnapshots(r.Context(), login, limit)
	if err != nil {
		h.requestLogger(r).Error("failed to list snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	if snapshots == nil {
		snapshots = []models.StreamSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots":         snapshots,
		"count":             len(snapshots),
		"broadcaster_login": login,
	})
}

// AnalyticsCleanupSessions deletes sessions that have been open longer than
// the requested age. The default window matches the aggressive sweep.
func (h *Handler) AnalyticsCleanupSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}
	maxAgeHours, err := queryLimit(r, "max_age_hours", 2, 1, 24*365)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.analytics.CleanupStaleSessions(r.Context(), time.Duration(maxAgeHours)*time.Hour)
	if err != nil {
		h.requestLogger(r).Error("failed to clean up stale sessions", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	h.metrics.ObserveSweepDeletions("manual", report.DeletedCount)
	writeJSON(w, http.StatusOK, report)
}

// AnalyticsFallbackDetection compares open sessions against the live status
// set and reports sessions whose offline event appears to have been missed.
// It never mutates sessions.
func (h *Handler) AnalyticsFallbackDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	live, err := h.store.LiveStreams(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list live streams", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	liveIDs := make([]string, 0, len(live))
	for _, status := range live {
		liveIDs = append(liveIDs, status.UserID)
	}

	report, err := h.analytics.DetectMissedOfflines(r.Context(), liveIDs)
	if err != nil {
		h.requestLogger(r).Error("failed to detect missed offlines", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
