package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
)

type subscriptionSummary struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Status    string             `json:"status"`
	Condition eventsub.Condition `json:"condition"`
	CreatedAt time.Time          `json:"created_at"`
	Cost      int                `json:"cost"`
}

func summarizeSubscriptions(subs []eventsub.Subscription) []subscriptionSummary {
	summaries := make([]subscriptionSummary, 0, len(subs))
	for _, sub := range subs {
		summaries = append(summaries, subscriptionSummary{
			ID:        sub.ID,
			Type:      sub.Type,
			Status:    sub.Status,
			Condition: sub.Condition,
			CreatedAt: sub.CreatedAt,
			Cost:      sub.Cost,
		})
	}
	return summaries
}

// AdminCleanupSubscriptions removes subscriptions on our callback URL that no
// tracked streamer claims.
func (h *Handler) AdminCleanupSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	count, err := h.subscriptions.CleanupOurSubscriptions(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to clean up subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       fmt.Sprintf("Cleaned up %d EventSub subscriptions", count),
		"cleanup_count": count,
	})
}

// AdminSubscriptions lists every EventSub subscription on the account, split
// into the ones owned by our callback URL and everything else.
func (h *Handler) AdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	owned, foreign, costs, err := h.subscriptions.Partition(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions":             summarizeSubscriptions(owned),
		"other_subscriptions":       summarizeSubscriptions(foreign),
		"total_subscriptions":       len(owned) + len(foreign),
		"our_subscriptions_count":   len(owned),
		"other_subscriptions_count": len(foreign),
		"webhook_url":               h.webhookURL,
		"costs":                     costs,
	})
}

// AdminVerifySubscriptions reconciles stored subscription handles against the
// remote subscription list, repairing anything broken.
func (h *Handler) AdminVerifySubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	fixed, err := h.subscriptions.ValidateAll(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to verify subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Subscription verification completed",
		"status":      "success",
		"fixed_count": fixed,
	})
}

// AdminReloadDefaultStreamers re-registers every configured default streamer.
func (h *Handler) AdminReloadDefaultStreamers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	defaults := h.streamers.Defaults()
	if len(defaults) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "No default streamers configured",
			"added_count": 0,
		})
		return
	}

	added, failed := h.streamers.ReloadDefaults(r.Context())
	payload := map[string]interface{}{
		"message":          fmt.Sprintf("Re-added %d default streamers", added),
		"added_count":      added,
		"total_configured": len(defaults),
	}
	if len(failed) > 0 {
		payload["failed_streamers"] = failed
	}
	writeJSON(w, http.StatusOK, payload)
}

// AdminDeleteAllSubscriptions deletes every subscription on the account,
// including ones that belong to other callback URLs.
func (h *Handler) AdminDeleteAllSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	deleted, err := h.subscriptions.DeleteAll(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to delete subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       fmt.Sprintf("Deleted %d total EventSub subscriptions", deleted),
		"deleted_count": deleted,
		"warning":       "This action deleted ALL subscriptions, not just our webhook URL",
	})
}
