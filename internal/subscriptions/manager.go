// Package subscriptions owns the EventSub webhook subscription lifecycle.
// Every tracked broadcaster carries two handles, one per stream event type,
// and the manager converges the remote subscription set and the stored
// handles toward each other: creation with conflict recovery on registration,
// wholesale validation against a single listing, and the admin cleanup paths.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

// StatusEnabled is the only healthy subscription status. Everything else
// (verification failures, exceeded notification failures, revocations) is
// treated as broken and eligible for repair or cleanup.
const StatusEnabled = "enabled"

func subscriptionTypes() []string {
	return []string{models.EventTypeStreamOnline, models.EventTypeStreamOffline}
}

// TwitchAPI is the slice of the Helix client the manager needs.
type TwitchAPI interface {
	CreateEventSubSubscription(ctx context.Context, subType, broadcasterID string) (*eventsub.Subscription, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
	ListEventSubSubscriptions(ctx context.Context) ([]eventsub.Subscription, twitch.Costs, error)
}

// Config wires the manager's dependencies. CallbackURL must match the
// transport callback used when subscriptions are created, since it is how
// the manager tells its own subscriptions apart from other deployments
// sharing the application credentials.
type Config struct {
	API         TwitchAPI
	Store       storage.Store
	CallbackURL string
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Manager reconciles stored subscription handles with the remote state.
type Manager struct {
	api      TwitchAPI
	store    storage.Store
	callback string
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("subscriptions: api client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("subscriptions: store is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("subscriptions: callback url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Manager{
		api:      cfg.API,
		store:    cfg.Store,
		callback: cfg.CallbackURL,
		logger:   logger,
		metrics:  recorder,
	}, nil
}

func handleFor(streamer *models.Streamer, subType string) *string {
	if subType == models.EventTypeStreamOnline {
		return &streamer.OnlineSubscriptionID
	}
	return &streamer.OfflineSubscriptionID
}

func (m *Manager) ownsCallback(sub eventsub.Subscription) bool {
	return sub.Transport.Callback == m.callback
}

// Ensure creates any missing subscription for the streamer, recovering the
// existing one when the API reports a conflict. Handles and the active flag
// are updated in place and persisted; a broadcaster that cannot get both
// subscriptions is stored deactivated rather than dropped, so an operator
// can see it and retry via validation.
func (m *Manager) Ensure(ctx context.Context, streamer *models.Streamer) error {
	for _, subType := range subscriptionTypes() {
		handle := handleFor(streamer, subType)
		if *handle != "" {
			continue
		}
		id, err := m.establish(ctx, subType, streamer.UserID)
		if err != nil {
			m.logger.Warn("failed to establish subscription",
				"type", subType,
				"username", streamer.Username,
				"error", err)
			continue
		}
		*handle = id
	}
	streamer.IsActive = streamer.OnlineSubscriptionID != "" && streamer.OfflineSubscriptionID != ""
	if err := m.store.StoreStreamer(ctx, *streamer); err != nil {
		return fmt.Errorf("persist streamer %s: %w", streamer.Username, err)
	}
	return nil
}

// establish creates a subscription, resolving a 409 by adopting the
// subscription the API says already exists.
func (m *Manager) establish(ctx context.Context, subType, broadcasterID string) (string, error) {
	sub, err := m.api.CreateEventSubSubscription(ctx, subType, broadcasterID)
	if err == nil {
		m.metrics.ObserveSubscriptionOp("create", "ok")
		return sub.ID, nil
	}
	if !twitch.IsConflict(err) {
		m.metrics.ObserveSubscriptionOp("create", "error")
		return "", err
	}
	id, recoverErr := m.recoverExisting(ctx, subType, broadcasterID)
	if recoverErr != nil {
		m.metrics.ObserveSubscriptionOp("create", "error")
		return "", fmt.Errorf("recover conflicting subscription: %w", recoverErr)
	}
	m.metrics.ObserveSubscriptionOp("create", "recovered")
	return id, nil
}

func (m *Manager) recoverExisting(ctx context.Context, subType, broadcasterID string) (string, error) {
	subs, _, err := m.list(ctx)
	if err != nil {
		return "", err
	}
	for _, sub := range subs {
		if sub.Type == subType && sub.Condition.BroadcasterUserID == broadcasterID && m.ownsCallback(sub) {
			return sub.ID, nil
		}
	}
	return "", fmt.Errorf("no matching subscription for %s on broadcaster %s", subType, broadcasterID)
}

// ValidateAll reconciles every stored handle against a single listing of the
// application's subscriptions. A handle pointing at a missing, foreign, or
// unhealthy subscription is repaired: an existing enabled subscription of
// ours is adopted when one exists, otherwise the remote leftover is deleted
// and a replacement created. Returns the number of repaired handles.
func (m *Manager) ValidateAll(ctx context.Context) (int, error) {
	streamers, err := m.store.AllStreamers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load streamers: %w", err)
	}
	subs, _, err := m.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	byID := make(map[string]eventsub.Subscription, len(subs))
	enabled := make(map[string]eventsub.Subscription)
	for _, sub := range subs {
		byID[sub.ID] = sub
		if m.ownsCallback(sub) && sub.Status == StatusEnabled {
			enabled[sub.Type+"/"+sub.Condition.BroadcasterUserID] = sub
		}
	}

	fixed := 0
	for _, streamer := range streamers {
		changed := false
		for _, subType := range subscriptionTypes() {
			handle := handleFor(&streamer, subType)
			if current, ok := byID[*handle]; ok && m.ownsCallback(current) && current.Status == StatusEnabled {
				continue
			}
			if want, ok := enabled[subType+"/"+streamer.UserID]; ok {
				*handle = want.ID
				changed = true
				fixed++
				continue
			}
			if *handle != "" {
				m.deleteSubscription(ctx, *handle)
			}
			id, err := m.establish(ctx, subType, streamer.UserID)
			if err != nil {
				m.logger.Warn("failed to repair subscription",
					"type", subType,
					"username", streamer.Username,
					"error", err)
				*handle = ""
				changed = true
				continue
			}
			*handle = id
			changed = true
			fixed++
		}
		active := streamer.OnlineSubscriptionID != "" && streamer.OfflineSubscriptionID != ""
		if active != streamer.IsActive {
			streamer.IsActive = active
			changed = true
		}
		if !changed {
			continue
		}
		if err := m.store.StoreStreamer(ctx, streamer); err != nil {
			return fixed, fmt.Errorf("persist streamer %s: %w", streamer.Username, err)
		}
	}
	return fixed, nil
}

// Remove tears down both of the streamer's subscriptions. Failures are
// logged rather than returned: the registry entry goes away regardless and
// an orphaned subscription is picked up by cleanup later.
func (m *Manager) Remove(ctx context.Context, streamer models.Streamer) {
	for _, id := range []string{streamer.OnlineSubscriptionID, streamer.OfflineSubscriptionID} {
		if id == "" {
			continue
		}
		m.deleteSubscription(ctx, id)
	}
}

// CleanupOurSubscriptions deletes subscriptions pointing at our callback that
// are unhealthy or reference a broadcaster no longer in the registry.
// Subscriptions with foreign callbacks are left alone.
func (m *Manager) CleanupOurSubscriptions(ctx context.Context) (int, error) {
	streamers, err := m.store.AllStreamers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load streamers: %w", err)
	}
	tracked := make(map[string]bool, len(streamers))
	for _, streamer := range streamers {
		tracked[streamer.UserID] = true
	}

	subs, _, err := m.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	cleaned := 0
	for _, sub := range subs {
		if !m.ownsCallback(sub) {
			continue
		}
		if sub.Status == StatusEnabled && tracked[sub.Condition.BroadcasterUserID] {
			continue
		}
		if !m.deleteSubscription(ctx, sub.ID) {
			continue
		}
		cleaned++
		m.logger.Info("cleaned up subscription",
			"subscription_id", sub.ID,
			"type", sub.Type,
			"status", sub.Status,
			"broadcaster_id", sub.Condition.BroadcasterUserID)
	}
	return cleaned, nil
}

// DeleteAll removes every subscription on the application, including ones
// registered by other deployments sharing the credentials.
func (m *Manager) DeleteAll(ctx context.Context) (int, error) {
	subs, _, err := m.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	deleted := 0
	for _, sub := range subs {
		if m.deleteSubscription(ctx, sub.ID) {
			deleted++
		}
	}
	return deleted, nil
}

// HandleRevocation clears the revoked handle and deactivates the streamer so
// the registration is visibly broken until validation repairs it.
func (m *Manager) HandleRevocation(ctx context.Context, sub eventsub.Subscription) error {
	streamers, err := m.store.AllStreamers(ctx)
	if err != nil {
		return fmt.Errorf("load streamers: %w", err)
	}
	for _, streamer := range streamers {
		matched := false
		if streamer.OnlineSubscriptionID == sub.ID {
			streamer.OnlineSubscriptionID = ""
			matched = true
		}
		if streamer.OfflineSubscriptionID == sub.ID {
			streamer.OfflineSubscriptionID = ""
			matched = true
		}
		if !matched {
			continue
		}
		streamer.IsActive = false
		if err := m.store.StoreStreamer(ctx, streamer); err != nil {
			return fmt.Errorf("persist streamer %s: %w", streamer.Username, err)
		}
		m.logger.Warn("subscription revoked",
			"subscription_id", sub.ID,
			"type", sub.Type,
			"status", sub.Status,
			"username", streamer.Username)
		return nil
	}
	m.logger.Warn("revocation for untracked subscription",
		"subscription_id", sub.ID,
		"type", sub.Type,
		"status", sub.Status)
	return nil
}

// Partition lists every subscription and splits the result by callback
// ownership, for the admin listing endpoint.
func (m *Manager) Partition(ctx context.Context) (owned, foreign []eventsub.Subscription, costs twitch.Costs, err error) {
	subs, costs, err := m.list(ctx)
	if err != nil {
		return nil, nil, twitch.Costs{}, err
	}
	owned = make([]eventsub.Subscription, 0, len(subs))
	foreign = make([]eventsub.Subscription, 0)
	for _, sub := range subs {
		if m.ownsCallback(sub) {
			owned = append(owned, sub)
		} else {
			foreign = append(foreign, sub)
		}
	}
	return owned, foreign, costs, nil
}

func (m *Manager) list(ctx context.Context) ([]eventsub.Subscription, twitch.Costs, error) {
	subs, costs, err := m.api.ListEventSubSubscriptions(ctx)
	if err != nil {
		m.metrics.ObserveSubscriptionOp("list", "error")
		return nil, twitch.Costs{}, err
	}
	m.metrics.ObserveSubscriptionOp("list", "ok")
	return subs, costs, nil
}

func (m *Manager) deleteSubscription(ctx context.Context, id string) bool {
	if err := m.api.DeleteEventSubSubscription(ctx, id); err != nil {
		m.metrics.ObserveSubscriptionOp("delete", "error")
		m.logger.Warn("failed to delete subscription",
			"subscription_id", id,
			"error", err)
		return false
	}
	m.metrics.ObserveSubscriptionOp("delete", "ok")
	return true
}
