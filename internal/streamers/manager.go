// Package streamers coordinates the broadcaster registry with the event,
// poll, and analytics paths. It is the only writer of StreamStatus and the
// only caller of the session state machine, and it serializes session
// mutations per broadcaster so duplicate webhook deliveries cannot open two
// sessions.
package streamers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/eventsub"
	"github.com/mja00/twitch-eventsub-rest/internal/models"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

const (
	defaultStaleAfter  = 10 * time.Minute
	defaultSuppression = 15 * time.Minute
)

// ErrUnknownUser is returned when a login does not exist on Twitch.
var ErrUnknownUser = errors.New("streamers: twitch user not found")

// TwitchAPI is the slice of the Helix client the manager needs.
type TwitchAPI interface {
	UserByLogin(ctx context.Context, login string) (*twitch.User, error)
	StreamInfo(ctx context.Context, userID string) (*models.StreamInfo, error)
}

// SubscriptionManager is the slice of the subscription lifecycle manager the
// registry operations need.
type SubscriptionManager interface {
	Ensure(ctx context.Context, streamer *models.Streamer) error
	Remove(ctx context.Context, streamer models.Streamer)
}

// Analytics is the slice of the analytics service driven by the event and
// poll paths.
type Analytics interface {
	StartSession(ctx context.Context, start analytics.SessionStart) (models.StreamSession, error)
	EndSession(ctx context.Context, broadcasterID string, endedAt time.Time) (bool, error)
	CaptureSnapshot(ctx context.Context, info models.StreamInfo) error
}

// Config wires the manager. StaleAfter gates re-polling of offline statuses;
// OfflineSuppression gates poll-sourced live to offline flips.
type Config struct {
	Store              storage.Store
	Analytics          Analytics
	Twitch             TwitchAPI
	Subscriptions      SubscriptionManager
	DefaultStreamers   []string
	StaleAfter         time.Duration
	OfflineSuppression time.Duration
	Logger             *slog.Logger
	Metrics            *metrics.Recorder
}

// Manager owns registry operations, webhook notification handling, and the
// poll reconciliation pass.
type Manager struct {
	store       storage.Store
	analytics   Analytics
	twitch      TwitchAPI
	subs        SubscriptionManager
	defaults    []string
	staleAfter  time.Duration
	suppression time.Duration
	logger      *slog.Logger
	metrics     *metrics.Recorder
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("streamers: store is required")
	}
	if cfg.Analytics == nil {
		return nil, fmt.Errorf("streamers: analytics service is required")
	}
	if cfg.Twitch == nil {
		return nil, fmt.Errorf("streamers: twitch client is required")
	}
	if cfg.Subscriptions == nil {
		return nil, fmt.Errorf("streamers: subscription manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	suppression := cfg.OfflineSuppression
	if suppression <= 0 {
		suppression = defaultSuppression
	}
	return &Manager{
		store:       cfg.Store,
		analytics:   cfg.Analytics,
		twitch:      cfg.Twitch,
		subs:        cfg.Subscriptions,
		defaults:    append([]string(nil), cfg.DefaultStreamers...),
		staleAfter:  staleAfter,
		suppression: suppression,
		logger:      logger,
		metrics:     recorder,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// broadcasterLock returns the mutex serializing session mutations for one
// broadcaster. Locks are never released from the map; the set of tracked
// broadcasters is small and bounded.
func (m *Manager) broadcasterLock(broadcasterID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[broadcasterID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[broadcasterID] = lock
	}
	return lock
}

// Add registers a broadcaster by login and establishes its subscriptions.
// Adding an already-tracked login returns the existing registration.
func (m *Manager) Add(ctx context.Context, username string) (models.Streamer, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return models.Streamer{}, fmt.Errorf("%w: empty login", ErrUnknownUser)
	}

	existing, err := m.store.GetStreamer(ctx, username)
	if err == nil {
		m.logger.Info("streamer already tracked", "username", username)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Streamer{}, fmt.Errorf("lookup streamer %s: %w", username, err)
	}

	user, err := m.twitch.UserByLogin(ctx, username)
	if err != nil {
		return models.Streamer{}, fmt.Errorf("resolve user %s: %w", username, err)
	}
	if user == nil {
		return models.Streamer{}, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}

	streamer := models.Streamer{
		UserID:      user.ID,
		Username:    user.Login,
		DisplayName: user.DisplayName,
	}
	if err := m.store.StoreStreamer(ctx, streamer); err != nil {
		return models.Streamer{}, fmt.Errorf("store streamer %s: %w", username, err)
	}
	if err := m.subs.Ensure(ctx, &streamer); err != nil {
		return streamer, err
	}
	m.logger.Info("added streamer",
		"username", streamer.Username,
		"user_id", streamer.UserID,
		"active", streamer.IsActive)
	return streamer, nil
}

// Remove tears down the broadcaster's subscriptions and deletes the
// registration. Returns storage.ErrNotFound for untracked logins.
func (m *Manager) Remove(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	streamer, err := m.store.GetStreamer(ctx, username)
	if err != nil {
		return err
	}
	m.subs.Remove(ctx, streamer)
	if err := m.store.RemoveStreamer(ctx, username); err != nil {
		return err
	}
	m.logger.Info("removed streamer", "username", username)
	return nil
}

// List returns every registered broadcaster.
func (m *Manager) List(ctx context.Context) ([]models.Streamer, error) {
	return m.store.AllStreamers(ctx)
}

// HandleNotification dispatches a verified notification delivery: the event
// is appended to the event log, the status cache is overwritten (event-sourced
// updates always win), and the session state machine advances under the
// broadcaster's lock. Failures past decoding are logged, not returned, so a
// storage hiccup does not make the upstream retry and disable the
// subscription.
func (m *Manager) HandleNotification(ctx context.Context, envelope eventsub.Envelope) error {
	decoded, err := eventsub.DecodeEvent(envelope.Subscription.Type, envelope.Event)
	if err != nil {
		return err
	}
	switch event := decoded.(type) {
	case eventsub.OnlineEvent:
		m.metrics.ObserveWebhookEvent(models.EventTypeStreamOnline)
		m.handleOnline(ctx, event, envelope.Event)
	case eventsub.OfflineEvent:
		m.metrics.ObserveWebhookEvent(models.EventTypeStreamOffline)
		m.handleOffline(ctx, event, envelope.Event)
	case eventsub.UnhandledEvent:
		m.metrics.ObserveWebhookEvent(event.Type)
		m.logger.Warn("unhandled event type", "type", event.Type)
	}
	return nil
}

func (m *Manager) handleOnline(ctx context.Context, event eventsub.OnlineEvent, raw []byte) {
	now := m.now().UTC()
	startedAt := event.StartedAt.UTC()
	if startedAt.IsZero() {
		m.logger.Warn("online event without started_at",
			"broadcaster_login", event.BroadcasterUserLogin)
		startedAt = now
	}

	m.recordEvent(ctx, models.EventTypeStreamOnline, event.BroadcasterUserID,
		event.BroadcasterUserLogin, event.BroadcasterUserName, raw, now)

	lock := m.broadcasterLock(event.BroadcasterUserID)
	lock.Lock()
	defer lock.Unlock()

	status := models.StreamStatus{
		UserID:      event.BroadcasterUserID,
		Username:    event.BroadcasterUserLogin,
		DisplayName: event.BroadcasterUserName,
		IsLive:      true,
		Stream: &models.StreamInfo{
			ID:        event.ID,
			UserID:    event.BroadcasterUserID,
			UserLogin: event.BroadcasterUserLogin,
			UserName:  event.BroadcasterUserName,
			Type:      event.Type,
			StartedAt: startedAt,
		},
		LastUpdated:   now,
		LastEventType: models.EventTypeStreamOnline,
		Source:        models.StatusSourceEvent,
	}
	if err := m.store.StoreStreamStatus(ctx, status); err != nil {
		m.logger.Error("failed to store stream status",
			"username", event.BroadcasterUserLogin,
			"error", err)
	}

	_, err := m.analytics.StartSession(ctx, analytics.SessionStart{
		BroadcasterID:    event.BroadcasterUserID,
		BroadcasterLogin: event.BroadcasterUserLogin,
		BroadcasterName:  event.BroadcasterUserName,
		StartedAt:        startedAt,
	})
	if err != nil {
		m.logger.Error("failed to open stream session",
			"username", event.BroadcasterUserLogin,
			"error", err)
	} else {
		m.metrics.SessionOpened()
	}
	m.logger.Info("stream online",
		"username", event.BroadcasterUserLogin,
		"display_name", event.BroadcasterUserName)
}

func (m *Manager) handleOffline(ctx context.Context, event eventsub.OfflineEvent, raw []byte) {
	now := m.now().UTC()

	m.recordEvent(ctx, models.EventTypeStreamOffline, event.BroadcasterUserID,
		event.BroadcasterUserLogin, event.BroadcasterUserName, raw, now)

	lock := m.broadcasterLock(event.BroadcasterUserID)
	lock.Lock()
	defer lock.Unlock()

	status := models.StreamStatus{
		UserID:        event.BroadcasterUserID,
		Username:      event.BroadcasterUserLogin,
		DisplayName:   event.BroadcasterUserName,
		IsLive:        false,
		LastUpdated:   now,
		LastEventType: models.EventTypeStreamOffline,
		Source:        models.StatusSourceEvent,
	}
	if err := m.store.StoreStreamStatus(ctx, status); err != nil {
		m.logger.Error("failed to store stream status",
			"username", event.BroadcasterUserLogin,
			"error", err)
	}

	closed, err := m.analytics.EndSession(ctx, event.BroadcasterUserID, now)
	if err != nil {
		m.logger.Error("failed to close stream session",
			"username", event.BroadcasterUserLogin,
			"error", err)
	} else if closed {
		m.metrics.SessionClosed()
	}
	m.logger.Info("stream offline",
		"username", event.BroadcasterUserLogin,
		"display_name", event.BroadcasterUserName)
}

func (m *Manager) recordEvent(ctx context.Context, eventType, broadcasterID, login, name string, raw []byte, now time.Time) {
	event := models.StreamEvent{
		ID:               uuid.NewString(),
		EventType:        eventType,
		BroadcasterID:    broadcasterID,
		BroadcasterLogin: login,
		BroadcasterName:  name,
		Timestamp:        now,
		Data:             raw,
	}
	if err := m.store.StoreEvent(ctx, event); err != nil {
		m.logger.Error("failed to store event",
			"event_type", eventType,
			"username", login,
			"error", err)
	}
}

// Status returns the cached status for a login, falling back to a direct
// Helix query for untracked or not-yet-observed broadcasters. The fallback
// result is cached for subsequent calls. Unknown logins return
// ErrUnknownUser.
func (m *Manager) Status(ctx context.Context, username string) (models.StreamStatus, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	status, err := m.store.GetStreamStatus(ctx, username)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.StreamStatus{}, err
	}

	userID := ""
	displayName := ""
	streamer, err := m.store.GetStreamer(ctx, username)
	switch {
	case err == nil:
		userID = streamer.UserID
		displayName = streamer.DisplayName
	case errors.Is(err, storage.ErrNotFound):
		user, lookupErr := m.twitch.UserByLogin(ctx, username)
		if lookupErr != nil {
			return models.StreamStatus{}, fmt.Errorf("resolve user %s: %w", username, lookupErr)
		}
		if user == nil {
			return models.StreamStatus{}, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		userID = user.ID
		displayName = user.DisplayName
	default:
		return models.StreamStatus{}, err
	}

	info, err := m.twitch.StreamInfo(ctx, userID)
	if err != nil {
		return models.StreamStatus{}, fmt.Errorf("query stream info for %s: %w", username, err)
	}
	status = models.StreamStatus{
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		IsLive:      info != nil,
		Stream:      info,
		LastUpdated: m.now().UTC(),
		Source:      models.StatusSourceAPI,
	}
	if err := m.store.StoreStreamStatus(ctx, status); err != nil {
		m.logger.Error("failed to cache stream status",
			"username", username,
			"error", err)
	}
	return status, nil
}

// LiveStreams returns the cached statuses currently marked live.
func (m *Manager) LiveStreams(ctx context.Context) ([]models.StreamStatus, error) {
	return m.store.LiveStreams(ctx)
}

// InitializeStatuses seeds the status cache for every active broadcaster
// from Helix. Per-broadcaster failures are logged and skipped so one bad
// lookup does not leave the rest uninitialized.
func (m *Manager) InitializeStatuses(ctx context.Context) error {
	streamers, err := m.store.AllStreamers(ctx)
	if err != nil {
		return fmt.Errorf("load streamers: %w", err)
	}
	if len(streamers) == 0 {
		m.logger.Info("no streamers to initialize")
		return nil
	}
	m.logger.Info("initializing streamer statuses", "count", len(streamers))
	for _, streamer := range streamers {
		if !streamer.IsActive {
			continue
		}
		info, err := m.twitch.StreamInfo(ctx, streamer.UserID)
		if err != nil {
			m.logger.Error("failed to initialize status",
				"username", streamer.Username,
				"error", err)
			continue
		}
		status := models.StreamStatus{
			UserID:      streamer.UserID,
			Username:    streamer.Username,
			DisplayName: streamer.DisplayName,
			IsLive:      info != nil,
			Stream:      info,
			LastUpdated: m.now().UTC(),
			Source:      models.StatusSourceAPI,
		}
		if err := m.store.StoreStreamStatus(ctx, status); err != nil {
			m.logger.Error("failed to store initial status",
				"username", streamer.Username,
				"error", err)
			continue
		}
		m.logger.Info("initialized streamer status",
			"username", streamer.Username,
			"live", status.IsLive)
	}
	return nil
}

// SyncOnce runs one poll pass over the active broadcasters. A broadcaster is
// polled when it has no cached status, the cached status is live, or the
// cached status is older than the staleness threshold. A poll result that
// would flip a fresh live status to offline is suppressed; only statuses
// older than the suppression window are flipped offline by polling. Accepted
// live results are forwarded to the analytics snapshot log.
func (m *Manager) SyncOnce(ctx context.Context) error {
	streamers, err := m.store.AllStreamers(ctx)
	if err != nil {
		return fmt.Errorf("load streamers: %w", err)
	}
	for _, streamer := range streamers {
		if !streamer.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.syncStreamer(ctx, streamer)
	}
	return nil
}

func (m *Manager) syncStreamer(ctx context.Context, streamer models.Streamer) {
	now := m.now().UTC()

	current, err := m.store.GetStreamStatus(ctx, streamer.Username)
	haveStatus := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error("failed to load stream status",
			"username", streamer.Username,
			"error", err)
		m.metrics.ObservePollUpdate("failed")
		return
	}

	if haveStatus && !current.IsLive && current.Age(now) <= m.staleAfter {
		m.metrics.ObservePollUpdate("skipped")
		return
	}

	info, err := m.twitch.StreamInfo(ctx, streamer.UserID)
	if err != nil {
		m.logger.Error("failed to poll stream info",
			"username", streamer.Username,
			"error", err)
		m.metrics.ObservePollUpdate("failed")
		return
	}
	isLive := info != nil

	if haveStatus && current.IsLive && !isLive && current.Age(now) < m.suppression {
		m.logger.Debug("suppressed poll-sourced offline transition",
			"username", streamer.Username,
			"status_age", current.Age(now).String())
		m.metrics.ObservePollUpdate("suppressed")
		return
	}

	status := models.StreamStatus{
		UserID:      streamer.UserID,
		Username:    streamer.Username,
		DisplayName: streamer.DisplayName,
		IsLive:      isLive,
		Stream:      info,
		LastUpdated: now,
		Source:      models.StatusSourcePoll,
	}
	if haveStatus {
		status.LastEventType = current.LastEventType
	}
	if err := m.store.StoreStreamStatus(ctx, status); err != nil {
		m.logger.Error("failed to store polled status",
			"username", streamer.Username,
			"error", err)
		m.metrics.ObservePollUpdate("failed")
		return
	}
	m.metrics.ObservePollUpdate("accepted")
	m.logger.Debug("updated stream status from poll",
		"username", streamer.Username,
		"live", isLive)

	if isLive {
		if err := m.analytics.CaptureSnapshot(ctx, *info); err != nil {
			m.logger.Error("failed to capture snapshot",
				"username", streamer.Username,
				"error", err)
			return
		}
		m.metrics.SnapshotCaptured()
	}
}

// Defaults returns the configured default logins.
func (m *Manager) Defaults() []string {
	return append([]string(nil), m.defaults...)
}

// ReloadDefaults re-adds every configured default login. Returns the number
// added (including already-tracked logins) and the logins that failed.
func (m *Manager) ReloadDefaults(ctx context.Context) (int, []string) {
	added := 0
	var failed []string
	for _, username := range m.defaults {
		if _, err := m.Add(ctx, username); err != nil {
			m.logger.Error("failed to add default streamer",
				"username", username,
				"error", err)
			failed = append(failed, username)
			continue
		}
		added++
	}
	return added, failed
}

// AddDefaults registers the configured default logins at startup. Failures
// are logged and skipped, matching ReloadDefaults.
func (m *Manager) AddDefaults(ctx context.Context) {
	if len(m.defaults) == 0 {
		return
	}
	added, failed := m.ReloadDefaults(ctx)
	m.logger.Info("registered default streamers",
		"added", added,
		"failed", len(failed))
}
