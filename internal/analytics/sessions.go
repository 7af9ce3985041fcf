package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// SessionStart identifies the broadcaster and start time for a new session.
// A zero StartedAt falls back to the current time.
type SessionStart struct {
	BroadcasterID    string
	BroadcasterLogin string
	BroadcasterName  string
	StartedAt        time.Time
}

// CleanedSession describes one deleted stale session in a cleanup report.
type CleanedSession struct {
	SessionID        string    `json:"session_id"`
	BroadcasterID    string    `json:"broadcaster_id"`
	BroadcasterLogin string    `json:"broadcaster_login"`
	StartedAt        time.Time `json:"started_at"`
	HoursOpen        float64   `json:"hours_open"`
}

// CleanupReport summarizes a stale-session sweep.
type CleanupReport struct {
	DeletedCount int              `json:"deleted_count"`
	MaxAgeHours  float64          `json:"max_age_hours"`
	Sessions     []CleanedSession `json:"sessions"`
}

// StartSession opens a new session for the broadcaster. Timestamps are
// normalized to UTC at the door so later arithmetic never mixes zones.
func (s *Service) StartSession(ctx context.Context, start SessionStart) (models.StreamSession, error) {
	now := s.now().UTC()
	startedAt := start.StartedAt.UTC()
	if start.StartedAt.IsZero() {
		startedAt = now
	}
	session := models.StreamSession{
		ID:               uuid.NewString(),
		BroadcasterID:    start.BroadcasterID,
		BroadcasterLogin: start.BroadcasterLogin,
		BroadcasterName:  start.BroadcasterName,
		StartedAt:        startedAt,
		ViewerSamples:    []models.ViewerSample{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return models.StreamSession{}, err
	}
	s.logger.Info("started stream session",
		"broadcaster_login", session.BroadcasterLogin,
		"session_id", session.ID)
	return session, nil
}

// EndSession closes the broadcaster's most recent open session: duration,
// windowed viewer stats, then a stats recompute. A missing open session is
// logged and ignored; sessions are never fabricated. Reports whether a
// session was actually closed.
func (s *Service) EndSession(ctx context.Context, broadcasterID string, endedAt time.Time) (bool, error) {
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	endedAt = endedAt.UTC()

	session, err := s.store.OpenSession(ctx, broadcasterID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("no active session found", "broadcaster_id", broadcasterID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	duration := int(endedAt.Sub(session.StartedAt).Minutes())

	windowed := session
	windowed.EndedAt = &endedAt
	window, err := s.WindowedViewerStats(ctx, windowed)
	if err != nil {
		return false, err
	}

	update := SessionClose{
		EndedAt:         endedAt,
		DurationMinutes: duration,
		MaxViewers:      window.MaxViewers,
		AvgViewers:      window.AvgViewers,
		ViewerSamples:   window.Samples,
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.store.CloseSession(ctx, session.ID, update); err != nil {
		return false, err
	}

	if err := s.RecomputeStats(ctx, broadcasterID); err != nil {
		s.logger.Error("failed to recompute streamer stats",
			"broadcaster_id", broadcasterID,
			"error", err)
	}

	s.logger.Info("ended stream session",
		"broadcaster_login", session.BroadcasterLogin,
		"duration_minutes", duration)
	return true, nil
}

// CaptureSnapshot records a point-in-time observation from the poll path.
func (s *Service) CaptureSnapshot(ctx context.Context, info models.StreamInfo) error {
	viewerCount := info.ViewerCount
	snapshot := models.StreamSnapshot{
		ID:               uuid.NewString(),
		BroadcasterID:    info.UserID,
		BroadcasterLogin: info.UserLogin,
		BroadcasterName:  info.UserName,
		IsLive:           info.ID != "",
		StreamID:         info.ID,
		CategoryID:       info.GameID,
		CategoryName:     info.GameName,
		Title:            info.Title,
		ViewerCount:      &viewerCount,
		Language:         info.Language,
		ThumbnailURL:     info.ThumbnailURL,
		TagIDs:           info.TagIDs,
		CapturedAt:       s.now().UTC(),
	}
	if !info.StartedAt.IsZero() {
		started := info.StartedAt.UTC()
		snapshot.StartedAt = &started
	}
	return s.store.InsertSnapshot(ctx, snapshot)
}

// CleanupStaleSessions deletes open sessions older than maxAge. The true end
// time of such sessions is unknowable, so they are removed rather than
// closed.
func (s *Service) CleanupStaleSessions(ctx context.Context, maxAge time.Duration) (CleanupReport, error) {
	now := s.now().UTC()
	deleted, err := s.store.DeleteOpenSessionsBefore(ctx, now.Add(-maxAge))
	if err != nil {
		return CleanupReport{}, err
	}
	report := CleanupReport{
		DeletedCount: len(deleted),
		MaxAgeHours:  round2(maxAge.Hours()),
		Sessions:     make([]CleanedSession, 0, len(deleted)),
	}
	for _, session := range deleted {
		report.Sessions = append(report.Sessions, CleanedSession{
			SessionID:        session.ID,
			BroadcasterID:    session.BroadcasterID,
			BroadcasterLogin: session.BroadcasterLogin,
			StartedAt:        session.StartedAt,
			HoursOpen:        round2(now.Sub(session.StartedAt).Hours()),
		})
	}
	if report.DeletedCount > 0 {
		s.logger.Info("cleaned up stale sessions",
			"deleted", report.DeletedCount,
			"max_age_hours", report.MaxAgeHours)
	}
	return report, nil
}
