package analytics

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// WindowedViewerStats aggregates live snapshots inside the session's time
// range. The end bound defaults to now while the session is still open.
func (s *Service) WindowedViewerStats(ctx context.Context, session models.StreamSession) (ViewerWindow, error) {
	end := s.now().UTC()
	if session.EndedAt != nil {
		end = session.EndedAt.UTC()
	}
	window, err := s.store.ViewerStatsWindow(ctx, session.BroadcasterID, session.StartedAt.UTC(), end)
	if err != nil {
		return ViewerWindow{}, err
	}
	if window.AvgViewers != nil {
		avg := round2(*window.AvgViewers)
		window.AvgViewers = &avg
	}
	return window, nil
}

// RecomputeStats rebuilds the broadcaster's stats row from two independent
// aggregations: closed sessions and all live snapshots. The row is fully
// overwritten, never incremented, so redundant calls converge on the same
// result.
func (s *Service) RecomputeStats(ctx context.Context, broadcasterID string) error {
	sessions, err := s.store.ClosedSessionAggregate(ctx, broadcasterID)
	if err != nil {
		return err
	}
	viewers, err := s.store.LiveViewerAggregate(ctx, broadcasterID)
	if err != nil {
		return err
	}
	if sessions.TotalStreams == 0 && viewers.MaxViewers == nil {
		return nil
	}

	login := sessions.BroadcasterLogin
	if login == "" {
		login = viewers.BroadcasterLogin
	}
	name := sessions.BroadcasterName
	if name == "" {
		name = viewers.BroadcasterName
	}

	now := s.now().UTC()
	stats := models.StreamerStats{
		ID:                 uuid.NewString(),
		BroadcasterID:      broadcasterID,
		BroadcasterLogin:   login,
		BroadcasterName:    name,
		TotalStreams:       int(sessions.TotalStreams),
		TotalHoursStreamed: round2(float64(sessions.TotalMinutes) / 60),
		AvgStreamDuration:  round2(sessions.AvgDuration),
		FirstSeenAt:        now,
		UpdatedAt:          now,
	}
	if viewers.MaxViewers != nil {
		stats.MaxConcurrentViewers = *viewers.MaxViewers
	}
	if viewers.AvgViewers != nil {
		stats.AvgViewersAllTime = round2(*viewers.AvgViewers)
	}
	if sessions.TotalStreams > 0 {
		last := sessions.LastStartedAt
		stats.LastStreamAt = &last
		stats.FirstSeenAt = sessions.FirstStartedAt
	}
	return s.store.UpsertStats(ctx, stats)
}

// BackfillStatlessActives recomputes stats for every broadcaster with an
// open session but no stats row, so dashboards are not empty mid-stream.
// Returns the number of broadcasters recomputed.
func (s *Service) BackfillStatlessActives(ctx context.Context) (int, error) {
	open, err := s.store.OpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	recomputed := 0
	seen := make(map[string]struct{}, len(open))
	for _, session := range open {
		if _, ok := seen[session.BroadcasterID]; ok {
			continue
		}
		seen[session.BroadcasterID] = struct{}{}

		_, err := s.store.StatsByBroadcasterID(ctx, session.BroadcasterID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return recomputed, err
		}
		if err := s.RecomputeStats(ctx, session.BroadcasterID); err != nil {
			s.logger.Error("backfill recompute failed",
				"broadcaster_id", session.BroadcasterID,
				"error", err)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}
