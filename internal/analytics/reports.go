package analytics

import (
	"context"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// MissedOfflineSession is one open session whose broadcaster is not in the
// live set, meaning its offline event was most likely never delivered.
type MissedOfflineSession struct {
	SessionID        string    `json:"session_id"`
	BroadcasterID    string    `json:"broadcaster_id"`
	BroadcasterLogin string    `json:"broadcaster_login"`
	StartedAt        time.Time `json:"started_at"`
	HoursActive      float64   `json:"hours_active"`
}

// MissedOfflineReport is the read-only diagnostic produced by
// DetectMissedOfflines. It never mutates state.
type MissedOfflineReport struct {
	Checked           int                    `json:"checked"`
	MissingCount      int                    `json:"missing_count"`
	MissingPercentage float64                `json:"missing_percentage"`
	Sessions          []MissedOfflineSession `json:"sessions"`
}

// Summary is the cross-broadcaster rollup.
type Summary struct {
	TotalStreamersTracked  int64   `json:"total_streamers_tracked"`
	TotalStreamSessions    int64   `json:"total_stream_sessions"`
	TotalSnapshotsCaptured int64   `json:"total_snapshots_captured"`
	TotalHoursStreamed     float64 `json:"total_hours_streamed"`
	AvgHoursPerStreamer    float64 `json:"avg_hours_per_streamer"`
}

// ComprehensiveSummary extends Summary with completion and coverage rates.
type ComprehensiveSummary struct {
	Summary
	ConfiguredStreamers int     `json:"configured_streamers"`
	ActiveSessions      int     `json:"active_sessions"`
	CompletedSessions   int64   `json:"completed_sessions"`
	CompletionRate      float64 `json:"completion_rate"`
	StatsCoverage       float64 `json:"stats_coverage"`
}

// DetectMissedOfflines cross-references open sessions against the currently
// live broadcaster set and reports the ones that should have closed.
func (s *Service) DetectMissedOfflines(ctx context.Context, liveBroadcasterIDs []string) (MissedOfflineReport, error) {
	open, err := s.store.OpenSessions(ctx)
	if err != nil {
		return MissedOfflineReport{}, err
	}
	live := make(map[string]struct{}, len(liveBroadcasterIDs))
	for _, id := range liveBroadcasterIDs {
		live[id] = struct{}{}
	}

	now := s.now().UTC()
	report := MissedOfflineReport{
		Checked:  len(open),
		Sessions: make([]MissedOfflineSession, 0),
	}
	for _, session := range open {
		if _, ok := live[session.BroadcasterID]; ok {
			continue
		}
		report.Sessions = append(report.Sessions, MissedOfflineSession{
			SessionID:        session.ID,
			BroadcasterID:    session.BroadcasterID,
			BroadcasterLogin: session.BroadcasterLogin,
			StartedAt:        session.StartedAt,
			HoursActive:      round2(now.Sub(session.StartedAt).Hours()),
		})
	}
	report.MissingCount = len(report.Sessions)
	if report.Checked > 0 {
		report.MissingPercentage = round2(float64(report.MissingCount) / float64(report.Checked) * 100)
	}
	return report, nil
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	statsCount, err := s.store.CountStats(ctx)
	if err != nil {
		return Summary{}, err
	}
	sessionCount, err := s.store.CountSessions(ctx)
	if err != nil {
		return Summary{}, err
	}
	snapshotCount, err := s.store.CountSnapshots(ctx)
	if err != nil {
		return Summary{}, err
	}
	rollup, err := s.store.HoursRollup(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		TotalStreamersTracked:  statsCount,
		TotalStreamSessions:    sessionCount,
		TotalSnapshotsCaptured: snapshotCount,
		TotalHoursStreamed:     round2(rollup.TotalHours),
		AvgHoursPerStreamer:    round2(rollup.AvgHours),
	}, nil
}

// ComprehensiveSummary layers session-completion and stats-coverage rates
// over the plain summary. configured is the number of registered streamers.
func (s *Service) ComprehensiveSummary(ctx context.Context, configured int) (ComprehensiveSummary, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return ComprehensiveSummary{}, err
	}
	open, err := s.store.OpenSessions(ctx)
	if err != nil {
		return ComprehensiveSummary{}, err
	}
	out := ComprehensiveSummary{
		Summary:             summary,
		ConfiguredStreamers: configured,
		ActiveSessions:      len(open),
		CompletedSessions:   summary.TotalStreamSessions - int64(len(open)),
	}
	if summary.TotalStreamSessions > 0 {
		out.CompletionRate = round2(float64(out.CompletedSessions) / float64(summary.TotalStreamSessions) * 100)
	}
	if configured > 0 {
		out.StatsCoverage = round2(float64(summary.TotalStreamersTracked) / float64(configured) * 100)
	}
	return out, nil
}

func (s *Service) StreamerStats(ctx context.Context, login string) (models.StreamerStats, error) {
	return s.store.StatsByLogin(ctx, login)
}

func (s *Service) Sessions(ctx context.Context, login string, limit int) ([]models.StreamSession, error) {
	return s.store.SessionsByLogin(ctx, login, limit)
}

func (s *Service) TopStreamersByHours(ctx context.Context, limit int) ([]models.StreamerStats, error) {
	return s.store.TopStreamersByHours(ctx, limit)
}

func (s *Service) RecentSnapshots(ctx context.Context, login string, limit int) ([]models.StreamSnapshot, error) {
	return s.store.RecentSnapshots(ctx, login, limit)
}
