package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// MemoryStore keeps everything in process. It backs tests and the dev
// configuration; the semantics mirror the database drivers exactly.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  []models.StreamSession
	snapshots []models.StreamSnapshot
	stats     map[string]models.StreamerStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[string]models.StreamerStats)}
}

func (s *MemoryStore) Connect(ctx context.Context) error { return nil }
func (s *MemoryStore) Close(ctx context.Context) error   { return nil }
func (s *MemoryStore) Ping(ctx context.Context) error    { return nil }

func (s *MemoryStore) InsertSession(ctx context.Context, session models.StreamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, cloneSession(session))
	return nil
}

func (s *MemoryStore) OpenSession(ctx context.Context, broadcasterID string) (models.StreamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.StreamSession
	for i := range s.sessions {
		session := &s.sessions[i]
		if session.BroadcasterID != broadcasterID || !session.Open() {
			continue
		}
		if found == nil || session.StartedAt.After(found.StartedAt) {
			found = session
		}
	}
	if found == nil {
		return models.StreamSession{}, ErrNotFound
	}
	return cloneSession(*found), nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, id string, update SessionClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID != id {
			continue
		}
		endedAt := update.EndedAt
		duration := update.DurationMinutes
		s.sessions[i].EndedAt = &endedAt
		s.sessions[i].DurationMinutes = &duration
		s.sessions[i].MaxViewers = update.MaxViewers
		s.sessions[i].AvgViewers = update.AvgViewers
		s.sessions[i].ViewerSamples = append([]models.ViewerSample(nil), update.ViewerSamples...)
		s.sessions[i].UpdatedAt = update.UpdatedAt
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) SessionsByLogin(ctx context.Context, login string, limit int) ([]models.StreamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.StreamSession, 0)
	for i := range s.sessions {
		if s.sessions[i].BroadcasterLogin == login {
			matched = append(matched, cloneSession(s.sessions[i]))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) OpenSessions(ctx context.Context) ([]models.StreamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]models.StreamSession, 0)
	for i := range s.sessions {
		if s.sessions[i].Open() {
			open = append(open, cloneSession(s.sessions[i]))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].StartedAt.Before(open[j].StartedAt)
	})
	return open, nil
}

func (s *MemoryStore) DeleteOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]models.StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := make([]models.StreamSession, 0)
	kept := s.sessions[:0]
	for i := range s.sessions {
		session := s.sessions[i]
		if session.Open() && session.StartedAt.Before(cutoff) {
			deleted = append(deleted, cloneSession(session))
			continue
		}
		kept = append(kept, session)
	}
	s.sessions = kept
	sort.Slice(deleted, func(i, j int) bool {
		return deleted[i].StartedAt.Before(deleted[j].StartedAt)
	})
	return deleted, nil
}

func (s *MemoryStore) CountSessions(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions)), nil
}

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snapshot models.StreamSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, cloneSnapshot(snapshot))
	return nil
}

func (s *MemoryStore) RecentSnapshots(ctx context.Context, login string, limit int) ([]models.StreamSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.StreamSnapshot, 0)
	for i := range s.snapshots {
		if login != "" && s.snapshots[i].BroadcasterLogin != login {
			continue
		}
		matched = append(matched, cloneSnapshot(s.snapshots[i]))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CapturedAt.After(matched[j].CapturedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountSnapshots(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.snapshots)), nil
}

func (s *MemoryStore) ViewerStatsWindow(ctx context.Context, broadcasterID string, start, end time.Time) (ViewerWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.liveSnapshots(broadcasterID, &start, &end)
	if len(matched) == 0 {
		return ViewerWindow{}, nil
	}
	window := ViewerWindow{Samples: make([]models.ViewerSample, 0, len(matched))}
	var sum float64
	maxViewers := 0
	for _, snap := range matched {
		count := *snap.ViewerCount
		if count > maxViewers {
			maxViewers = count
		}
		sum += float64(count)
		window.Samples = append(window.Samples, models.ViewerSample{
			Timestamp:   snap.CapturedAt,
			ViewerCount: count,
		})
	}
	avg := sum / float64(len(matched))
	window.MaxViewers = &maxViewers
	window.AvgViewers = &avg
	return window, nil
}

func (s *MemoryStore) LiveViewerAggregate(ctx context.Context, broadcasterID string) (ViewerAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.liveSnapshots(broadcasterID, nil, nil)
	if len(matched) == 0 {
		return ViewerAggregate{}, nil
	}
	agg := ViewerAggregate{
		BroadcasterLogin: matched[0].BroadcasterLogin,
		BroadcasterName:  matched[0].BroadcasterName,
	}
	var sum float64
	maxViewers := 0
	for _, snap := range matched {
		count := *snap.ViewerCount
		if count > maxViewers {
			maxViewers = count
		}
		sum += float64(count)
	}
	avg := sum / float64(len(matched))
	agg.MaxViewers = &maxViewers
	agg.AvgViewers = &avg
	return agg, nil
}

// liveSnapshots returns live snapshots with a viewer count for the
// broadcaster, optionally bounded to [start, end] inclusive, ordered by
// capture time. Callers must hold the lock.
func (s *MemoryStore) liveSnapshots(broadcasterID string, start, end *time.Time) []models.StreamSnapshot {
	matched := make([]models.StreamSnapshot, 0)
	for i := range s.snapshots {
		snap := s.snapshots[i]
		if snap.BroadcasterID != broadcasterID || !snap.IsLive || snap.ViewerCount == nil {
			continue
		}
		if start != nil && snap.CapturedAt.Before(*start) {
			continue
		}
		if end != nil && snap.CapturedAt.After(*end) {
			continue
		}
		matched = append(matched, snap)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CapturedAt.Before(matched[j].CapturedAt)
	})
	return matched
}

func (s *MemoryStore) ClosedSessionAggregate(ctx context.Context, broadcasterID string) (SessionAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var agg SessionAggregate
	var durations int64
	var durationSamples int64
	for i := range s.sessions {
		session := s.sessions[i]
		if session.BroadcasterID != broadcasterID || session.Open() {
			continue
		}
		if agg.TotalStreams == 0 {
			agg.BroadcasterLogin = session.BroadcasterLogin
			agg.BroadcasterName = session.BroadcasterName
			agg.FirstStartedAt = session.StartedAt
			agg.LastStartedAt = session.StartedAt
		} else {
			if session.StartedAt.Before(agg.FirstStartedAt) {
				agg.FirstStartedAt = session.StartedAt
			}
			if session.StartedAt.After(agg.LastStartedAt) {
				agg.LastStartedAt = session.StartedAt
			}
		}
		agg.TotalStreams++
		if session.DurationMinutes != nil {
			durations += int64(*session.DurationMinutes)
			durationSamples++
		}
	}
	agg.TotalMinutes = durations
	if durationSamples > 0 {
		agg.AvgDuration = float64(durations) / float64(durationSamples)
	}
	return agg, nil
}

func (s *MemoryStore) UpsertStats(ctx context.Context, stats models.StreamerStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stats[stats.BroadcasterID]; ok {
		stats.ID = existing.ID
	}
	s.stats[stats.BroadcasterID] = stats
	return nil
}

func (s *MemoryStore) StatsByLogin(ctx context.Context, login string) (models.StreamerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stats := range s.stats {
		if stats.BroadcasterLogin == login {
			return stats, nil
		}
	}
	return models.StreamerStats{}, ErrNotFound
}

func (s *MemoryStore) StatsByBroadcasterID(ctx context.Context, broadcasterID string) (models.StreamerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[broadcasterID]
	if !ok {
		return models.StreamerStats{}, ErrNotFound
	}
	return stats, nil
}

func (s *MemoryStore) TopStreamersByHours(ctx context.Context, limit int) ([]models.StreamerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	top := make([]models.StreamerStats, 0, len(s.stats))
	for _, stats := range s.stats {
		top = append(top, stats)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].TotalHoursStreamed != top[j].TotalHoursStreamed {
			return top[i].TotalHoursStreamed > top[j].TotalHoursStreamed
		}
		return top[i].BroadcasterLogin < top[j].BroadcasterLogin
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *MemoryStore) CountStats(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.stats)), nil
}

func (s *MemoryStore) HoursRollup(ctx context.Context) (HoursRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.stats) == 0 {
		return HoursRollup{}, nil
	}
	var rollup HoursRollup
	for _, stats := range s.stats {
		rollup.TotalHours += stats.TotalHoursStreamed
	}
	rollup.AvgHours = rollup.TotalHours / float64(len(s.stats))
	return rollup, nil
}

func cloneSession(session models.StreamSession) models.StreamSession {
	out := session
	if session.EndedAt != nil {
		ended := *session.EndedAt
		out.EndedAt = &ended
	}
	if session.DurationMinutes != nil {
		duration := *session.DurationMinutes
		out.DurationMinutes = &duration
	}
	if session.MaxViewers != nil {
		maxViewers := *session.MaxViewers
		out.MaxViewers = &maxViewers
	}
	if session.AvgViewers != nil {
		avg := *session.AvgViewers
		out.AvgViewers = &avg
	}
	out.ViewerSamples = append([]models.ViewerSample(nil), session.ViewerSamples...)
	return out
}

func cloneSnapshot(snapshot models.StreamSnapshot) models.StreamSnapshot {
	out := snapshot
	if snapshot.ViewerCount != nil {
		count := *snapshot.ViewerCount
		out.ViewerCount = &count
	}
	if snapshot.StartedAt != nil {
		started := *snapshot.StartedAt
		out.StartedAt = &started
	}
	out.TagIDs = append([]string(nil), snapshot.TagIDs...)
	return out
}
