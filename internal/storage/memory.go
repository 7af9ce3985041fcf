package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// MemoryStore keeps all state in process memory. It is safe for concurrent
// use and intended for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []models.StreamEvent
	streamers map[string]models.Streamer
	statuses  map[string]models.StreamStatus
	eventCap  int
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	store := &MemoryStore{
		streamers: make(map[string]models.Streamer),
		statuses:  make(map[string]models.StreamStatus),
		eventCap:  defaultEventCap,
	}
	for _, opt := range opts {
		opt.applyMemory(store)
	}
	return store
}

// Connect is a no-op for the in-memory driver.
func (s *MemoryStore) Connect(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory driver.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Ping is a no-op for the in-memory driver.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// StoreEvent appends the event to the log, discarding the oldest entries when
// the cap is exceeded.
func (s *MemoryStore) StoreEvent(ctx context.Context, event models.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})
	if len(s.events) > s.eventCap {
		s.events = append([]models.StreamEvent(nil), s.events[len(s.events)-s.eventCap:]...)
	}
	return nil
}

// RecentEvents returns events newest first. A non-positive limit returns the
// whole retained log.
func (s *MemoryStore) RecentEvents(ctx context.Context, limit int) ([]models.StreamEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := len(s.events)
	if limit > 0 && limit < count {
		count = limit
	}
	events := make([]models.StreamEvent, 0, count)
	for i := len(s.events) - 1; i >= 0 && len(events) < count; i-- {
		events = append(events, s.events[i])
	}
	return events, nil
}

// StoreStreamer upserts the streamer keyed by username.
func (s *MemoryStore) StoreStreamer(ctx context.Context, streamer models.Streamer) error {
	s.mu.Lock()
	s.streamers[streamer.Username] = streamer
	s.mu.Unlock()
	return nil
}

// GetStreamer returns the streamer registered under the username.
func (s *MemoryStore) GetStreamer(ctx context.Context, username string) (models.Streamer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streamer, ok := s.streamers[username]
	if !ok {
		return models.Streamer{}, ErrNotFound
	}
	return streamer, nil
}

// RemoveStreamer deletes the streamer registration.
func (s *MemoryStore) RemoveStreamer(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streamers[username]; !ok {
		return ErrNotFound
	}
	delete(s.streamers, username)
	delete(s.statuses, username)
	return nil
}

// AllStreamers lists registrations sorted by username.
func (s *MemoryStore) AllStreamers(ctx context.Context) ([]models.Streamer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streamers := make([]models.Streamer, 0, len(s.streamers))
	for _, streamer := range s.streamers {
		streamers = append(streamers, streamer)
	}
	sort.Slice(streamers, func(i, j int) bool {
		return streamers[i].Username < streamers[j].Username
	})
	return streamers, nil
}

// StoreStreamStatus upserts the latest status keyed by username.
func (s *MemoryStore) StoreStreamStatus(ctx context.Context, status models.StreamStatus) error {
	s.mu.Lock()
	s.statuses[status.Username] = status
	s.mu.Unlock()
	return nil
}

// GetStreamStatus returns the latest accepted status for the username.
func (s *MemoryStore) GetStreamStatus(ctx context.Context, username string) (models.StreamStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[username]
	if !ok {
		return models.StreamStatus{}, ErrNotFound
	}
	return status, nil
}

// LiveStreams lists statuses currently marked live, sorted by username.
func (s *MemoryStore) LiveStreams(ctx context.Context) ([]models.StreamStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := make([]models.StreamStatus, 0)
	for _, status := range s.statuses {
		if status.IsLive {
			live = append(live, status)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].Username < live[j].Username
	})
	return live, nil
}
