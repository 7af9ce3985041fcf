// Package analytics maintains stream-session history, poll snapshots, and the
// per-broadcaster aggregates derived from them. The Service owns the session
// state machine and the recompute logic; persistence sits behind the Store
// interface with mongo, postgres, and in-memory drivers.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// Driver names accepted by the configuration layer.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Connection retry policy shared by the database drivers.
const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
)

// ErrNotFound is returned when a session or stats row does not exist.
var ErrNotFound = errors.New("analytics: not found")

// SessionClose carries the fields written when a session transitions from
// open to closed. Closed sessions are immutable afterwards.
type SessionClose struct {
	EndedAt         time.Time
	DurationMinutes int
	MaxViewers      *int
	AvgViewers      *float64
	ViewerSamples   []models.ViewerSample
	UpdatedAt       time.Time
}

// ViewerWindow is the aggregate over live snapshots inside one session's
// time range. All fields are nil/empty when no snapshot matched.
type ViewerWindow struct {
	MaxViewers *int
	AvgViewers *float64
	Samples    []models.ViewerSample
}

// ViewerAggregate is the all-time aggregate over a broadcaster's live
// snapshots, not scoped to any session. Nil fields mean no live snapshot
// with a viewer count exists.
type ViewerAggregate struct {
	MaxViewers       *int
	AvgViewers       *float64
	BroadcasterLogin string
	BroadcasterName  string
}

// SessionAggregate summarizes a broadcaster's closed sessions. TotalStreams
// zero means the broadcaster has no closed sessions.
type SessionAggregate struct {
	TotalStreams     int64
	TotalMinutes     int64
	AvgDuration      float64
	FirstStartedAt   time.Time
	LastStartedAt    time.Time
	BroadcasterLogin string
	BroadcasterName  string
}

// HoursRollup sums total_hours_streamed across every stats row.
type HoursRollup struct {
	TotalHours float64
	AvgHours   float64
}

// Store is the document-store contract the Service runs against. Lookups
// return ErrNotFound rather than zero values so callers can branch.
type Store interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	InsertSession(ctx context.Context, session models.StreamSession) error
	// OpenSession returns the most recent open session for the broadcaster,
	// newest started_at first.
	OpenSession(ctx context.Context, broadcasterID string) (models.StreamSession, error)
	CloseSession(ctx context.Context, id string, update SessionClose) error
	SessionsByLogin(ctx context.Context, login string, limit int) ([]models.StreamSession, error)
	OpenSessions(ctx context.Context) ([]models.StreamSession, error)
	// DeleteOpenSessionsBefore removes open sessions started before the
	// cutoff and returns them, oldest first.
	DeleteOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]models.StreamSession, error)
	CountSessions(ctx context.Context) (int64, error)

	InsertSnapshot(ctx context.Context, snapshot models.StreamSnapshot) error
	RecentSnapshots(ctx context.Context, login string, limit int) ([]models.StreamSnapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
	ViewerStatsWindow(ctx context.Context, broadcasterID string, start, end time.Time) (ViewerWindow, error)
	LiveViewerAggregate(ctx context.Context, broadcasterID string) (ViewerAggregate, error)

	ClosedSessionAggregate(ctx context.Context, broadcasterID string) (SessionAggregate, error)

	// UpsertStats fully overwrites the stats row keyed by broadcaster id,
	// preserving the row identity when one already exists.
	UpsertStats(ctx context.Context, stats models.StreamerStats) error
	StatsByLogin(ctx context.Context, login string) (models.StreamerStats, error)
	StatsByBroadcasterID(ctx context.Context, broadcasterID string) (models.StreamerStats, error)
	TopStreamersByHours(ctx context.Context, limit int) ([]models.StreamerStats, error)
	CountStats(ctx context.Context) (int64, error)
	HoursRollup(ctx context.Context) (HoursRollup, error)
}
