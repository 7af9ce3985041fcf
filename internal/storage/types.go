// Package storage persists streamer registrations, the latest accepted stream
// status per broadcaster, and a capped log of recent webhook events.
package storage

import (
	"context"
	"errors"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// Driver names accepted by the server configuration.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// ErrNotFound is returned when the requested streamer or status is absent.
var ErrNotFound = errors.New("storage: not found")

const (
	defaultEventCap  = 1000
	defaultKeyPrefix = "twitch"
)

// Store is implemented by the redis and in-memory drivers. All methods are
// safe for concurrent use.
type Store interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	StoreEvent(ctx context.Context, event models.StreamEvent) error
	RecentEvents(ctx context.Context, limit int) ([]models.StreamEvent, error)

	StoreStreamer(ctx context.Context, streamer models.Streamer) error
	GetStreamer(ctx context.Context, username string) (models.Streamer, error)
	RemoveStreamer(ctx context.Context, username string) error
	AllStreamers(ctx context.Context) ([]models.Streamer, error)

	StoreStreamStatus(ctx context.Context, status models.StreamStatus) error
	GetStreamStatus(ctx context.Context, username string) (models.StreamStatus, error)
	LiveStreams(ctx context.Context) ([]models.StreamStatus, error)
}
