package storage

import (
	"strings"
	"time"
)

// Option configures a store at construction time. Options that do not apply
// to the chosen driver are ignored.
type Option interface {
	applyMemory(*MemoryStore)
	applyRedis(*redisSettings)
}

type optionAdapter struct {
	memory func(*MemoryStore)
	redis  func(*redisSettings)
}

func (o optionAdapter) applyMemory(store *MemoryStore) {
	if o.memory != nil && store != nil {
		o.memory(store)
	}
}

func (o optionAdapter) applyRedis(settings *redisSettings) {
	if o.redis != nil && settings != nil {
		o.redis(settings)
	}
}

func composeOption(memory func(*MemoryStore), redis func(*redisSettings)) Option {
	return optionAdapter{memory: memory, redis: redis}
}

func redisOnlyOption(redis func(*redisSettings)) Option {
	return optionAdapter{redis: redis}
}

// WithEventCap bounds how many events the recent event log retains. Older
// entries are discarded as new ones arrive.
func WithEventCap(limit int) Option {
	return composeOption(
		func(s *MemoryStore) {
			if limit > 0 {
				s.eventCap = limit
			}
		},
		func(settings *redisSettings) {
			if limit > 0 {
				settings.eventCap = limit
			}
		},
	)
}

// WithKeyPrefix overrides the redis key namespace, which defaults to "twitch".
func WithKeyPrefix(prefix string) Option {
	return redisOnlyOption(func(settings *redisSettings) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			settings.keyPrefix = trimmed
		}
	})
}

// WithRedisPoolSize caps the redis connection pool.
func WithRedisPoolSize(size int) Option {
	return redisOnlyOption(func(settings *redisSettings) {
		if size > 0 {
			settings.poolSize = size
		}
	})
}

// WithRedisTimeouts configures dial, read, and write deadlines for redis
// connections. Non-positive values keep the driver defaults.
func WithRedisTimeouts(dial, read, write time.Duration) Option {
	return redisOnlyOption(func(settings *redisSettings) {
		if dial > 0 {
			settings.dialTimeout = dial
		}
		if read > 0 {
			settings.readTimeout = read
		}
		if write > 0 {
			settings.writeTimeout = write
		}
	})
}
