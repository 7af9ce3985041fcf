package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

// PostgresConfig configures the postgres-backed store.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresStore implements the document-store contract on relational tables.
// It produces the same aggregate results as the mongo driver.
type PostgresStore struct {
	cfg     PostgresConfig
	poolCfg *pgxpool.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
}

func NewPostgresStore(cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{cfg: cfg, poolCfg: poolCfg, logger: logger}, nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		broadcaster_id TEXT NOT NULL,
		broadcaster_login TEXT NOT NULL,
		broadcaster_name TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration_minutes INTEGER,
		category_id TEXT NOT NULL DEFAULT '',
		category_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		viewer_samples JSONB NOT NULL DEFAULT '[]',
		max_viewers INTEGER,
		avg_viewers DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_broadcaster ON stream_sessions (broadcaster_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_started ON stream_sessions (started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_broadcaster_started ON stream_sessions (broadcaster_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS stream_snapshots (
		id TEXT PRIMARY KEY,
		broadcaster_id TEXT NOT NULL,
		broadcaster_login TEXT NOT NULL,
		broadcaster_name TEXT NOT NULL,
		is_live BOOLEAN NOT NULL,
		stream_id TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		category_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		viewer_count INTEGER,
		started_at TIMESTAMPTZ,
		language TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		tag_ids TEXT[],
		captured_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_snapshots_broadcaster ON stream_snapshots (broadcaster_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_snapshots_captured ON stream_snapshots (captured_at)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_snapshots_broadcaster_captured ON stream_snapshots (broadcaster_id, captured_at DESC)`,
	`CREATE TABLE IF NOT EXISTS streamer_stats (
		id TEXT NOT NULL,
		broadcaster_id TEXT PRIMARY KEY,
		broadcaster_login TEXT NOT NULL,
		broadcaster_name TEXT NOT NULL,
		total_streams INTEGER NOT NULL,
		total_hours_streamed DOUBLE PRECISION NOT NULL,
		avg_stream_duration_minutes DOUBLE PRECISION NOT NULL,
		max_concurrent_viewers INTEGER NOT NULL,
		avg_viewers_all_time DOUBLE PRECISION NOT NULL,
		last_stream_at TIMESTAMPTZ,
		first_seen_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streamer_stats_login ON streamer_stats (broadcaster_login)`,
}

// Connect opens the pool with bounded retries and applies the schema.
func (s *PostgresStore) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, s.poolCfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				s.pool = pool
				if err := s.migrate(ctx); err != nil {
					s.pool = nil
					pool.Close()
					return err
				}
				return nil
			}
			pool.Close()
		}
		lastErr = err
		s.logger.Warn("postgres connection attempt failed",
			"attempt", attempt,
			"max_attempts", connectAttempts,
			"error", err)
		if attempt < connectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(connectRetryDelay):
			}
		}
	}
	return fmt.Errorf("connect postgres after %d attempts: %w", connectAttempts, lastErr)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, migration := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not connected")
	}
	return s.pool.Ping(ctx)
}

const sessionColumns = `id, broadcaster_id, broadcaster_login, broadcaster_name, started_at, ended_at,
	duration_minutes, category_id, category_name, title, viewer_samples, max_viewers, avg_viewers,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.StreamSession, error) {
	var session models.StreamSession
	var samples []byte
	err := row.Scan(
		&session.ID,
		&session.BroadcasterID,
		&session.BroadcasterLogin,
		&session.BroadcasterName,
		&session.StartedAt,
		&session.EndedAt,
		&session.DurationMinutes,
		&session.CategoryID,
		&session.CategoryName,
		&session.Title,
		&samples,
		&session.MaxViewers,
		&session.AvgViewers,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return models.StreamSession{}, err
	}
	if len(samples) > 0 {
		if err := json.Unmarshal(samples, &session.ViewerSamples); err != nil {
			return models.StreamSession{}, fmt.Errorf("decode viewer samples: %w", err)
		}
	}
	session.StartedAt = session.StartedAt.UTC()
	if session.EndedAt != nil {
		ended := session.EndedAt.UTC()
		session.EndedAt = &ended
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}

func collectSessions(rows pgx.Rows) ([]models.StreamSession, error) {
	defer rows.Close()
	sessions := make([]models.StreamSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, session models.StreamSession) error {
	samples := session.ViewerSamples
	if samples == nil {
		samples = []models.ViewerSample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode viewer samples: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO stream_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		session.ID,
		session.BroadcasterID,
		session.BroadcasterLogin,
		session.BroadcasterName,
		session.StartedAt,
		session.EndedAt,
		session.DurationMinutes,
		session.CategoryID,
		session.CategoryName,
		session.Title,
		data,
		session.MaxViewers,
		session.AvgViewers,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) OpenSession(ctx context.Context, broadcasterID string) (models.StreamSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions
		WHERE broadcaster_id = $1 AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, broadcasterID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamSession{}, ErrNotFound
	}
	if err != nil {
		return models.StreamSession{}, fmt.Errorf("find open session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, id string, update SessionClose) error {
	samples := update.ViewerSamples
	if samples == nil {
		samples = []models.ViewerSample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode viewer samples: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE stream_sessions
		SET ended_at = $2, duration_minutes = $3, max_viewers = $4, avg_viewers = $5,
			viewer_samples = $6, updated_at = $7
		WHERE id = $1`,
		id, update.EndedAt, update.DurationMinutes, update.MaxViewers, update.AvgViewers, data, update.UpdatedAt)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SessionsByLogin(ctx context.Context, login string, limit int) ([]models.StreamSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE broadcaster_login = $1 ORDER BY started_at DESC`
	args := []any{login}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *PostgresStore) OpenSessions(ctx context.Context) ([]models.StreamSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM stream_sessions
		WHERE ended_at IS NULL ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("find open sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *PostgresStore) DeleteOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]models.StreamSession, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM stream_sessions
		WHERE ended_at IS NULL AND started_at < $1
		RETURNING `+sessionColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete stale sessions: %w", err)
	}
	deleted, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(deleted, func(i, j int) bool {
		return deleted[i].StartedAt.Before(deleted[j].StartedAt)
	})
	return deleted, nil
}

func (s *PostgresStore) CountSessions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stream_sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

const snapshotColumns = `id, broadcaster_id, broadcaster_login, broadcaster_name, is_live, stream_id,
	category_id, category_name, title, viewer_count, started_at, language, thumbnail_url, tag_ids, captured_at`

func scanSnapshot(row rowScanner) (models.StreamSnapshot, error) {
	var snapshot models.StreamSnapshot
	err := row.Scan(
		&snapshot.ID,
		&snapshot.BroadcasterID,
		&snapshot.BroadcasterLogin,
		&snapshot.BroadcasterName,
		&snapshot.IsLive,
		&snapshot.StreamID,
		&snapshot.CategoryID,
		&snapshot.CategoryName,
		&snapshot.Title,
		&snapshot.ViewerCount,
		&snapshot.StartedAt,
		&snapshot.Language,
		&snapshot.ThumbnailURL,
		&snapshot.TagIDs,
		&snapshot.CapturedAt,
	)
	if err != nil {
		return models.StreamSnapshot{}, err
	}
	if snapshot.StartedAt != nil {
		started := snapshot.StartedAt.UTC()
		snapshot.StartedAt = &started
	}
	snapshot.CapturedAt = snapshot.CapturedAt.UTC()
	return snapshot, nil
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snapshot models.StreamSnapshot) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO stream_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		snapshot.ID,
		snapshot.BroadcasterID,
		snapshot.BroadcasterLogin,
		snapshot.BroadcasterName,
		snapshot.IsLive,
		snapshot.StreamID,
		snapshot.CategoryID,
		snapshot.CategoryName,
		snapshot.Title,
		snapshot.ViewerCount,
		snapshot.StartedAt,
		snapshot.Language,
		snapshot.ThumbnailURL,
		snapshot.TagIDs,
		snapshot.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSnapshots(ctx context.Context, login string, limit int) ([]models.StreamSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM stream_snapshots`
	args := []any{}
	if login != "" {
		query += ` WHERE broadcaster_login = $1`
		args = append(args, login)
	}
	query += ` ORDER BY captured_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find snapshots: %w", err)
	}
	defer rows.Close()
	snapshots := make([]models.StreamSnapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *PostgresStore) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stream_snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ViewerStatsWindow(ctx context.Context, broadcasterID string, start, end time.Time) (ViewerWindow, error) {
	var window ViewerWindow
	err := s.pool.QueryRow(ctx, `SELECT MAX(viewer_count), AVG(viewer_count)
		FROM stream_snapshots
		WHERE broadcaster_id = $1 AND captured_at >= $2 AND captured_at <= $3
			AND is_live AND viewer_count IS NOT NULL`,
		broadcasterID, start, end).Scan(&window.MaxViewers, &window.AvgViewers)
	if err != nil {
		return ViewerWindow{}, fmt.Errorf("aggregate viewer window: %w", err)
	}
	if window.MaxViewers == nil {
		return ViewerWindow{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT captured_at, viewer_count
		FROM stream_snapshots
		WHERE broadcaster_id = $1 AND captured_at >= $2 AND captured_at <= $3
			AND is_live AND viewer_count IS NOT NULL
		ORDER BY captured_at ASC`,
		broadcasterID, start, end)
	if err != nil {
		return ViewerWindow{}, fmt.Errorf("list viewer samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sample models.ViewerSample
		if err := rows.Scan(&sample.Timestamp, &sample.ViewerCount); err != nil {
			return ViewerWindow{}, err
		}
		sample.Timestamp = sample.Timestamp.UTC()
		window.Samples = append(window.Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return ViewerWindow{}, err
	}
	return window, nil
}

func (s *PostgresStore) LiveViewerAggregate(ctx context.Context, broadcasterID string) (ViewerAggregate, error) {
	var agg ViewerAggregate
	var login, name *string
	err := s.pool.QueryRow(ctx, `SELECT MAX(viewer_count), AVG(viewer_count),
			MIN(broadcaster_login), MIN(broadcaster_name)
		FROM stream_snapshots
		WHERE broadcaster_id = $1 AND is_live AND viewer_count IS NOT NULL`,
		broadcasterID).Scan(&agg.MaxViewers, &agg.AvgViewers, &login, &name)
	if err != nil {
		return ViewerAggregate{}, fmt.Errorf("aggregate live viewers: %w", err)
	}
	if agg.MaxViewers == nil {
		return ViewerAggregate{}, nil
	}
	if login != nil {
		agg.BroadcasterLogin = *login
	}
	if name != nil {
		agg.BroadcasterName = *name
	}
	return agg, nil
}

func (s *PostgresStore) ClosedSessionAggregate(ctx context.Context, broadcasterID string) (SessionAggregate, error) {
	var agg SessionAggregate
	var avgDuration *float64
	var first, last *time.Time
	var login, name *string
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(duration_minutes), 0),
			AVG(duration_minutes), MIN(started_at), MAX(started_at),
			MIN(broadcaster_login), MIN(broadcaster_name)
		FROM stream_sessions
		WHERE broadcaster_id = $1 AND ended_at IS NOT NULL`,
		broadcasterID).Scan(&agg.TotalStreams, &agg.TotalMinutes, &avgDuration, &first, &last, &login, &name)
	if err != nil {
		return SessionAggregate{}, fmt.Errorf("aggregate sessions: %w", err)
	}
	if avgDuration != nil {
		agg.AvgDuration = *avgDuration
	}
	if first != nil {
		agg.FirstStartedAt = first.UTC()
	}
	if last != nil {
		agg.LastStartedAt = last.UTC()
	}
	if login != nil {
		agg.BroadcasterLogin = *login
	}
	if name != nil {
		agg.BroadcasterName = *name
	}
	return agg, nil
}

func (s *PostgresStore) UpsertStats(ctx context.Context, stats models.StreamerStats) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO streamer_stats (id, broadcaster_id, broadcaster_login,
			broadcaster_name, total_streams, total_hours_streamed, avg_stream_duration_minutes,
			max_concurrent_viewers, avg_viewers_all_time, last_stream_at, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (broadcaster_id) DO UPDATE SET
			broadcaster_login = EXCLUDED.broadcaster_login,
			broadcaster_name = EXCLUDED.broadcaster_name,
			total_streams = EXCLUDED.total_streams,
			total_hours_streamed = EXCLUDED.total_hours_streamed,
			avg_stream_duration_minutes = EXCLUDED.avg_stream_duration_minutes,
			max_concurrent_viewers = EXCLUDED.max_concurrent_viewers,
			avg_viewers_all_time = EXCLUDED.avg_viewers_all_time,
			last_stream_at = EXCLUDED.last_stream_at,
			first_seen_at = EXCLUDED.first_seen_at,
			updated_at = EXCLUDED.updated_at`,
		stats.ID,
		stats.BroadcasterID,
		stats.BroadcasterLogin,
		stats.BroadcasterName,
		stats.TotalStreams,
		stats.TotalHoursStreamed,
		stats.AvgStreamDuration,
		stats.MaxConcurrentViewers,
		stats.AvgViewersAllTime,
		stats.LastStreamAt,
		stats.FirstSeenAt,
		stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

const statsColumns = `id, broadcaster_id, broadcaster_login, broadcaster_name, total_streams,
	total_hours_streamed, avg_stream_duration_minutes, max_concurrent_viewers, avg_viewers_all_time,
	last_stream_at, first_seen_at, updated_at`

func scanStats(row rowScanner) (models.StreamerStats, error) {
	var stats models.StreamerStats
	err := row.Scan(
		&stats.ID,
		&stats.BroadcasterID,
		&stats.BroadcasterLogin,
		&stats.BroadcasterName,
		&stats.TotalStreams,
		&stats.TotalHoursStreamed,
		&stats.AvgStreamDuration,
		&stats.MaxConcurrentViewers,
		&stats.AvgViewersAllTime,
		&stats.LastStreamAt,
		&stats.FirstSeenAt,
		&stats.UpdatedAt,
	)
	if err != nil {
		return models.StreamerStats{}, err
	}
	if stats.LastStreamAt != nil {
		last := stats.LastStreamAt.UTC()
		stats.LastStreamAt = &last
	}
	stats.FirstSeenAt = stats.FirstSeenAt.UTC()
	stats.UpdatedAt = stats.UpdatedAt.UTC()
	return stats, nil
}

func (s *PostgresStore) StatsByLogin(ctx context.Context, login string) (models.StreamerStats, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM streamer_stats
		WHERE broadcaster_login = $1 LIMIT 1`, login)
	stats, err := scanStats(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamerStats{}, ErrNotFound
	}
	if err != nil {
		return models.StreamerStats{}, fmt.Errorf("find stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) StatsByBroadcasterID(ctx context.Context, broadcasterID string) (models.StreamerStats, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM streamer_stats
		WHERE broadcaster_id = $1`, broadcasterID)
	stats, err := scanStats(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamerStats{}, ErrNotFound
	}
	if err != nil {
		return models.StreamerStats{}, fmt.Errorf("find stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) TopStreamersByHours(ctx context.Context, limit int) ([]models.StreamerStats, error) {
	query := `SELECT ` + statsColumns + ` FROM streamer_stats ORDER BY total_hours_streamed DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find top streamers: %w", err)
	}
	defer rows.Close()
	top := make([]models.StreamerStats, 0)
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		top = append(top, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return top, nil
}

func (s *PostgresStore) CountStats(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM streamer_stats`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stats: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HoursRollup(ctx context.Context) (HoursRollup, error) {
	var rollup HoursRollup
	var total, avg *float64
	err := s.pool.QueryRow(ctx, `SELECT SUM(total_hours_streamed), AVG(total_hours_streamed)
		FROM streamer_stats`).Scan(&total, &avg)
	if err != nil {
		return HoursRollup{}, fmt.Errorf("aggregate hours: %w", err)
	}
	if total != nil {
		rollup.TotalHours = *total
	}
	if avg != nil {
		rollup.AvgHours = *avg
	}
	return rollup, nil
}
