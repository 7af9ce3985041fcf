package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mja00/twitch-eventsub-rest/internal/models"
)

const (
	collectionSessions  = "stream_sessions"
	collectionSnapshots = "stream_snapshots"
	collectionStats     = "streamer_stats"

	mongoSelectionTimeout = 5 * time.Second
)

// MongoConfig configures the mongo-backed store.
type MongoConfig struct {
	URL      string
	Database string
}

// MongoStore is the default production driver.
type MongoStore struct {
	cfg    MongoConfig
	logger *slog.Logger

	client    *mongo.Client
	sessions  *mongo.Collection
	snapshots *mongo.Collection
	stats     *mongo.Collection
}

func NewMongoStore(cfg MongoConfig, logger *slog.Logger) (*MongoStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("mongodb url is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoStore{cfg: cfg, logger: logger}, nil
}

// Connect dials mongo with bounded retries, then creates the indexes the
// query paths rely on. Index failures are logged, not fatal.
func (s *MongoStore) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := mongo.Connect(ctx, options.Client().
			ApplyURI(s.cfg.URL).
			SetServerSelectionTimeout(mongoSelectionTimeout))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, mongoSelectionTimeout)
			err = client.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				db := client.Database(s.cfg.Database)
				s.client = client
				s.sessions = db.Collection(collectionSessions)
				s.snapshots = db.Collection(collectionSnapshots)
				s.stats = db.Collection(collectionStats)
				if idxErr := s.ensureIndexes(ctx); idxErr != nil {
					s.logger.Warn("failed to create some indexes", "error", idxErr)
				}
				return nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err
		s.logger.Warn("mongodb connection attempt failed",
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
	return fmt.Errorf("connect mongodb after %d attempts: %w", connectAttempts, lastErr)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}}},
		{Keys: bson.D{{Key: "started_at", Value: 1}}},
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}, {Key: "started_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("session indexes: %w", err)
	}
	_, err = s.snapshots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}}},
		{Keys: bson.D{{Key: "captured_at", Value: 1}}},
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}, {Key: "captured_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("snapshot indexes: %w", err)
	}
	_, err = s.stats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "broadcaster_login", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("stats indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mongodb not connected")
	}
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) InsertSession(ctx context.Context, session models.StreamSession) error {
	if session.ViewerSamples == nil {
		session.ViewerSamples = []models.ViewerSample{}
	}
	if _, err := s.sessions.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *MongoStore) OpenSession(ctx context.Context, broadcasterID string) (models.StreamSession, error) {
	var session models.StreamSession
	err := s.sessions.FindOne(ctx,
		bson.M{"broadcaster_id": broadcasterID, "ended_at": nil},
		options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}),
	).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StreamSession{}, ErrNotFound
	}
	if err != nil {
		return models.StreamSession{}, fmt.Errorf("find open session: %w", err)
	}
	return session, nil
}

func (s *MongoStore) CloseSession(ctx context.Context, id string, update SessionClose) error {
	samples := update.ViewerSamples
	if samples == nil {
		samples = []models.ViewerSample{}
	}
	result, err := s.sessions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"ended_at":             update.EndedAt,
		"duration_minutes":     update.DurationMinutes,
		"max_viewers":          update.MaxViewers,
		"avg_viewers":          update.AvgViewers,
		"viewer_count_samples": samples,
		"updated_at":           update.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SessionsByLogin(ctx context.Context, login string, limit int) ([]models.StreamSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.sessions.Find(ctx, bson.M{"broadcaster_login": login}, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	sessions := make([]models.StreamSession, 0)
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (s *MongoStore) OpenSessions(ctx context.Context) ([]models.StreamSession, error) {
	cursor, err := s.sessions.Find(ctx, bson.M{"ended_at": nil},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find open sessions: %w", err)
	}
	sessions := make([]models.StreamSession, 0)
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode open sessions: %w", err)
	}
	return sessions, nil
}

func (s *MongoStore) DeleteOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]models.StreamSession, error) {
	filter := bson.M{"ended_at": nil, "started_at": bson.M{"$lt": cutoff}}
	cursor, err := s.sessions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find stale sessions: %w", err)
	}
	stale := make([]models.StreamSession, 0)
	if err := cursor.All(ctx, &stale); err != nil {
		return nil, fmt.Errorf("decode stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return stale, nil
	}
	ids := make([]string, 0, len(stale))
	for _, session := range stale {
		ids = append(ids, session.ID)
	}
	if _, err := s.sessions.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("delete stale sessions: %w", err)
	}
	return stale, nil
}

func (s *MongoStore) CountSessions(ctx context.Context) (int64, error) {
	count, err := s.sessions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func (s *MongoStore) InsertSnapshot(ctx context.Context, snapshot models.StreamSnapshot) error {
	if _, err := s.snapshots.InsertOne(ctx, snapshot); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *MongoStore) RecentSnapshots(ctx context.Context, login string, limit int) ([]models.StreamSnapshot, error) {
	filter := bson.M{}
	if login != "" {
		filter["broadcaster_login"] = login
	}
	opts := options.Find().SetSort(bson.D{{Key: "captured_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.snapshots.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find snapshots: %w", err)
	}
	snapshots := make([]models.StreamSnapshot, 0)
	if err := cursor.All(ctx, &snapshots); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return snapshots, nil
}

func (s *MongoStore) CountSnapshots(ctx context.Context) (int64, error) {
	count, err := s.snapshots.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return count, nil
}

func (s *MongoStore) ViewerStatsWindow(ctx context.Context, broadcasterID string, start, end time.Time) (ViewerWindow, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "broadcaster_id", Value: broadcasterID},
			{Key: "captured_at", Value: bson.D{{Key: "$gte", Value: start}, {Key: "$lte", Value: end}}},
			{Key: "is_live", Value: true},
			{Key: "viewer_count", Value: bson.D{{Key: "$ne", Value: nil}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "max_viewers", Value: bson.D{{Key: "$max", Value: "$viewer_count"}}},
			{Key: "avg_viewers", Value: bson.D{{Key: "$avg", Value: "$viewer_count"}}},
			{Key: "viewer_samples", Value: bson.D{{Key: "$push", Value: bson.D{
				{Key: "timestamp", Value: "$captured_at"},
				{Key: "viewer_count", Value: "$viewer_count"},
			}}}},
		}}},
	}
	cursor, err := s.snapshots.Aggregate(ctx, pipeline)
	if err != nil {
		return ViewerWindow{}, fmt.Errorf("aggregate viewer window: %w", err)
	}
	var rows []struct {
		MaxViewers *int                  `bson:"max_viewers"`
		AvgViewers *float64              `bson:"avg_viewers"`
		Samples    []models.ViewerSample `bson:"viewer_samples"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return ViewerWindow{}, fmt.Errorf("decode viewer window: %w", err)
	}
	if len(rows) == 0 || rows[0].MaxViewers == nil {
		return ViewerWindow{}, nil
	}
	return ViewerWindow{
		MaxViewers: rows[0].MaxViewers,
		AvgViewers: rows[0].AvgViewers,
		Samples:    rows[0].Samples,
	}, nil
}

func (s *MongoStore) LiveViewerAggregate(ctx context.Context, broadcasterID string) (ViewerAggregate, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "broadcaster_id", Value: broadcasterID},
			{Key: "is_live", Value: true},
			{Key: "viewer_count", Value: bson.D{{Key: "$ne", Value: nil}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "max_viewers", Value: bson.D{{Key: "$max", Value: "$viewer_count"}}},
			{Key: "avg_viewers", Value: bson.D{{Key: "$avg", Value: "$viewer_count"}}},
			{Key: "broadcaster_login", Value: bson.D{{Key: "$first", Value: "$broadcaster_login"}}},
			{Key: "broadcaster_name", Value: bson.D{{Key: "$first", Value: "$broadcaster_name"}}},
		}}},
	}
	cursor, err := s.snapshots.Aggregate(ctx, pipeline)
	if err != nil {
		return ViewerAggregate{}, fmt.Errorf("aggregate live viewers: %w", err)
	}
	var rows []struct {
		MaxViewers       *int     `bson:"max_viewers"`
		AvgViewers       *float64 `bson:"avg_viewers"`
		BroadcasterLogin string   `bson:"broadcaster_login"`
		BroadcasterName  string   `bson:"broadcaster_name"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return ViewerAggregate{}, fmt.Errorf("decode live viewers: %w", err)
	}
	if len(rows) == 0 || rows[0].MaxViewers == nil {
		return ViewerAggregate{}, nil
	}
	return ViewerAggregate{
		MaxViewers:       rows[0].MaxViewers,
		AvgViewers:       rows[0].AvgViewers,
		BroadcasterLogin: rows[0].BroadcasterLogin,
		BroadcasterName:  rows[0].BroadcasterName,
	}, nil
}

func (s *MongoStore) ClosedSessionAggregate(ctx context.Context, broadcasterID string) (SessionAggregate, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "broadcaster_id", Value: broadcasterID},
			{Key: "ended_at", Value: bson.D{{Key: "$ne", Value: nil}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_streams", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total_minutes", Value: bson.D{{Key: "$sum", Value: "$duration_minutes"}}},
			{Key: "avg_duration", Value: bson.D{{Key: "$avg", Value: "$duration_minutes"}}},
			{Key: "last_stream", Value: bson.D{{Key: "$max", Value: "$started_at"}}},
			{Key: "first_stream", Value: bson.D{{Key: "$min", Value: "$started_at"}}},
			{Key: "broadcaster_login", Value: bson.D{{Key: "$first", Value: "$broadcaster_login"}}},
			{Key: "broadcaster_name", Value: bson.D{{Key: "$first", Value: "$broadcaster_name"}}},
		}}},
	}
	cursor, err := s.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return SessionAggregate{}, fmt.Errorf("aggregate sessions: %w", err)
	}
	var rows []struct {
		TotalStreams     int64      `bson:"total_streams"`
		TotalMinutes     int64      `bson:"total_minutes"`
		AvgDuration      *float64   `bson:"avg_duration"`
		LastStream       *time.Time `bson:"last_stream"`
		FirstStream      *time.Time `bson:"first_stream"`
		BroadcasterLogin string     `bson:"broadcaster_login"`
		BroadcasterName  string     `bson:"broadcaster_name"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return SessionAggregate{}, fmt.Errorf("decode session aggregate: %w", err)
	}
	if len(rows) == 0 {
		return SessionAggregate{}, nil
	}
	agg := SessionAggregate{
		TotalStreams:     rows[0].TotalStreams,
		TotalMinutes:     rows[0].TotalMinutes,
		BroadcasterLogin: rows[0].BroadcasterLogin,
		BroadcasterName:  rows[0].BroadcasterName,
	}
	if rows[0].AvgDuration != nil {
		agg.AvgDuration = *rows[0].AvgDuration
	}
	if rows[0].FirstStream != nil {
		agg.FirstStartedAt = *rows[0].FirstStream
	}
	if rows[0].LastStream != nil {
		agg.LastStartedAt = *rows[0].LastStream
	}
	return agg, nil
}

func (s *MongoStore) UpsertStats(ctx context.Context, stats models.StreamerStats) error {
	update := bson.M{
		"$set": bson.M{
			"broadcaster_id":              stats.BroadcasterID,
			"broadcaster_login":           stats.BroadcasterLogin,
			"broadcaster_name":            stats.BroadcasterName,
			"total_streams":               stats.TotalStreams,
			"total_hours_streamed":        stats.TotalHoursStreamed,
			"avg_stream_duration_minutes": stats.AvgStreamDuration,
			"max_concurrent_viewers":      stats.MaxConcurrentViewers,
			"avg_viewers_all_time":        stats.AvgViewersAllTime,
			"last_stream_at":              stats.LastStreamAt,
			"first_seen_at":               stats.FirstSeenAt,
			"updated_at":                  stats.UpdatedAt,
		},
		"$setOnInsert": bson.M{"_id": stats.ID},
	}
	_, err := s.stats.UpdateOne(ctx,
		bson.M{"broadcaster_id": stats.BroadcasterID},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

func (s *MongoStore) StatsByLogin(ctx context.Context, login string) (models.StreamerStats, error) {
	var stats models.StreamerStats
	err := s.stats.FindOne(ctx, bson.M{"broadcaster_login": login}).Decode(&stats)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StreamerStats{}, ErrNotFound
	}
	if err != nil {
		return models.StreamerStats{}, fmt.Errorf("find stats: %w", err)
	}
	return stats, nil
}

func (s *MongoStore) StatsByBroadcasterID(ctx context.Context, broadcasterID string) (models.StreamerStats, error) {
	var stats models.StreamerStats
	err := s.stats.FindOne(ctx, bson.M{"broadcaster_id": broadcasterID}).Decode(&stats)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StreamerStats{}, ErrNotFound
	}
	if err != nil {
		return models.StreamerStats{}, fmt.Errorf("find stats: %w", err)
	}
	return stats, nil
}

func (s *MongoStore) TopStreamersByHours(ctx context.Context, limit int) ([]models.StreamerStats, error) {
	opts := options.Find().SetSort(bson.D{{Key: "total_hours_streamed", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.stats.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find top streamers: %w", err)
	}
	top := make([]models.StreamerStats, 0)
	if err := cursor.All(ctx, &top); err != nil {
		return nil, fmt.Errorf("decode top streamers: %w", err)
	}
	return top, nil
}

func (s *MongoStore) CountStats(ctx context.Context) (int64, error) {
	count, err := s.stats.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count stats: %w", err)
	}
	return count, nil
}

func (s *MongoStore) HoursRollup(ctx context.Context) (HoursRollup, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_hours", Value: bson.D{{Key: "$sum", Value: "$total_hours_streamed"}}},
			{Key: "avg_hours_per_streamer", Value: bson.D{{Key: "$avg", Value: "$total_hours_streamed"}}},
		}}},
	}
	cursor, err := s.stats.Aggregate(ctx, pipeline)
	if err != nil {
		return HoursRollup{}, fmt.Errorf("aggregate hours: %w", err)
	}
	var rows []struct {
		TotalHours float64 `bson:"total_hours"`
		AvgHours   float64 `bson:"avg_hours_per_streamer"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return HoursRollup{}, fmt.Errorf("decode hours rollup: %w", err)
	}
	if len(rows) == 0 {
		return HoursRollup{}, nil
	}
	return HoursRollup{TotalHours: rows[0].TotalHours, AvgHours: rows[0].AvgHours}, nil
}
