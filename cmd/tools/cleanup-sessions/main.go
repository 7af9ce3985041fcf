// Command cleanup-sessions force closes stale stream sessions directly
// against the analytics store, for operators running sweeps out of band.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
)

func main() {
	_ = godotenv.Load()

	driver := flag.String("analytics", "", "analytics driver (mongo or postgres)")
	mongoURL := flag.String("mongo-url", "", "MongoDB connection URL (defaults to MONGODB_URL)")
	mongoDatabase := flag.String("mongo-database", "", "MongoDB database name (defaults to MONGODB_DATABASE)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string (defaults to POSTGRES_DSN)")
	maxAge := flag.Duration("max-age", 24*time.Hour, "age after which an open session is force closed")
	backfill := flag.Bool("backfill", false, "also backfill stat snapshots for active sessions without one")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	driverValue := strings.ToLower(strings.TrimSpace(*driver))
	if driverValue == "" {
		driverValue = strings.ToLower(strings.TrimSpace(os.Getenv("ANALYTICS_DRIVER")))
	}

	var (
		store analytics.Store
		err   error
	)
	switch driverValue {
	case "mongo":
		store, err = analytics.NewMongoStore(analytics.MongoConfig{
			URL:      resolveSetting(*mongoURL, "MONGODB_URL", "mongodb://localhost:27017"),
			Database: resolveSetting(*mongoDatabase, "MONGODB_DATABASE", "twitch_analytics"),
		}, logger)
	case "postgres":
		dsn := resolveSetting(*postgresDSN, "POSTGRES_DSN", "")
		if dsn == "" {
			logger.Error("postgres DSN required", "hint", "set --postgres-dsn or POSTGRES_DSN")
			os.Exit(1)
		}
		store, err = analytics.NewPostgresStore(analytics.PostgresConfig{DSN: dsn}, logger)
	case "", "memory":
		logger.Error("a persistent analytics driver is required", "hint", "set --analytics mongo or --analytics postgres")
		os.Exit(1)
	default:
		logger.Error("unsupported analytics driver", "driver", driverValue)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to configure analytics store", "driver", driverValue, "error", err)
		os.Exit(1)
	}

	service := analytics.New(store, logger)
	ctx := context.Background()
	if err := service.Connect(ctx); err != nil {
		logger.Error("failed to connect analytics store", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Close(closeCtx)
	}()

	report, err := service.CleanupStaleSessions(ctx, *maxAge)
	if err != nil {
		logger.Error("failed to clean up stale sessions", "error", err)
		os.Exit(1)
	}
	for _, session := range report.Sessions {
		logger.Info("closed stale session",
			"session_id", session.SessionID,
			"login", session.BroadcasterLogin,
			"started_at", session.StartedAt,
			"hours_open", session.HoursOpen,
		)
	}
	logger.Info("cleanup completed", "deleted", report.DeletedCount, "max_age_hours", report.MaxAgeHours)

	if *backfill {
		updated, err := service.BackfillStatlessActives(ctx)
		if err != nil {
			logger.Error("failed to backfill snapshots", "error", err)
			os.Exit(1)
		}
		logger.Info("backfill completed", "sessions", updated)
	}
}

func resolveSetting(flagValue, envKey, fallback string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		return env
	}
	return fallback
}
