// Command server starts the Twitch EventSub ingestion API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/api"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/logging"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/server"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/streamers"
	"github.com/mja00/twitch-eventsub-rest/internal/subscriptions"
	"github.com/mja00/twitch-eventsub-rest/internal/twitch"
)

func main() {
	// A local .env file is loaded before any env fallbacks are read.
	_ = godotenv.Load()

	listen := flag.String("listen", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	clientID := flag.String("client-id", "", "Twitch application client ID")
	clientSecret := flag.String("client-secret", "", "Twitch application client secret")
	webhookSecret := flag.String("webhook-secret", "", "shared secret for EventSub signature verification")
	webhookURL := flag.String("webhook-url", "", "public HTTPS callback URL registered with Twitch")
	storageDriver := flag.String("storage", "", "event store driver (memory or redis)")
	redisURL := flag.String("redis-url", "", "Redis connection URL for the event store")
	analyticsDriver := flag.String("analytics", "", "analytics driver (memory, mongo, or postgres)")
	mongoURL := flag.String("mongo-url", "", "MongoDB connection URL for analytics")
	mongoDatabase := flag.String("mongo-database", "", "MongoDB database name for analytics")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for analytics")
	defaultStreamers := flag.String("default-streamers", "", "comma separated logins tracked at startup")
	requireAPIKey := flag.Bool("require-api-key", false, "require a bearer API key on management endpoints")
	apiKey := flag.String("api-key", "", "API key accepted when enforcement is enabled")
	pollInterval := flag.Duration("poll-interval", 0, "interval between Helix status reconciliation passes")
	statusStaleAfter := flag.Duration("status-stale-after", 0, "age after which a cached status is refreshed from Helix")
	offlineSuppression := flag.Duration("offline-suppression", 0, "window for ignoring offline events after a session ends")
	sweepInterval := flag.Duration("sweep-interval", 0, "interval between stale session sweeps")
	sessionMaxAge := flag.Duration("session-max-age", 0, "age after which an open session is force closed")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "grace period for in-flight requests during shutdown")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	webhookLimit := flag.Int("rate-webhook-limit", 0, "maximum webhook deliveries per window for a single IP")
	webhookWindow := flag.Duration("rate-webhook-window", 0, "window for counting webhook deliveries")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed webhook throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed webhook throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limit Redis operations")
	rateRedisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate for webhook throttling")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed for CORS, * allows any")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*listen, os.Getenv("LISTEN_ADDR"), ":8000")
	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("TLS_CERT_FILE"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("TLS_KEY_FILE"))

	clientIDValue := firstNonEmpty(*clientID, os.Getenv("TWITCH_CLIENT_ID"))
	clientSecretValue := firstNonEmpty(*clientSecret, os.Getenv("TWITCH_CLIENT_SECRET"))
	webhookSecretValue := firstNonEmpty(*webhookSecret, os.Getenv("WEBHOOK_SECRET"))

	callbackURL, err := resolveCallbackURL(*webhookURL, os.Getenv("WEBHOOK_URL"))
	if err != nil {
		logger.Error("invalid webhook url", "error", err)
		os.Exit(1)
	}

	if missing := missingSettings([]requiredSetting{
		{"TWITCH_CLIENT_ID", clientIDValue},
		{"TWITCH_CLIENT_SECRET", clientSecretValue},
		{"WEBHOOK_SECRET", webhookSecretValue},
		{"WEBHOOK_URL", callbackURL},
	}); len(missing) > 0 {
		logger.Error("missing required configuration", "settings", strings.Join(missing, ", "))
		os.Exit(1)
	}

	requireKey := resolveBool(*requireAPIKey, "REQUIRE_API_KEY")
	apiKeyValue := firstNonEmpty(*apiKey, os.Getenv("API_KEY"))
	if requireKey && apiKeyValue == "" {
		logger.Error("api key enforcement enabled without API_KEY")
		os.Exit(1)
	}

	eventStoreDriver, err := resolveEventStoreDriver(*storageDriver, os.Getenv("STORAGE_TYPE"))
	if err != nil {
		logger.Error("failed to resolve event store driver", "error", err)
		os.Exit(1)
	}
	redisURLValue := firstNonEmpty(*redisURL, os.Getenv("REDIS_URL"), "redis://localhost:6379")

	analyticsDriverValue, err := resolveAnalyticsDriver(*analyticsDriver, os.Getenv("ANALYTICS_DRIVER"))
	if err != nil {
		logger.Error("failed to resolve analytics driver", "error", err)
		os.Exit(1)
	}
	mongoURLValue := firstNonEmpty(*mongoURL, os.Getenv("MONGODB_URL"), "mongodb://localhost:27017")
	mongoDatabaseValue := firstNonEmpty(*mongoDatabase, os.Getenv("MONGODB_DATABASE"), "twitch_analytics")
	postgresDSNValue := firstNonEmpty(*postgresDSN, os.Getenv("POSTGRES_DSN"))
	if analyticsDriverValue == "postgres" && postgresDSNValue == "" {
		logger.Error("postgres analytics selected without DSN")
		os.Exit(1)
	}

	defaultStreamerLogins := splitAndTrim(firstNonEmpty(*defaultStreamers, os.Getenv("DEFAULT_STREAMERS")))

	pollIntervalValue := resolveDuration(*pollInterval, "POLL_INTERVAL", 5*time.Minute)
	staleAfterValue := resolveDuration(*statusStaleAfter, "STATUS_STALE_AFTER", 10*time.Minute)
	offlineSuppressionValue := resolveDuration(*offlineSuppression, "OFFLINE_SUPPRESSION_WINDOW", 15*time.Minute)
	sweepIntervalValue := resolveDuration(*sweepInterval, "SWEEP_INTERVAL", time.Hour)
	sessionMaxAgeValue := resolveDuration(*sessionMaxAge, "SESSION_MAX_AGE", 24*time.Hour)
	shutdownTimeoutValue := resolveDuration(*shutdownTimeout, "SHUTDOWN_TIMEOUT", 10*time.Second)

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "RATE_GLOBAL_BURST"),
		WebhookLimit:  resolveInt(*webhookLimit, "RATE_WEBHOOK_LIMIT"),
		WebhookWindow: resolveDuration(*webhookWindow, "RATE_WEBHOOK_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "RATE_REDIS_TIMEOUT", 2*time.Second),
		RedisTLS: server.RedisTLSConfig{
			CAFile: firstNonEmpty(*rateRedisTLSCA, os.Getenv("RATE_REDIS_TLS_CA")),
		},
	}

	corsOriginsValue := splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CORS_ALLOWED_ORIGINS"), "*"))

	twitchClient := twitch.New(twitch.Config{
		ClientID:      clientIDValue,
		ClientSecret:  clientSecretValue,
		WebhookURL:    callbackURL,
		WebhookSecret: webhookSecretValue,
	})

	var store storage.Store
	switch eventStoreDriver {
	case "memory":
		store = storage.NewMemoryStore()
	case "redis":
		redisStore, err := storage.NewRedisStore(storage.RedisConfig{URL: redisURLValue})
		if err != nil {
			logger.Error("failed to configure redis event store", "error", err)
			os.Exit(1)
		}
		store = redisStore
	default:
		logger.Error("unsupported event store driver", "driver", eventStoreDriver)
		os.Exit(1)
	}

	analyticsLogger := logging.WithComponent(logger, "analytics")
	var analyticsStore analytics.Store
	switch analyticsDriverValue {
	case "memory":
		analyticsStore = analytics.NewMemoryStore()
	case "mongo":
		mongoStore, err := analytics.NewMongoStore(analytics.MongoConfig{
			URL:      mongoURLValue,
			Database: mongoDatabaseValue,
		}, analyticsLogger)
		if err != nil {
			logger.Error("failed to configure mongo analytics store", "error", err)
			os.Exit(1)
		}
		analyticsStore = mongoStore
	case "postgres":
		postgresStore, err := analytics.NewPostgresStore(analytics.PostgresConfig{DSN: postgresDSNValue}, analyticsLogger)
		if err != nil {
			logger.Error("failed to configure postgres analytics store", "error", err)
			os.Exit(1)
		}
		analyticsStore = postgresStore
	default:
		logger.Error("unsupported analytics driver", "driver", analyticsDriverValue)
		os.Exit(1)
	}
	analyticsService := analytics.New(analyticsStore, analyticsLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Connect(ctx); err != nil {
		logger.Error("failed to connect event store", "driver", eventStoreDriver, "error", err)
		os.Exit(1)
	}
	if err := analyticsService.Connect(ctx); err != nil {
		logger.Error("failed to connect analytics store", "driver", analyticsDriverValue, "error", err)
		os.Exit(1)
	}

	subsManager, err := subscriptions.NewManager(subscriptions.Config{
		API:         twitchClient,
		Store:       store,
		CallbackURL: callbackURL,
		Logger:      logging.WithComponent(logger, "subscriptions"),
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise subscription manager", "error", err)
		os.Exit(1)
	}

	streamersManager, err := streamers.NewManager(streamers.Config{
		Store:              store,
		Analytics:          analyticsService,
		Twitch:             twitchClient,
		Subscriptions:      subsManager,
		DefaultStreamers:   defaultStreamerLogins,
		StaleAfter:         staleAfterValue,
		OfflineSuppression: offlineSuppressionValue,
		Logger:             logging.WithComponent(logger, "streamers"),
		Metrics:            recorder,
	})
	if err != nil {
		logger.Error("failed to initialise streamer manager", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewHandler(api.Config{
		Streamers:     streamersManager,
		Analytics:     analyticsService,
		Subscriptions: subsManager,
		Store:         store,
		WebhookSecret: webhookSecretValue,
		WebhookURL:    callbackURL,
		RequireAPIKey: requireKey,
		APIKey:        apiKeyValue,
		Logger:        logging.WithComponent(logger, "api"),
		Metrics:       recorder,
	})
	if err != nil {
		logger.Error("failed to initialise api handler", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr:            listenAddr,
		TLS:             server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		CORS:            server.CORSConfig{AllowedOrigins: corsOriginsValue},
		RateLimit:       rateCfg,
		ShutdownTimeout: shutdownTimeoutValue,
		Logger:          logger,
		Metrics:         recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	summary := newStartupSummary(startupSummaryInput{
		ListenAddr:       listenAddr,
		TLSEnabled:       tlsCertPath != "" && tlsKeyPath != "",
		EventStoreDriver: eventStoreDriver,
		RedisURL:         redisURLValue,
		AnalyticsDriver:  analyticsDriverValue,
		MongoURL:         mongoURLValue,
		MongoDatabase:    mongoDatabaseValue,
		PostgresDSN:      postgresDSNValue,
		CallbackURL:      callbackURL,
		DefaultStreamers: len(defaultStreamerLogins),
		RequireAPIKey:    requireKey,
		PollInterval:     pollIntervalValue,
		SweepInterval:    sweepIntervalValue,
		SessionMaxAge:    sessionMaxAgeValue,
		RateLimit:        rateCfg,
	})
	logger.Info("twitch eventsub api starting", summary.LogArgs()...)
	logger.Info("metrics endpoint available", "path", "/metrics")

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Subscription repair and status backfill run behind the listener so a
	// slow Helix call never delays webhook availability.
	go func() {
		bootLogger := logging.WithComponent(logger, "bootstrap")
		streamersManager.AddDefaults(workerCtx)
		if fixed, err := subsManager.ValidateAll(workerCtx); err != nil {
			bootLogger.Warn("subscription validation failed", "error", err)
		} else if fixed > 0 {
			bootLogger.Info("repaired eventsub subscriptions", "fixed", fixed)
		}
		if err := streamersManager.InitializeStatuses(workerCtx); err != nil {
			bootLogger.Warn("status initialization failed", "error", err)
		}
	}()

	pollStop := startStatusPollWorker(workerCtx, logging.WithComponent(logger, "poller"), streamersManager, pollIntervalValue)
	defer pollStop()
	sweepStop := startSessionSweepWorker(workerCtx, logging.WithComponent(logger, "sweeper"), analyticsService, recorder, sweepIntervalValue, sessionMaxAgeValue)
	defer sweepStop()

	runErr := srv.Run(ctx)

	workerCancel()
	pollStop()
	sweepStop()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeoutValue)
	defer cancelClose()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close event store", "error", err)
	}
	if err := analyticsService.Close(closeCtx); err != nil {
		logger.Warn("failed to close analytics store", "error", err)
	}
	if err := srv.Close(); err != nil {
		logger.Warn("failed to release server resources", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type requiredSetting struct {
	Name  string
	Value string
}

func missingSettings(settings []requiredSetting) []string {
	var missing []string
	for _, setting := range settings {
		if strings.TrimSpace(setting.Value) == "" {
			missing = append(missing, setting.Name)
		}
	}
	return missing
}

func resolveCallbackURL(flagValue, envValue string) (string, error) {
	raw := strings.TrimSpace(firstNonEmpty(flagValue, envValue))
	if raw == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse webhook url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("webhook url must include scheme and host")
	}
	return raw, nil
}

func resolveEventStoreDriver(flagValue, envValue string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch driver {
	case "":
		return "memory", nil
	case "memory", "redis":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported event store driver %q", driver)
	}
}

func resolveAnalyticsDriver(flagValue, envValue string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch driver {
	case "":
		return "memory", nil
	case "memory", "mongo", "postgres":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported analytics driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
