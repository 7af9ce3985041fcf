package main

import (
	"net/url"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/server"
)

// startupSummaryInput collects the resolved configuration that is worth
// echoing at boot. Credentials never appear here; DSNs are redacted before
// logging.
type startupSummaryInput struct {
	ListenAddr       string
	TLSEnabled       bool
	EventStoreDriver string
	RedisURL         string
	AnalyticsDriver  string
	MongoURL         string
	MongoDatabase    string
	PostgresDSN      string
	CallbackURL      string
	DefaultStreamers int
	RequireAPIKey    bool
	PollInterval     time.Duration
	SweepInterval    time.Duration
	SessionMaxAge    time.Duration
	RateLimit        server.RateLimitConfig
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	return startupSummary{input: input}
}

// LogArgs renders the summary as slog key/value pairs grouped by concern.
func (s startupSummary) LogArgs() []any {
	in := s.input

	listen := map[string]any{
		"addr": in.ListenAddr,
		"tls":  in.TLSEnabled,
	}

	eventStore := map[string]any{"driver": in.EventStoreDriver}
	if in.EventStoreDriver == "redis" {
		eventStore["url"] = redactDSN(in.RedisURL)
	}

	analyticsStore := map[string]any{"driver": in.AnalyticsDriver}
	switch in.AnalyticsDriver {
	case "mongo":
		analyticsStore["url"] = redactDSN(in.MongoURL)
		analyticsStore["database"] = in.MongoDatabase
	case "postgres":
		analyticsStore["dsn"] = redactDSN(in.PostgresDSN)
	}

	webhook := map[string]any{
		"callback":          in.CallbackURL,
		"default_streamers": in.DefaultStreamers,
		"api_key_required":  in.RequireAPIKey,
	}

	workers := map[string]any{
		"poll_interval":   in.PollInterval.String(),
		"sweep_interval":  in.SweepInterval.String(),
		"session_max_age": in.SessionMaxAge.String(),
	}

	throttle := map[string]any{"driver": "memory"}
	if in.RateLimit.RedisAddr != "" {
		throttle["driver"] = "redis"
		throttle["addr"] = in.RateLimit.RedisAddr
	}
	if in.RateLimit.WebhookLimit > 0 {
		throttle["webhook_limit"] = in.RateLimit.WebhookLimit
		throttle["webhook_window"] = in.RateLimit.WebhookWindow.String()
	}

	return []any{
		"listen", listen,
		"event_store", eventStore,
		"analytics", analyticsStore,
		"webhook", webhook,
		"workers", workers,
		"webhook_throttle", throttle,
	}
}

// redactDSN masks the password component of a connection URL so summaries can
// be logged verbatim. Values that do not parse as URLs are hidden entirely.
func redactDSN(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "(redacted)"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "*****")
		}
	}
	return parsed.String()
}
