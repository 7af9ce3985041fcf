package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/api"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/logging"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr            string
	TLS             TLSConfig
	CORS            CORSConfig
	Security        SecurityConfig
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	metrics         *metrics.Recorder
	rateLimiter     *rateLimiter
	shutdownTimeout time.Duration
	tlsCertFile     string
	tlsKeyFile      string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handler.Root)
	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/webhooks/eventsub", handler.Webhook)
	mux.HandleFunc("/streamers", handler.Streamers)
	mux.HandleFunc("/streamers/", handler.StreamerByName)
	mux.HandleFunc("/streams/live", handler.LiveStreams)
	mux.HandleFunc("/events", handler.Events)
	mux.HandleFunc("/events/type/", handler.EventsByType)
	mux.HandleFunc("/events/streamer/", handler.EventsByStreamer)
	mux.HandleFunc("/analytics/summary", handler.AnalyticsSummary)
	mux.HandleFunc("/analytics/comprehensive-summary", handler.AnalyticsComprehensiveSummary)
	mux.HandleFunc("/analytics/streamer/", handler.AnalyticsStreamer)
	mux.HandleFunc("/analytics/top-streamers/hours", handler.AnalyticsTopStreamers)
	mux.HandleFunc("/analytics/snapshots", handler.AnalyticsSnapshots)
	mux.HandleFunc("/analytics/cleanup-sessions", handler.AnalyticsCleanupSessions)
	mux.HandleFunc("/analytics/fallback-detection", handler.AnalyticsFallbackDetection)
	mux.HandleFunc("/admin/cleanup-subscriptions", handler.AdminCleanupSubscriptions)
	mux.HandleFunc("/admin/subscriptions", handler.AdminSubscriptions)
	mux.HandleFunc("/admin/verify-subscriptions", handler.AdminVerifySubscriptions)
	mux.HandleFunc("/admin/reload-default-streamers", handler.AdminReloadDefaultStreamers)
	mux.HandleFunc("/admin/delete-all-subscriptions", handler.AdminDeleteAllSubscriptions)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = corsMiddleware(policy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            cfg.Logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, status int, duration time.Duration) []any {
			return []any{"remote_ip", extractClientIP(r)}
		},
	})(handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:      httpServer,
		logger:          cfg.Logger,
		metrics:         recorder,
		rateLimiter:     rl,
		shutdownTimeout: cfg.ShutdownTimeout,
		tlsCertFile:     strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:      strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests before
// returning. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: s.shutdownTimeout,
	})
}

// Close releases resources held by the middleware chain, such as the redis
// connection pool behind the webhook rate limiter.
func (s *Server) Close() error {
	if s.rateLimiter == nil {
		return nil
	}
	return s.rateLimiter.Close()
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/webhooks/eventsub" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowWebhook(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many webhook deliveries")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientIP resolves the delivering client address, trusting proxy
// headers in the order Cloudflare sets them.
func extractClientIP(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return strings.TrimSpace(cf)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
