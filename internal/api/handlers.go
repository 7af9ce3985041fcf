package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/logging"
	"github.com/mja00/twitch-eventsub-rest/internal/observability/metrics"
	"github.com/mja00/twitch-eventsub-rest/internal/storage"
	"github.com/mja00/twitch-eventsub-rest/internal/streamers"
	"github.com/mja00/twitch-eventsub-rest/internal/subscriptions"
)

// Config carries the collaborators a Handler needs. Streamers, Analytics,
// Subscriptions, Store, and WebhookSecret are required.
type Config struct {
	Streamers     *streamers.Manager
	Analytics     *analytics.Service
	Subscriptions *subscriptions.Manager
	Store         storage.Store
	WebhookSecret string
	WebhookURL    string
	RequireAPIKey bool
	APIKey        string
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Handler bundles every HTTP endpoint the service exposes.
type Handler struct {
	streamers     *streamers.Manager
	analytics     *analytics.Service
	subscriptions *subscriptions.Manager
	store         storage.Store
	webhookSecret string
	webhookURL    string
	requireKey    bool
	apiKey        string
	logger        *slog.Logger
	metrics       *metrics.Recorder
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Streamers == nil {
		return nil, errors.New("api: streamer manager is required")
	}
	if cfg.Analytics == nil {
		return nil, errors.New("api: analytics service is required")
	}
	if cfg.Subscriptions == nil {
		return nil, errors.New("api: subscription manager is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("api: webhook secret is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Handler{
		streamers:     cfg.Streamers,
		analytics:     cfg.Analytics,
		subscriptions: cfg.Subscriptions,
		store:         cfg.Store,
		webhookSecret: cfg.WebhookSecret,
		webhookURL:    cfg.WebhookURL,
		requireKey:    cfg.RequireAPIKey,
		apiKey:        cfg.APIKey,
		logger:        logger,
		metrics:       recorder,
	}, nil
}

// requestLogger returns the request-scoped logger installed by the server
// middleware so handler logs carry the request ID, falling back to the
// handler's own logger.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(r.Context()); ctxLogger != nil {
		return ctxLogger
	}
	return h.logger
}

// RequestError carries an HTTP status alongside the message written to the
// client. Middleware uses it to emit error bodies in the API shape.
type RequestError struct {
	Status  int
	Message string
}

func (e RequestError) Error() string { return e.Message }

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// queryLimit reads an integer query parameter, applies the default when the
// parameter is absent, and clamps out-of-range values to the given bounds.
func queryLimit(r *http.Request, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value", name)
	}
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return value, nil
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Twitch EventSub REST API"})
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	ctx := r.Context()
	overall := "ok"
	statusCode := http.StatusOK
	record := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overall = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		h.metrics.SetBackendHealth(component, status)
		return componentStatus{Component: component, Status: status, Error: message}
	}

	services := []componentStatus{
		record("event_store", h.store.Ping(ctx)),
		record("analytics_store", h.analytics.Ping(ctx)),
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"status":   overall,
		"services": services,
	})
}
