package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// SubscriptionOpLabel identifies an EventSub subscription management call by
// the operation performed and its outcome.
type SubscriptionOpLabel struct {
	Operation string
	Outcome   string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, webhook
// deliveries, poll cycles, stream session lifecycle, subscription management,
// and backend health. It coordinates concurrent writers via a RWMutex while
// exposing a thread-safe gauge for open session tracking.
type Recorder struct {
	mu                 sync.RWMutex
	requestCount       map[requestLabel]uint64
	requestDuration    map[requestLabel]time.Duration
	webhookEvents      map[string]uint64
	webhookRejections  map[string]uint64
	pollResults        map[string]uint64
	sessionEvents      map[string]uint64
	openSessions       atomic.Int64
	snapshots          atomic.Uint64
	subscriptionOps    map[SubscriptionOpLabel]uint64
	sweepDeletions     map[string]uint64
	backendHealthValue map[string]float64
	backendHealthState map[string]string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:       make(map[requestLabel]uint64),
		requestDuration:    make(map[requestLabel]time.Duration),
		webhookEvents:      make(map[string]uint64),
		webhookRejections:  make(map[string]uint64),
		pollResults:        make(map[string]uint64),
		sessionEvents:      make(map[string]uint64),
		subscriptionOps:    make(map[SubscriptionOpLabel]uint64),
		sweepDeletions:     make(map[string]uint64),
		backendHealthValue: make(map[string]float64),
		backendHealthState: make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveWebhookEvent records a verified webhook notification keyed by its
// EventSub subscription type.
func (r *Recorder) ObserveWebhookEvent(eventType string) {
	name := normalizeName(eventType)
	r.mu.Lock()
	r.webhookEvents[name]++
	r.mu.Unlock()
}

// ObserveWebhookRejected records a webhook delivery rejected before dispatch,
// keyed by reason (e.g., "signature", "body", "payload").
func (r *Recorder) ObserveWebhookRejected(reason string) {
	name := normalizeName(reason)
	r.mu.Lock()
	r.webhookRejections[name]++
	r.mu.Unlock()
}

// ObservePollUpdate records the outcome of a single streamer status check in a
// poll cycle: "accepted", "suppressed", "skipped", or "failed".
func (r *Recorder) ObservePollUpdate(result string) {
	name := normalizeName(result)
	r.mu.Lock()
	r.pollResults[name]++
	r.mu.Unlock()
}

// SessionOpened records a stream session start and increments the open session
// gauge atomically so concurrent broadcasts remain consistent.
func (r *Recorder) SessionOpened() {
	r.incrementSessionEvent("opened")
	r.openSessions.Add(1)
}

// SessionClosed records a stream session end and decrements the open session
// gauge, guarding against negative counts when concurrent updates race.
func (r *Recorder) SessionClosed() {
	r.incrementSessionEvent("closed")
	r.decrementGauge(&r.openSessions)
}

func (r *Recorder) incrementSessionEvent(event string) {
	name := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[name]++
	r.mu.Unlock()
}

// SnapshotCaptured records a viewer snapshot persisted during polling.
func (r *Recorder) SnapshotCaptured() {
	r.snapshots.Add(1)
}

// ObserveSubscriptionOp records an EventSub subscription management call keyed
// by operation ("create", "delete", "validate", "cleanup") and outcome.
func (r *Recorder) ObserveSubscriptionOp(operation, outcome string) {
	label := SubscriptionOpLabel{
		Operation: normalizeName(operation),
		Outcome:   normalizeName(outcome),
	}
	r.mu.Lock()
	r.subscriptionOps[label]++
	r.mu.Unlock()
}

// ObserveSweepDeletions adds the number of sessions removed by a cleanup sweep
// keyed by mode ("routine" or "aggressive").
func (r *Recorder) ObserveSweepDeletions(mode string, count int) {
	if count <= 0 {
		return
	}
	name := normalizeName(mode)
	r.mu.Lock()
	r.sweepDeletions[name] += uint64(count)
	r.mu.Unlock()
}

// OpenSessions exposes the current gauge of sessions without an end time.
func (r *Recorder) OpenSessions() int64 {
	return r.openSessions.Load()
}

// Snapshots exposes the total number of viewer snapshots captured.
func (r *Recorder) Snapshots() uint64 {
	return r.snapshots.Load()
}

// SetBackendHealth normalizes backend identifiers, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetBackendHealth(backend, status string) {
	normalizedBackend := strings.ToLower(strings.TrimSpace(backend))
	if normalizedBackend == "" {
		normalizedBackend = "unknown"
	}
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy", "connected":
		value = 1
	case "disabled", "memory":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.backendHealthValue[normalizedBackend] = value
	r.backendHealthState[normalizedBackend] = normalizedStatus
	r.mu.Unlock()
}

// WebhookCounts returns copies of webhook event and rejection counters for
// testing and reporting purposes.
func (r *Recorder) WebhookCounts() (events map[string]uint64, rejections map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.webhookEvents))
	for k, v := range r.webhookEvents {
		events[k] = v
	}
	rejections = make(map[string]uint64, len(r.webhookRejections))
	for k, v := range r.webhookRejections {
		rejections[k] = v
	}
	return events, rejections
}

// SubscriptionOpCounts returns a copy of the subscription operation counters.
func (r *Recorder) SubscriptionOpCounts() map[SubscriptionOpLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make(map[SubscriptionOpLabel]uint64, len(r.subscriptionOps))
	for k, v := range r.subscriptionOps {
		ops[k] = v
	}
	return ops
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.webhookEvents = make(map[string]uint64)
	r.webhookRejections = make(map[string]uint64)
	r.pollResults = make(map[string]uint64)
	r.sessionEvents = make(map[string]uint64)
	r.subscriptionOps = make(map[SubscriptionOpLabel]uint64)
	r.sweepDeletions = make(map[string]uint64)
	r.backendHealthValue = make(map[string]float64)
	r.backendHealthState = make(map[string]string)
	r.openSessions.Store(0)
	r.snapshots.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	webhookEvents := sortedKeys(r.webhookEvents)
	webhookRejections := sortedKeys(r.webhookRejections)
	pollResults := sortedKeys(r.pollResults)
	sessionEvents := sortedKeys(r.sessionEvents)
	subscriptionOps := r.sortedSubscriptionOpLabels()
	sweepModes := sortedKeys(r.sweepDeletions)
	backends := sortedHealthKeys(r.backendHealthValue)

	fmt.Fprintln(w, "# HELP eventsub_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE eventsub_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "eventsub_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP eventsub_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE eventsub_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "eventsub_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP eventsub_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE eventsub_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "eventsub_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP eventsub_webhook_events_total Verified webhook notifications by subscription type")
	fmt.Fprintln(w, "# TYPE eventsub_webhook_events_total counter")
	for _, event := range webhookEvents {
		value := r.webhookEvents[event]
		fmt.Fprintf(w, "eventsub_webhook_events_total{type=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP eventsub_webhook_rejected_total Webhook deliveries rejected before dispatch by reason")
	fmt.Fprintln(w, "# TYPE eventsub_webhook_rejected_total counter")
	for _, reason := range webhookRejections {
		value := r.webhookRejections[reason]
		fmt.Fprintf(w, "eventsub_webhook_rejected_total{reason=\"%s\"} %d\n", reason, value)
	}

	fmt.Fprintln(w, "# HELP eventsub_poll_updates_total Poll cycle status decisions by result")
	fmt.Fprintln(w, "# TYPE eventsub_poll_updates_total counter")
	for _, result := range pollResults {
		value := r.pollResults[result]
		fmt.Fprintf(w, "eventsub_poll_updates_total{result=\"%s\"} %d\n", result, value)
	}

	fmt.Fprintln(w, "# HELP eventsub_stream_sessions_total Stream session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE eventsub_stream_sessions_total counter")
	for _, event := range sessionEvents {
		value := r.sessionEvents[event]
		fmt.Fprintf(w, "eventsub_stream_sessions_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP eventsub_open_stream_sessions Current number of sessions without an end time")
	fmt.Fprintln(w, "# TYPE eventsub_open_stream_sessions gauge")
	fmt.Fprintf(w, "eventsub_open_stream_sessions %d\n", r.openSessions.Load())

	fmt.Fprintln(w, "# HELP eventsub_snapshots_total Viewer snapshots captured during polling")
	fmt.Fprintln(w, "# TYPE eventsub_snapshots_total counter")
	fmt.Fprintf(w, "eventsub_snapshots_total %d\n", r.snapshots.Load())

	fmt.Fprintln(w, "# HELP eventsub_subscription_requests_total EventSub subscription management calls by operation and outcome")
	fmt.Fprintln(w, "# TYPE eventsub_subscription_requests_total counter")
	for _, label := range subscriptionOps {
		count := r.subscriptionOps[label]
		fmt.Fprintf(w, "eventsub_subscription_requests_total{operation=\"%s\",outcome=\"%s\"} %d\n", label.Operation, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP eventsub_session_sweep_deleted_total Stale sessions removed by cleanup sweeps by mode")
	fmt.Fprintln(w, "# TYPE eventsub_session_sweep_deleted_total counter")
	for _, mode := range sweepModes {
		count := r.sweepDeletions[mode]
		fmt.Fprintf(w, "eventsub_session_sweep_deleted_total{mode=\"%s\"} %d\n", mode, count)
	}

	fmt.Fprintln(w, "# HELP eventsub_backend_health Health status reported by storage backends (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE eventsub_backend_health gauge")
	for _, backend := range backends {
		value := r.backendHealthValue[backend]
		status := r.backendHealthState[backend]
		fmt.Fprintf(w, "eventsub_backend_health{backend=\"%s\",status=\"%s\"} %f\n", backend, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedSubscriptionOpLabels() []SubscriptionOpLabel {
	labels := make([]SubscriptionOpLabel, 0, len(r.subscriptionOps))
	for label := range r.subscriptionOps {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Operation != labels[j].Operation {
			return labels[i].Operation < labels[j].Operation
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedHealthKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses route parameters so the label space stays bounded:
// numeric segments become :id and segments following a streamer path component
// become :login.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if isNumericSegment(part) {
			parts[i] = ":id"
			continue
		}
		if i > 0 && isLoginParent(parts[i-1]) {
			parts[i] = ":login"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func isNumericSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLoginParent(segment string) bool {
	switch segment {
	case "streamers", "streamer", "status":
		return true
	}
	return false
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveWebhookEvent records a webhook notification on the default recorder.
func ObserveWebhookEvent(eventType string) {
	defaultRecorder.ObserveWebhookEvent(eventType)
}

// ObserveWebhookRejected records a rejected delivery on the default recorder.
func ObserveWebhookRejected(reason string) {
	defaultRecorder.ObserveWebhookRejected(reason)
}

// ObservePollUpdate records a poll decision on the default recorder.
func ObservePollUpdate(result string) {
	defaultRecorder.ObservePollUpdate(result)
}

// SessionOpened increments counters on the default recorder.
func SessionOpened() {
	defaultRecorder.SessionOpened()
}

// SessionClosed decrements open sessions on the default recorder.
func SessionClosed() {
	defaultRecorder.SessionClosed()
}

// SnapshotCaptured records a snapshot on the default recorder.
func SnapshotCaptured() {
	defaultRecorder.SnapshotCaptured()
}

// ObserveSubscriptionOp records a subscription call on the default recorder.
func ObserveSubscriptionOp(operation, outcome string) {
	defaultRecorder.ObserveSubscriptionOp(operation, outcome)
}

// ObserveSweepDeletions records sweep removals on the default recorder.
func ObserveSweepDeletions(mode string, count int) {
	defaultRecorder.ObserveSweepDeletions(mode, count)
}

// SetBackendHealth updates backend health for the default recorder.
func SetBackendHealth(backend, status string) {
	defaultRecorder.SetBackendHealth(backend, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
