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

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// session lifecycle events, provider API calls, and authentication activity.
// It coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for active session tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	sessionEvents    map[string]uint64
	providerAttempts map[string]uint64
	providerFailures map[string]uint64
	authEvents       map[string]uint64
	activeSessions   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		sessionEvents:    make(map[string]uint64),
		providerAttempts: make(map[string]uint64),
		providerFailures: make(map[string]uint64),
		authEvents:       make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared across helper functions for
// packages that do not require custom instrumentation pipelines.
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

// SessionCreated records a session provisioning event and increments the
// active session gauge.
func (r *Recorder) SessionCreated() {
	r.incrementSessionEvent("created")
	r.activeSessions.Add(1)
}

// SessionStarted records a session going live.
func (r *Recorder) SessionStarted() {
	r.incrementSessionEvent("started")
}

// SessionEnded records a session reaching its terminal state and decrements
// the active session gauge, guarding against negative counts when concurrent
// updates race.
func (r *Recorder) SessionEnded() {
	r.incrementSessionEvent("ended")
	r.decrementGauge(&r.activeSessions)
}

// SessionDeleted records the removal of a session record.
func (r *Recorder) SessionDeleted() {
	r.incrementSessionEvent("deleted")
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveProviderCall records a remote provider operation attempt keyed by
// operation name (e.g., "create_broadcast", "bind", "transition").
func (r *Recorder) ObserveProviderCall(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.providerAttempts[op]++
	r.mu.Unlock()
}

// ObserveProviderFailure records a failed provider operation keyed by
// operation name. The caller should also record the attempt separately.
func (r *Recorder) ObserveProviderFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.providerFailures[op]++
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication event type, such as "register",
// "login", "login_failed", or "credential_stored".
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of non-ended sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ProviderCounts returns copies of the provider attempt and failure counters
// for testing and reporting purposes.
func (r *Recorder) ProviderCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.providerAttempts))
	for k, v := range r.providerAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.providerFailures))
	for k, v := range r.providerFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.sessionEvents = make(map[string]uint64)
	r.providerAttempts = make(map[string]uint64)
	r.providerFailures = make(map[string]uint64)
	r.authEvents = make(map[string]uint64)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	sessionEvents := sortedKeys(r.sessionEvents)
	providerOps := r.sortedProviderOperations()
	authEvents := sortedKeys(r.authEvents)

	fmt.Fprintln(w, "# HELP pressconnect_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE pressconnect_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "pressconnect_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP pressconnect_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE pressconnect_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "pressconnect_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP pressconnect_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE pressconnect_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "pressconnect_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP pressconnect_session_events_total Session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE pressconnect_session_events_total counter")
	for _, event := range sessionEvents {
		value := r.sessionEvents[event]
		fmt.Fprintf(w, "pressconnect_session_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP pressconnect_active_sessions Current number of sessions that have not ended")
	fmt.Fprintln(w, "# TYPE pressconnect_active_sessions gauge")
	fmt.Fprintf(w, "pressconnect_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP pressconnect_provider_calls_total Total provider API operations attempted by action")
	fmt.Fprintln(w, "# TYPE pressconnect_provider_calls_total counter")
	for _, op := range providerOps {
		count := r.providerAttempts[op]
		fmt.Fprintf(w, "pressconnect_provider_calls_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP pressconnect_provider_failures_total Total provider API operation failures by action")
	fmt.Fprintln(w, "# TYPE pressconnect_provider_failures_total counter")
	for _, op := range providerOps {
		count := r.providerFailures[op]
		fmt.Fprintf(w, "pressconnect_provider_failures_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP pressconnect_auth_events_total Authentication events by type")
	fmt.Fprintln(w, "# TYPE pressconnect_auth_events_total counter")
	for _, event := range authEvents {
		count := r.authEvents[event]
		fmt.Fprintf(w, "pressconnect_auth_events_total{event=\"%s\"} %d\n", event, count)
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

func (r *Recorder) sortedProviderOperations() []string {
	seen := make(map[string]struct{}, len(r.providerAttempts)+len(r.providerFailures))
	for op := range r.providerAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.providerFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
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

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
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

// SessionCreated increments counters on the default recorder.
func SessionCreated() {
	defaultRecorder.SessionCreated()
}

// SessionEnded decrements active sessions on the default recorder.
func SessionEnded() {
	defaultRecorder.SessionEnded()
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
