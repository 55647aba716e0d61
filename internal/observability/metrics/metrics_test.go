package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	cases := []struct {
		name     string
		method   string
		path     string
		status   int
		expected string
	}{
		{name: "root path", method: "get", path: "/", status: 200, expected: "/"},
		{name: "empty path", method: "GET", path: "", status: 200, expected: "/"},
		{name: "numeric segment", method: "post", path: "/users/123", status: 201, expected: "/users/:id"},
		{name: "uuid segment", method: "GET", path: "/api/streams/0d9c7f2e4a5b6c7d8e9f0a1b", status: 200, expected: "/api/streams/:id"},
		{name: "trailing slash", method: "PATCH", path: "/api/streams/456/", status: 404, expected: "/api/streams/:id"},
	}

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, 10*time.Millisecond)
		if got := normalizePath(tc.path); got != tc.expected {
			t.Fatalf("%s: normalizePath(%q) = %q, want %q", tc.name, tc.path, got, tc.expected)
		}
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	for _, tc := range cases {
		line := fmt.Sprintf("pressconnect_http_requests_total{method=%q,path=%q,status=%q} 1", strings.ToUpper(tc.method), tc.expected, fmt.Sprintf("%d", tc.status))
		if !strings.Contains(body, line) {
			t.Fatalf("expected output to contain %q, got %q", line, body)
		}
	}
}

func TestSessionLifecycleCounters(t *testing.T) {
	recorder := New()

	recorder.SessionCreated()
	recorder.SessionCreated()
	recorder.SessionStarted()
	recorder.SessionEnded()

	if got := recorder.ActiveSessions(); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	// The gauge must not go negative even when ends outnumber creates.
	recorder.SessionEnded()
	recorder.SessionEnded()
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("expected gauge floor of 0, got %d", got)
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	for _, line := range []string{
		`pressconnect_session_events_total{event="created"} 2`,
		`pressconnect_session_events_total{event="started"} 1`,
		`pressconnect_session_events_total{event="ended"} 3`,
		"pressconnect_active_sessions 0",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected output to contain %q, got %q", line, body)
		}
	}
}

func TestProviderCounters(t *testing.T) {
	recorder := New()

	recorder.ObserveProviderCall("create_broadcast")
	recorder.ObserveProviderCall("create_broadcast")
	recorder.ObserveProviderCall("Bind ")
	recorder.ObserveProviderFailure("bind")

	attempts, failures := recorder.ProviderCounts()
	if attempts["create_broadcast"] != 2 {
		t.Fatalf("expected 2 create_broadcast attempts, got %d", attempts["create_broadcast"])
	}
	if attempts["bind"] != 1 || failures["bind"] != 1 {
		t.Fatalf("expected normalized bind counters, got attempts=%d failures=%d", attempts["bind"], failures["bind"])
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	if !strings.Contains(body, `pressconnect_provider_failures_total{operation="bind"} 1`) {
		t.Fatalf("expected bind failure line, got %q", body)
	}
	// Operations with attempts but no failures still report a zero failure count.
	if !strings.Contains(body, `pressconnect_provider_failures_total{operation="create_broadcast"} 0`) {
		t.Fatalf("expected zero failure line for create_broadcast, got %q", body)
	}
}

func TestAuthEventCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveAuthEvent("register")
	recorder.ObserveAuthEvent("LOGIN")
	recorder.ObserveAuthEvent("login")
	recorder.ObserveAuthEvent("")

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()
	for _, line := range []string{
		`pressconnect_auth_events_total{event="login"} 2`,
		`pressconnect_auth_events_total{event="register"} 1`,
		`pressconnect_auth_events_total{event="unknown"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected output to contain %q, got %q", line, body)
		}
	}
}

func TestRecorderConcurrentWrites(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				recorder.SessionCreated()
				recorder.ObserveRequest("GET", "/api/streams", 200, time.Millisecond)
				recorder.SessionEnded()
			}
		}()
	}
	wg.Wait()

	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("expected balanced gauge, got %d", got)
	}
	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), `pressconnect_http_requests_total{method="GET",path="/api/streams",status="200"} 1600`) {
		t.Fatalf("expected 1600 requests recorded, got %q", buf.String())
	}
}

func TestResetClearsState(t *testing.T) {
	recorder := New()
	recorder.SessionCreated()
	recorder.ObserveRequest("GET", "/", 200, time.Millisecond)
	recorder.ObserveAuthEvent("login")

	recorder.Reset()

	if recorder.ActiveSessions() != 0 {
		t.Fatalf("expected reset gauge, got %d", recorder.ActiveSessions())
	}
	var buf bytes.Buffer
	recorder.Write(&buf)
	if strings.Contains(buf.String(), "login") {
		t.Fatalf("expected counters cleared, got %q", buf.String())
	}
}

func TestHandlerContentType(t *testing.T) {
	recorder := New()
	rr := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Body.String(), "pressconnect_active_sessions 0") {
		t.Fatalf("expected gauge in output, got %q", rr.Body.String())
	}
}
