package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pressconnect/internal/api"
	"pressconnect/internal/broadcast"
	"pressconnect/internal/credentials"
	"pressconnect/internal/identity"
	"pressconnect/internal/observability/metrics"
	"pressconnect/internal/storage"
)

type okProvider struct{}

func (okProvider) CreateBroadcast(ctx context.Context, token string, req broadcast.CreateBroadcastRequest) (broadcast.RemoteBroadcast, error) {
	return broadcast.RemoteBroadcast{ID: "bc-1", Title: req.Title, WatchURL: "https://example.com/watch?v=bc-1"}, nil
}

func (okProvider) CreateIngestStream(ctx context.Context, token string, req broadcast.CreateStreamRequest) (broadcast.RemoteStream, error) {
	return broadcast.RemoteStream{ID: "st-1", IngestURL: "rtmp://ingest.example.com/live", IngestKey: "key-1"}, nil
}

func (okProvider) BindBroadcastToStream(ctx context.Context, token, broadcastID, streamID string) error {
	return nil
}

func (okProvider) TransitionBroadcast(ctx context.Context, token, broadcastID, status string) error {
	return nil
}

func (okProvider) DeleteBroadcast(ctx context.Context, token, broadcastID string) error { return nil }

func (okProvider) DeleteIngestStream(ctx context.Context, token, streamID string) error { return nil }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	repo := storage.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	identitySvc, err := identity.NewService(repo, identity.Config{Secret: "server-test-secret"})
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	credStore := credentials.NewStore(repo)
	orch, err := broadcast.NewOrchestrator(broadcast.Config{
		Registry:    repo,
		Credentials: credStore,
		Provider:    okProvider{},
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("broadcast.NewOrchestrator: %v", err)
	}
	handler, err := api.NewHandler(api.Config{
		Identity:    identitySvc,
		Credentials: credStore,
		Broadcasts:  orch,
		Store:       repo,
		Logger:      logger,
		Metrics:     metrics.New(),
	})
	if err != nil {
		t.Fatalf("api.NewHandler: %v", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rr, req)
	return rr
}

func registerAccount(t *testing.T, srv *Server, username string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"password1"}`, username, username)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rr := serve(srv, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func TestEndToEndSessionFlow(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	token := registerAccount(t, srv, "pat")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/oauth/store",
		strings.NewReader(`{"accessToken":"ya29.tok","refreshToken":"ref","expiresIn":3600}`))
	req.Header.Set("Authorization", "Bearer "+token)
	if rr := serve(srv, req); rr.Code != http.StatusOK {
		t.Fatalf("store credential: status %d body %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/streams", strings.NewReader(`{"title":"Flow"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serve(srv, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create stream: status %d body %s", rr.Code, rr.Body.String())
	}
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/streams/"+descriptor.SessionKey+"/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rr := serve(srv, req); rr.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/streams/"+descriptor.SessionKey+"/end", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rr := serve(srv, req); rr.Code != http.StatusOK {
		t.Fatalf("end: status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	if rr := serve(srv, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", rr.Code)
	}
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	if rr := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pressconnect_active_sessions") {
		t.Fatalf("expected metrics exposition, got %q", rr.Body.String())
	}
	// The healthz request above passed through the middleware chain, so the
	// request counter must reflect it.
	if !strings.Contains(rr.Body.String(), `pressconnect_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected recorded healthz request, got %q", rr.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("unexpected X-Frame-Options %q", got)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("unexpected X-Content-Type-Options %q", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'self'") {
		t.Fatalf("unexpected CSP %q", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rr = serve(srv, req)
	if got := rr.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestCORSPolicy(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr: "127.0.0.1:0",
		CORS: CORSConfig{AllowedOrigins: []string{"https://studio.example.com"}},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/streams", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := serve(srv, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if rr := serve(srv, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rr.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})
	registerAccount(t, srv, "ratelimited")

	body := `{"username":"ratelimited","password":"wrong-password"}`
	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:4000"
		last = serve(srv, req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting login budget, got %d", last)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1},
	})

	first := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	second := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the bucket drained, got %d", second.Code)
	}
}
