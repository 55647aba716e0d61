package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pressconnect/internal/broadcast"
	"pressconnect/internal/credentials"
	"pressconnect/internal/identity"
	"pressconnect/internal/models"
	"pressconnect/internal/observability/metrics"
	"pressconnect/internal/storage"
)

type stubProvider struct {
	broadcasts int
	streams    int
	fail       error
}

func (p *stubProvider) CreateBroadcast(ctx context.Context, token string, req broadcast.CreateBroadcastRequest) (broadcast.RemoteBroadcast, error) {
	if p.fail != nil {
		return broadcast.RemoteBroadcast{}, p.fail
	}
	p.broadcasts++
	id := fmt.Sprintf("bc-%d", p.broadcasts)
	return broadcast.RemoteBroadcast{ID: id, Title: req.Title, WatchURL: "https://example.com/watch?v=" + id}, nil
}

func (p *stubProvider) CreateIngestStream(ctx context.Context, token string, req broadcast.CreateStreamRequest) (broadcast.RemoteStream, error) {
	p.streams++
	return broadcast.RemoteStream{
		ID:        fmt.Sprintf("st-%d", p.streams),
		IngestURL: "rtmp://ingest.example.com/live",
		IngestKey: fmt.Sprintf("key-%d", p.streams),
	}, nil
}

func (p *stubProvider) BindBroadcastToStream(ctx context.Context, token, broadcastID, streamID string) error {
	return nil
}

func (p *stubProvider) TransitionBroadcast(ctx context.Context, token, broadcastID, status string) error {
	return nil
}

func (p *stubProvider) DeleteBroadcast(ctx context.Context, token, broadcastID string) error {
	return nil
}

func (p *stubProvider) DeleteIngestStream(ctx context.Context, token, streamID string) error {
	return nil
}

type testEnv struct {
	handler  *Handler
	repo     storage.Repository
	provider *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, storage.NewMemoryRepository())
}

func newTestEnvWithStore(t *testing.T, repo storage.Repository) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	identitySvc, err := identity.NewService(repo, identity.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	credStore := credentials.NewStore(repo)
	provider := &stubProvider{}
	orch, err := broadcast.NewOrchestrator(broadcast.Config{
		Registry:    repo,
		Credentials: credStore,
		Provider:    provider,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("broadcast.NewOrchestrator: %v", err)
	}
	handler, err := NewHandler(Config{
		Identity:    identitySvc,
		Credentials: credStore,
		Broadcasts:  orch,
		Store:       repo,
		Logger:      logger,
		Metrics:     metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testEnv{handler: handler, repo: repo, provider: provider}
}

func (e *testEnv) register(t *testing.T, username string) (models.User, string) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"password1"}`, username, username)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rr := httptest.NewRecorder()
	e.handler.Register(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.User, resp.Token
}

func (e *testEnv) storeCredential(t *testing.T, token string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/oauth/store",
		strings.NewReader(`{"accessToken":"ya29.token","refreshToken":"refresh","expiresIn":3600,"scope":"youtube"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	e.handler.StoreCredential(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("store credential: status %d body %s", rr.Code, rr.Body.String())
	}
}

func (e *testEnv) authedRequest(user models.User, method, target string, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(ContextWithUser(req.Context(), user))
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"username":"alice","email":"other@example.com","password":"password1"}`))
	rr := httptest.NewRecorder()
	env.handler.Register(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"username":"bob","email":"bob@example.com","password":"tiny"}`))
	rr := httptest.NewRecorder()
	env.handler.Register(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "carol")

	responses := make([]string, 0, 2)
	for _, body := range []string{
		`{"username":"carol","password":"wrong-password"}`,
		`{"username":"nobody","password":"wrong-password"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		env.handler.Login(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d body %s", rr.Code, rr.Body.String())
		}
		responses = append(responses, rr.Body.String())
	}
	if responses[0] != responses[1] {
		t.Fatalf("error bodies must match: %q vs %q", responses[0], responses[1])
	}
}

func TestLoginWithEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dave")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"dave@example.com","password":"password1"}`))
	rr := httptest.NewRecorder()
	env.handler.Login(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestStoreCredentialRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/oauth/store",
		strings.NewReader(`{"accessToken":"tok"}`))
	rr := httptest.NewRecorder()
	env.handler.StoreCredential(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateStreamWithoutCredentialSignalsReauth(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "erin")

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", `{"title":"No creds"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body %s", rr.Code, rr.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["requiresReauth"] != true {
		t.Fatalf("expected requiresReauth flag, got %v", payload)
	}
}

func TestQuotaErrorsMapToTooManyRequests(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "frank")
	env.storeCredential(t, token)
	env.provider.fail = &broadcast.ProviderError{StatusCode: 403, Message: "quotaExceeded"}

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", ""))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestStreamLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "grace")
	env.storeCredential(t, token)

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", `{"title":"Launch"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body %s", rr.Code, rr.Body.String())
	}
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
		IngestURL  string `json:"ingestUrl"`
		IngestKey  string `json:"ingestKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if descriptor.SessionKey == "" || descriptor.IngestKey == "" {
		t.Fatalf("incomplete descriptor: %+v", descriptor)
	}

	rr = httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodGet, "/api/streams", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var listed struct {
		Streams []models.StreamSession `json:"streams"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if listed.Count != 1 || len(listed.Streams) != 1 || listed.Streams[0].Status != models.StatusCreated {
		t.Fatalf("unexpected session list: %+v", listed)
	}

	base := "/api/streams/" + descriptor.SessionKey
	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPatch, base+"/start", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d body %s", rr.Code, rr.Body.String())
	}
	var started models.StreamSession
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode started: %v", err)
	}
	if started.Status != models.StatusActive || started.StartedAt == nil {
		t.Fatalf("unexpected started session: %+v", started)
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPost, base+"/end", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d body %s", rr.Code, rr.Body.String())
	}

	// A repeated end is accepted and leaves the session ended.
	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPost, base+"/end", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("second end: expected 200, got %d body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodDelete, base, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodGet, base, ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rr.Code)
	}
}

func TestStreamOwnershipForbidden(t *testing.T) {
	env := newTestEnv(t)
	owner, token := env.register(t, "henry")
	env.storeCredential(t, token)
	intruder, _ := env.register(t, "ivy")

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(owner, http.MethodPost, "/api/streams", ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(intruder, http.MethodGet, "/api/streams/"+descriptor.SessionKey, ""))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestIllegalTransitionConflicts(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "juan")
	env.storeCredential(t, token)

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", ""))
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	base := "/api/streams/" + descriptor.SessionKey

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPost, base+"/end", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPatch, base+"/start", ""))
	if rr.Code != http.StatusConflict {
		t.Fatalf("start after end: expected 409, got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestRecordingsAndSnapshots(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "kira")
	env.storeCredential(t, token)

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", ""))
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	base := "/api/streams/" + descriptor.SessionKey

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPost, base+"/recordings",
		`{"filename":"live.mp4","filePath":"/media/live.mp4","sizeBytes":1024,"duration":90,"format":"mp4"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create recording: expected 201, got %d body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodGet, base+"/recordings", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("list recordings: expected 200, got %d", rr.Code)
	}
	var recordings []models.Recording
	if err := json.Unmarshal(rr.Body.Bytes(), &recordings); err != nil {
		t.Fatalf("decode recordings: %v", err)
	}
	if len(recordings) != 1 || recordings[0].Filename != "live.mp4" {
		t.Fatalf("unexpected recordings: %+v", recordings)
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodPost, base+"/snapshots",
		`{"filename":"frame.jpg","filePath":"/media/frame.jpg","sizeBytes":2048}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create snapshot: expected 201, got %d body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodGet, base+"/snapshots", ""))
	var snapshots []models.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("decode snapshots: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Filename != "frame.jpg" {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}

	// Recording access is ownership-gated like every other session endpoint.
	intruder, _ := env.register(t, "liam")
	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(intruder, http.MethodGet, base+"/recordings", ""))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestHealthReportsDatastore(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.handler.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestAuthenticateRequestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.register(t, "mona")

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, err := env.handler.AuthenticateRequest(req)
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}

	req.Header.Set("Authorization", "Bearer not-a-token")
	if _, err := env.handler.AuthenticateRequest(req); err == nil {
		t.Fatal("expected failure for malformed token")
	}
}

type faultyStore struct {
	storage.Repository
	listSessionsErr   error
	listRecordingsErr error
	putCredentialErr  error
}

func (f *faultyStore) ListLiveSessions(ctx context.Context, ownerID string) ([]models.StreamSession, error) {
	if f.listSessionsErr != nil {
		return nil, f.listSessionsErr
	}
	return f.Repository.ListLiveSessions(ctx, ownerID)
}

func (f *faultyStore) ListRecordings(ctx context.Context, sessionKey string) ([]models.Recording, error) {
	if f.listRecordingsErr != nil {
		return nil, f.listRecordingsErr
	}
	return f.Repository.ListRecordings(ctx, sessionKey)
}

func (f *faultyStore) PutProviderCredential(ctx context.Context, params storage.PutCredentialParams) (models.ProviderCredential, error) {
	if f.putCredentialErr != nil {
		return models.ProviderCredential{}, f.putCredentialErr
	}
	return f.Repository.PutProviderCredential(ctx, params)
}

func TestListStreamsReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "quinn")

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodGet, "/api/streams", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Streams *[]models.StreamSession `json:"streams"`
		Count   *int                    `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Streams == nil || listed.Count == nil {
		t.Fatalf("expected streams and count fields, got %s", rr.Body.String())
	}
	if len(*listed.Streams) != 0 || *listed.Count != 0 {
		t.Fatalf("expected empty list with zero count, got %s", rr.Body.String())
	}
}

func TestInternalErrorsHideStoreDetails(t *testing.T) {
	boom := errors.New(`ERROR: relation "stream_sessions" does not exist (SQLSTATE 42P01)`)
	store := &faultyStore{
		Repository:        storage.NewMemoryRepository(),
		listSessionsErr:   boom,
		listRecordingsErr: boom,
	}
	env := newTestEnvWithStore(t, store)
	user, token := env.register(t, "rosa")
	env.storeCredential(t, token)

	rr := httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodGet, "/api/streams", ""))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("list: expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "SQLSTATE") || strings.Contains(rr.Body.String(), "stream_sessions") {
		t.Fatalf("store internals leaked to client: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "stream operation failed") {
		t.Fatalf("expected generic message, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.handler.Streams(rr, env.authedRequest(user, http.MethodPost, "/api/streams", ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body %s", rr.Code, rr.Body.String())
	}
	var descriptor struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}

	rr = httptest.NewRecorder()
	env.handler.StreamByKey(rr, env.authedRequest(user, http.MethodGet, "/api/streams/"+descriptor.SessionKey+"/recordings", ""))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("recordings: expected 500, got %d body %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "SQLSTATE") {
		t.Fatalf("store internals leaked to client: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "failed to fetch recordings") {
		t.Fatalf("expected generic message, got %s", rr.Body.String())
	}
}

func TestStoreCredentialFailureStatuses(t *testing.T) {
	boom := errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
	store := &faultyStore{
		Repository:       storage.NewMemoryRepository(),
		putCredentialErr: boom,
	}
	env := newTestEnvWithStore(t, store)
	_, token := env.register(t, "sven")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/oauth/store",
		strings.NewReader(`{"refreshToken":"refresh"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.handler.StoreCredential(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing access token: expected 400, got %d body %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/oauth/store",
		strings.NewReader(`{"accessToken":"ya29.token"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	env.handler.StoreCredential(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("store failure: expected 500, got %d body %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "SQLSTATE") {
		t.Fatalf("store internals leaked to client: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "failed to store credential") {
		t.Fatalf("expected generic message, got %s", rr.Body.String())
	}
}
