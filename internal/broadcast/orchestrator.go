package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pressconnect/internal/credentials"
	"pressconnect/internal/models"
	"pressconnect/internal/observability/metrics"
	"pressconnect/internal/storage"
)

// transitions is the forward-only lifecycle table. Ended is terminal; the
// created state may jump straight to ended when the owner abandons a session
// that never went live.
var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusCreated:  {models.StatusStarting, models.StatusActive, models.StatusEnded},
	models.StatusStarting: {models.StatusActive, models.StatusEnded},
	models.StatusActive:   {models.StatusEnded},
	models.StatusEnded:    {},
}

func canTransition(from, to models.SessionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EventSink receives best-effort lifecycle notifications. Implementations
// must tolerate being invoked concurrently; a nil sink disables publishing.
type EventSink interface {
	SessionCreated(ctx context.Context, session models.StreamSession)
	SessionStarted(ctx context.Context, session models.StreamSession)
	SessionEnded(ctx context.Context, session models.StreamSession)
}

// CreateSessionParams are the caller-supplied attributes of a new session.
// Empty fields fall back to timestamped placeholders.
type CreateSessionParams struct {
	Title       string
	Description string
	Privacy     string
}

// SessionDescriptor is returned from CreateSession with everything a client
// needs to push media and link viewers.
type SessionDescriptor struct {
	SessionKey   string `json:"sessionKey"`
	BroadcastID  string `json:"broadcastId"`
	StreamID     string `json:"streamId"`
	IngestURL    string `json:"ingestUrl"`
	IngestKey    string `json:"ingestKey"`
	BroadcastURL string `json:"broadcastUrl,omitempty"`
}

// Orchestrator reconciles local stream-session state with the remote
// provider-owned broadcast resources.
type Orchestrator struct {
	registry      storage.Repository
	credentials   *credentials.Store
	provider      Provider
	providerName  string
	events        EventSink
	logger        *slog.Logger
	metrics       *metrics.Recorder
	now           func() time.Time
	newSessionKey func() string
}

// Config wires the orchestrator's collaborators. Registry, Credentials, and
// Provider are required; Events and Metrics may be nil.
type Config struct {
	Registry     storage.Repository
	Credentials  *credentials.Store
	Provider     Provider
	ProviderName string
	Events       EventSink
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// NewOrchestrator constructs the lifecycle driver.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("broadcast: session registry is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("broadcast: credential store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("broadcast: provider is required")
	}
	providerName := strings.ToLower(strings.TrimSpace(cfg.ProviderName))
	if providerName == "" {
		providerName = "youtube"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Orchestrator{
		registry:      cfg.Registry,
		credentials:   cfg.Credentials,
		provider:      cfg.Provider,
		providerName:  providerName,
		events:        cfg.Events,
		logger:        logger,
		metrics:       recorder,
		now:           func() time.Time { return time.Now().UTC() },
		newSessionKey: uuid.NewString,
	}, nil
}

// observeProvider records a remote call attempt and, when it failed, the
// failure, keyed by operation.
func (o *Orchestrator) observeProvider(operation string, err error) {
	o.metrics.ObserveProviderCall(operation)
	if err != nil {
		o.metrics.ObserveProviderFailure(operation)
	}
}

// classifyRemote maps a provider failure onto the caller-facing taxonomy.
func classifyRemote(err error) error {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.QuotaExceeded():
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, provErr.Message)
		case provErr.AuthFailure():
			return fmt.Errorf("%w: %s", ErrReauthRequired, provErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrRemote, err)
}

// CreateSession provisions a broadcast+ingest pair with the provider, binds
// them, and persists the resulting session. The three remote calls run
// sequentially and are not transactional: a bind failure leaves the remote
// resources orphaned with no local record. When local persistence fails after
// full remote success, the remote resources are deleted best-effort and the
// original error is surfaced.
func (o *Orchestrator) CreateSession(ctx context.Context, user models.User, params CreateSessionParams) (SessionDescriptor, error) {
	cred, err := o.credentials.Get(ctx, user.ID, o.providerName)
	if err != nil {
		return SessionDescriptor{}, err
	}
	if !o.credentials.IsValid(cred) {
		return SessionDescriptor{}, ErrMissingProviderCredential
	}
	token := cred.AccessToken

	now := o.now()
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = fmt.Sprintf("Live Stream - %s", now.Format(time.RFC3339))
	}
	description := strings.TrimSpace(params.Description)
	if description == "" {
		description = "Live stream from Press Connect"
	}
	privacy := strings.TrimSpace(params.Privacy)
	if privacy == "" {
		privacy = "public"
	}

	remoteBroadcast, err := o.provider.CreateBroadcast(ctx, token, CreateBroadcastRequest{
		Title:          title,
		Description:    description,
		ScheduledStart: now,
		Privacy:        privacy,
		AutoStart:      true,
		AutoStop:       true,
	})
	o.observeProvider("create_broadcast", err)
	if err != nil {
		return SessionDescriptor{}, classifyRemote(err)
	}

	remoteStream, err := o.provider.CreateIngestStream(ctx, token, CreateStreamRequest{
		Title:      fmt.Sprintf("Stream for %s", title),
		IngestType: "rtmp",
		Resolution: "720p",
		FrameRate:  "30fps",
	})
	o.observeProvider("create_stream", err)
	if err != nil {
		return SessionDescriptor{}, classifyRemote(err)
	}

	err = o.provider.BindBroadcastToStream(ctx, token, remoteBroadcast.ID, remoteStream.ID)
	o.observeProvider("bind", err)
	if err != nil {
		// The broadcast and stream stay orphaned at the provider; no local
		// state exists yet so there is nothing to clean up here.
		return SessionDescriptor{}, classifyRemote(err)
	}

	session, err := o.registry.CreateStreamSession(ctx, storage.CreateSessionParams{
		SessionKey:  o.newSessionKey(),
		OwnerID:     user.ID,
		BroadcastID: remoteBroadcast.ID,
		StreamID:    remoteStream.ID,
		IngestKey:   remoteStream.IngestKey,
		IngestURL:   remoteStream.IngestURL,
		Title:       title,
		Description: description,
		Privacy:     privacy,
	})
	if err != nil {
		o.compensate(ctx, token, remoteBroadcast.ID, remoteStream.ID)
		return SessionDescriptor{}, err
	}

	o.publish(func(sink EventSink) { sink.SessionCreated(ctx, session) })
	return SessionDescriptor{
		SessionKey:   session.SessionKey,
		BroadcastID:  session.BroadcastID,
		StreamID:     session.StreamID,
		IngestURL:    session.IngestURL,
		IngestKey:    session.IngestKey,
		BroadcastURL: remoteBroadcast.WatchURL,
	}, nil
}

// compensate undoes remote provisioning after a local persistence failure.
// Failures here are logged and swallowed so the original error reaches the
// caller untouched.
func (o *Orchestrator) compensate(ctx context.Context, token, broadcastID, streamID string) {
	err := o.provider.DeleteBroadcast(ctx, token, broadcastID)
	o.observeProvider("delete_broadcast", err)
	if err != nil {
		o.logger.Error("compensating broadcast delete failed",
			"broadcastId", broadcastID, "error", err)
	}
	err = o.provider.DeleteIngestStream(ctx, token, streamID)
	o.observeProvider("delete_stream", err)
	if err != nil {
		o.logger.Error("compensating stream delete failed",
			"streamId", streamID, "error", err)
	}
}

// loadOwned fetches the session and enforces ownership.
func (o *Orchestrator) loadOwned(ctx context.Context, user models.User, sessionKey string) (models.StreamSession, error) {
	session, found, err := o.registry.GetStreamSession(ctx, sessionKey)
	if err != nil {
		return models.StreamSession{}, err
	}
	if !found {
		return models.StreamSession{}, ErrNotFound
	}
	if session.OwnerID != user.ID {
		return models.StreamSession{}, ErrForbidden
	}
	return session, nil
}

// StartSession marks an owned session active with a start timestamp. The
// remote broadcast auto-starts on first ingest, so no provider call is made.
func (o *Orchestrator) StartSession(ctx context.Context, user models.User, sessionKey string) (models.StreamSession, error) {
	session, err := o.loadOwned(ctx, user, sessionKey)
	if err != nil {
		return models.StreamSession{}, err
	}
	if !canTransition(session.Status, models.StatusActive) {
		return models.StreamSession{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, models.StatusActive)
	}
	startedAt := o.now()
	updated, err := o.registry.SetSessionStatus(ctx, sessionKey, storage.StatusUpdate{
		Status:    string(models.StatusActive),
		StartedAt: &startedAt,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.StreamSession{}, ErrNotFound
		}
		return models.StreamSession{}, err
	}
	o.publish(func(sink EventSink) { sink.SessionStarted(ctx, updated) })
	return updated, nil
}

// EndSession converges an owned session to the terminal ended state. The
// remote "complete" transition is best-effort: its failure is logged and must
// never block the local transition. Ending an already-ended session succeeds
// without touching anything.
func (o *Orchestrator) EndSession(ctx context.Context, user models.User, sessionKey string) (models.StreamSession, error) {
	session, err := o.loadOwned(ctx, user, sessionKey)
	if err != nil {
		return models.StreamSession{}, err
	}
	if session.Status == models.StatusEnded {
		return session, nil
	}

	if cred, err := o.credentials.Get(ctx, user.ID, o.providerName); err != nil {
		o.logger.Warn("credential lookup failed during end, skipping remote transition",
			"sessionKey", sessionKey, "error", err)
	} else if o.credentials.IsValid(cred) {
		err := o.provider.TransitionBroadcast(ctx, cred.AccessToken, session.BroadcastID, "complete")
		o.observeProvider("transition", err)
		if err != nil {
			o.logger.Error("remote broadcast completion failed",
				"sessionKey", sessionKey, "broadcastId", session.BroadcastID, "error", err)
		}
	}

	endedAt := o.now()
	updated, err := o.registry.SetSessionStatus(ctx, sessionKey, storage.StatusUpdate{
		Status:  string(models.StatusEnded),
		EndedAt: &endedAt,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.StreamSession{}, ErrNotFound
		}
		return models.StreamSession{}, err
	}
	o.publish(func(sink EventSink) { sink.SessionEnded(ctx, updated) })
	return updated, nil
}

// GetSession returns an owned session.
func (o *Orchestrator) GetSession(ctx context.Context, user models.User, sessionKey string) (models.StreamSession, error) {
	return o.loadOwned(ctx, user, sessionKey)
}

// ListSessions returns the caller's live (non-ended) sessions, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context, user models.User) ([]models.StreamSession, error) {
	return o.registry.ListLiveSessions(ctx, user.ID)
}

// DeleteSession removes an owned session record. The remote broadcast is not
// touched; deleting local bookkeeping does not unpublish provider resources.
func (o *Orchestrator) DeleteSession(ctx context.Context, user models.User, sessionKey string) (models.StreamSession, error) {
	if _, err := o.loadOwned(ctx, user, sessionKey); err != nil {
		return models.StreamSession{}, err
	}
	deleted, found, err := o.registry.DeleteStreamSession(ctx, sessionKey)
	if err != nil {
		return models.StreamSession{}, err
	}
	if !found {
		return models.StreamSession{}, ErrNotFound
	}
	return deleted, nil
}

func (o *Orchestrator) publish(fn func(EventSink)) {
	if o.events == nil {
		return
	}
	fn(o.events)
}
