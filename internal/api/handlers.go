// Package api exposes the HTTP surface of the broadcast service: account
// registration and login, provider credential storage, and the stream
// session lifecycle endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"pressconnect/internal/broadcast"
	"pressconnect/internal/credentials"
	"pressconnect/internal/identity"
	"pressconnect/internal/observability/metrics"
	"pressconnect/internal/storage"
)

// Handler bundles the services behind the HTTP endpoints.
type Handler struct {
	Identity    *identity.Service
	Credentials *credentials.Store
	Broadcasts  *broadcast.Orchestrator
	Store       storage.Repository
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Config wires a Handler. All services are required; Logger and Metrics fall
// back to package defaults when nil.
type Config struct {
	Identity    *identity.Service
	Credentials *credentials.Store
	Broadcasts  *broadcast.Orchestrator
	Store       storage.Repository
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// NewHandler validates the configuration and constructs a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Identity == nil {
		return nil, errors.New("api: identity service is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("api: credential store is required")
	}
	if cfg.Broadcasts == nil {
		return nil, errors.New("api: broadcast orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: repository is required")
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
		Identity:    cfg.Identity,
		Credentials: cfg.Credentials,
		Broadcasts:  cfg.Broadcasts,
		Store:       cfg.Store,
		Logger:      logger,
		Metrics:     recorder,
	}, nil
}

// Health reports service liveness and datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Error("health check datastore ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// statusForBroadcastError maps orchestrator failures onto HTTP status codes.
func statusForBroadcastError(err error) (int, bool) {
	switch {
	case errors.Is(err, broadcast.ErrMissingProviderCredential),
		errors.Is(err, broadcast.ErrReauthRequired):
		return http.StatusUnauthorized, true
	case errors.Is(err, broadcast.ErrQuotaExceeded):
		return http.StatusTooManyRequests, false
	case errors.Is(err, broadcast.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, broadcast.ErrForbidden):
		return http.StatusForbidden, false
	case errors.Is(err, broadcast.ErrIllegalTransition),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, false
	case errors.Is(err, broadcast.ErrRemote):
		return http.StatusBadGateway, false
	default:
		return http.StatusInternalServerError, false
	}
}

// writeBroadcastError renders an orchestrator failure, marking credential
// problems so the client can restart the OAuth flow. Store and transport
// internals are logged, never serialized to the client.
func (h *Handler) writeBroadcastError(w http.ResponseWriter, err error) {
	status, reauth := statusForBroadcastError(err)
	switch status {
	case http.StatusInternalServerError:
		h.writeInternalError(w, "stream operation failed", err)
		return
	case http.StatusBadGateway:
		h.Logger.Error("provider request failed", "error", err)
		writeError(w, status, errors.New("provider request failed"))
		return
	}
	if reauth {
		writeReauthError(w, status, err)
		return
	}
	writeError(w, status, err)
}

// writeInternalError logs the detailed failure and answers with a generic
// message so raw store errors never reach the client.
func (h *Handler) writeInternalError(w http.ResponseWriter, message string, err error) {
	h.Logger.Error(message, "error", err)
	writeError(w, http.StatusInternalServerError, errors.New(message))
}
