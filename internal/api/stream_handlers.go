package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pressconnect/internal/broadcast"
	"pressconnect/internal/models"
	"pressconnect/internal/storage"
)

const streamsPrefix = "/api/streams/"

type createStreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Privacy     string `json:"privacy"`
}

// Streams handles the collection endpoints: session creation and listing the
// caller's live sessions.
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createStreamRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		descriptor, err := h.Broadcasts.CreateSession(r.Context(), user, broadcast.CreateSessionParams{
			Title:       req.Title,
			Description: req.Description,
			Privacy:     req.Privacy,
		})
		if err != nil {
			h.writeBroadcastError(w, err)
			return
		}
		h.Metrics.SessionCreated()
		h.Logger.Info("stream session created",
			"userId", user.ID, "sessionKey", descriptor.SessionKey, "broadcastId", descriptor.BroadcastID)
		writeJSON(w, http.StatusCreated, descriptor)
	case http.MethodGet:
		sessions, err := h.Broadcasts.ListSessions(r.Context(), user)
		if err != nil {
			h.writeBroadcastError(w, err)
			return
		}
		if sessions == nil {
			sessions = []models.StreamSession{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"streams": sessions,
			"count":   len(sessions),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// StreamByKey dispatches the per-session endpoints addressed by session key:
// fetch, delete, lifecycle transitions, recordings, and snapshots.
func (h *Handler) StreamByKey(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, streamsPrefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, errors.New("session key is required"))
		return
	}
	sessionKey := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			session, err := h.Broadcasts.GetSession(r.Context(), user, sessionKey)
			if err != nil {
				h.writeBroadcastError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, session)
		case http.MethodDelete:
			session, err := h.Broadcasts.DeleteSession(r.Context(), user, sessionKey)
			if err != nil {
				h.writeBroadcastError(w, err)
				return
			}
			h.Metrics.SessionDeleted()
			h.Logger.Info("stream session deleted", "userId", user.ID, "sessionKey", session.SessionKey)
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "sessionKey": session.SessionKey})
		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, errors.New("unknown stream endpoint"))
		return
	}

	switch parts[1] {
	case "start":
		if r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		session, err := h.Broadcasts.StartSession(r.Context(), user, sessionKey)
		if err != nil {
			h.writeBroadcastError(w, err)
			return
		}
		h.Metrics.SessionStarted()
		h.Logger.Info("stream session started", "userId", user.ID, "sessionKey", session.SessionKey)
		writeJSON(w, http.StatusOK, session)
	case "end":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		session, err := h.Broadcasts.EndSession(r.Context(), user, sessionKey)
		if err != nil {
			h.writeBroadcastError(w, err)
			return
		}
		h.Metrics.SessionEnded()
		h.Logger.Info("stream session ended", "userId", user.ID, "sessionKey", session.SessionKey)
		writeJSON(w, http.StatusOK, session)
	case "recordings":
		h.sessionRecordings(w, r, user.ID, sessionKey)
	case "snapshots":
		h.sessionSnapshots(w, r, user.ID, sessionKey)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown stream endpoint"))
	}
}

type createRecordingRequest struct {
	Filename  string `json:"filename"`
	FilePath  string `json:"filePath"`
	SizeBytes int64  `json:"sizeBytes"`
	Duration  int    `json:"duration"`
	Format    string `json:"format"`
}

func (h *Handler) sessionRecordings(w http.ResponseWriter, r *http.Request, userID, sessionKey string) {
	if !h.ensureSessionOwner(w, r, userID, sessionKey) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		recordings, err := h.Store.ListRecordings(r.Context(), sessionKey)
		if err != nil {
			h.writeInternalError(w, "failed to fetch recordings", err)
			return
		}
		writeJSON(w, http.StatusOK, recordings)
	case http.MethodPost:
		var req createRecordingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Filename) == "" {
			writeError(w, http.StatusBadRequest, errors.New("filename is required"))
			return
		}
		recording, err := h.Store.CreateRecording(r.Context(), storage.CreateRecordingParams{
			SessionKey: sessionKey,
			UserID:     userID,
			Filename:   req.Filename,
			FilePath:   req.FilePath,
			SizeBytes:  req.SizeBytes,
			Duration:   req.Duration,
			Format:     req.Format,
		})
		if err != nil {
			h.writeInternalError(w, "failed to save recording", err)
			return
		}
		writeJSON(w, http.StatusCreated, recording)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

type createSnapshotRequest struct {
	Filename  string `json:"filename"`
	FilePath  string `json:"filePath"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (h *Handler) sessionSnapshots(w http.ResponseWriter, r *http.Request, userID, sessionKey string) {
	if !h.ensureSessionOwner(w, r, userID, sessionKey) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		snapshots, err := h.Store.ListSnapshots(r.Context(), sessionKey)
		if err != nil {
			h.writeInternalError(w, "failed to fetch snapshots", err)
			return
		}
		writeJSON(w, http.StatusOK, snapshots)
	case http.MethodPost:
		var req createSnapshotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Filename) == "" {
			writeError(w, http.StatusBadRequest, errors.New("filename is required"))
			return
		}
		snapshot, err := h.Store.CreateSnapshot(r.Context(), storage.CreateSnapshotParams{
			SessionKey: sessionKey,
			UserID:     userID,
			Filename:   req.Filename,
			FilePath:   req.FilePath,
			SizeBytes:  req.SizeBytes,
		})
		if err != nil {
			h.writeInternalError(w, "failed to save snapshot", err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// ensureSessionOwner verifies the session exists and belongs to the caller
// before any recording or snapshot access.
func (h *Handler) ensureSessionOwner(w http.ResponseWriter, r *http.Request, userID, sessionKey string) bool {
	session, found, err := h.Store.GetStreamSession(r.Context(), sessionKey)
	if err != nil {
		h.writeInternalError(w, "failed to fetch session", err)
		return false
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return false
	}
	if session.OwnerID != userID {
		writeError(w, http.StatusForbidden, errors.New("forbidden"))
		return false
	}
	return true
}
