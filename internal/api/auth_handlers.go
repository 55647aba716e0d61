package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"pressconnect/internal/credentials"
	"pressconnect/internal/identity"
	"pressconnect/internal/models"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func statusForIdentityError(err error) int {
	switch {
	case errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrUsernameTaken), errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Register creates an account and returns a signed token for it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, token, err := h.Identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		status := statusForIdentityError(err)
		if status == http.StatusInternalServerError {
			h.writeInternalError(w, "registration failed", err)
			return
		}
		writeError(w, status, err)
		return
	}
	h.Metrics.ObserveAuthEvent("register")
	h.Logger.Info("account registered", "userId", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// Login authenticates by username or email and returns a fresh token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, token, err := h.Identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		status := statusForIdentityError(err)
		if status == http.StatusInternalServerError {
			h.writeInternalError(w, "login failed", err)
			return
		}
		h.Metrics.ObserveAuthEvent("login_failed")
		writeError(w, status, err)
		return
	}
	h.Metrics.ObserveAuthEvent("login")
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

type storeCredentialRequest struct {
	Provider     string `json:"provider"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	Scope        string `json:"scope"`
}

// StoreCredential saves the caller's OAuth tokens for a streaming provider,
// replacing any credential previously stored for it.
func (h *Handler) StoreCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	user, err := h.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req storeCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = "youtube"
	}
	cred, err := h.Credentials.Put(r.Context(), credentials.PutParams{
		UserID:       user.ID,
		Provider:     provider,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TTLSeconds:   req.ExpiresIn,
		Scope:        req.Scope,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrValidation) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeInternalError(w, "failed to store credential", err)
		return
	}
	h.Metrics.ObserveAuthEvent("credential_stored")
	h.Logger.Info("provider credential stored", "userId", user.ID, "provider", cred.Provider)
	response := map[string]interface{}{
		"status":   "stored",
		"provider": cred.Provider,
	}
	if cred.ExpiresAt != nil {
		response["expiresAt"] = cred.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, response)
}
