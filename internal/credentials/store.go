// Package credentials persists per-user OAuth tokens for external streaming
// providers and answers whether a stored credential is still usable.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pressconnect/internal/models"
	"pressconnect/internal/storage"
)

// ErrValidation flags caller-supplied parameters rejected before any storage
// access; matched with errors.Is.
var ErrValidation = errors.New("invalid credential parameters")

// PutParams describes a credential write. TTLSeconds of zero means the token
// never expires.
type PutParams struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TTLSeconds   int64
	Scope        string
}

// Store manages provider credentials on top of the repository. Replacement of
// an existing (user, provider) credential is atomic at the storage layer.
type Store struct {
	repo storage.Repository
	now  func() time.Time
}

// NewStore constructs a credential store.
func NewStore(repo storage.Repository) *Store {
	return &Store{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Put stores a credential, computing the absolute expiry from the TTL when
// one is given and superseding any previous credential for the pair.
func (s *Store) Put(ctx context.Context, params PutParams) (models.ProviderCredential, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return models.ProviderCredential{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(params.Provider) == "" || strings.TrimSpace(params.AccessToken) == "" {
		return models.ProviderCredential{}, fmt.Errorf("%w: provider and access token are required", ErrValidation)
	}
	var expiresAt *time.Time
	if params.TTLSeconds > 0 {
		expiry := s.now().Add(time.Duration(params.TTLSeconds) * time.Second)
		expiresAt = &expiry
	}
	cred, err := s.repo.PutProviderCredential(ctx, storage.PutCredentialParams{
		UserID:       params.UserID,
		Provider:     strings.ToLower(strings.TrimSpace(params.Provider)),
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        params.Scope,
	})
	if err != nil {
		return models.ProviderCredential{}, fmt.Errorf("store credential: %w", err)
	}
	return cred, nil
}

// Get returns the credential for the pair, or nil when none is stored.
func (s *Store) Get(ctx context.Context, userID, provider string) (*models.ProviderCredential, error) {
	cred, found, err := s.repo.GetProviderCredential(ctx, userID, strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cred, nil
}

// IsValid reports whether the credential exists and has not expired. A
// credential without an expiry never expires.
func (s *Store) IsValid(cred *models.ProviderCredential) bool {
	if cred == nil {
		return false
	}
	if cred.ExpiresAt == nil {
		return true
	}
	return s.now().Before(*cred.ExpiresAt)
}
