package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with a unique key.
	ErrConflict = errors.New("already exists")
)

// CreateUserParams carries the fields required to persist a new account. The
// password hash is produced by the identity service; storage never sees the
// plaintext password.
type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
}

// PutCredentialParams describes a provider credential write. ExpiresAt is nil
// for non-expiring tokens.
type PutCredentialParams struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
}

// CreateSessionParams captures the outcome of remote provisioning that the
// registry materialises locally.
type CreateSessionParams struct {
	SessionKey  string
	OwnerID     string
	BroadcastID string
	StreamID    string
	IngestKey   string
	IngestURL   string
	Title       string
	Description string
	Privacy     string
}

// StatusUpdate is a raw status write. Legal-transition enforcement belongs to
// the orchestrator; the registry applies the update unconditionally.
type StatusUpdate struct {
	Status    string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// CreateRecordingParams describes a recorded media file tied to a session.
type CreateRecordingParams struct {
	SessionKey string
	UserID     string
	Filename   string
	FilePath   string
	SizeBytes  int64
	Duration   int
	Format     string
}

// CreateSnapshotParams describes a captured still image tied to a session.
type CreateSnapshotParams struct {
	SessionKey string
	UserID     string
	Filename   string
	FilePath   string
	SizeBytes  int64
}
