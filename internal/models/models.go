package models

import (
	"strings"
	"time"
)

// User is a registered account. Users are never deleted, only deactivated, so
// sessions and credentials keep a valid owner for their whole lifetime.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProviderCredential holds the OAuth tokens a user granted for one external
// streaming platform. At most one credential exists per (user, provider) pair;
// storing a new one replaces the previous credential atomically.
type ProviderCredential struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"tokenType"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SessionStatus is the lifecycle state of a stream session. Transitions move
// forward only: created -> starting/active -> ended.
type SessionStatus string

const (
	StatusCreated  SessionStatus = "created"
	StatusStarting SessionStatus = "starting"
	StatusActive   SessionStatus = "active"
	StatusEnded    SessionStatus = "ended"
)

// ParseSessionStatus normalises a stored status value.
func ParseSessionStatus(value string) (SessionStatus, bool) {
	switch SessionStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusCreated:
		return StatusCreated, true
	case StatusStarting:
		return StatusStarting, true
	case StatusActive:
		return StatusActive, true
	case StatusEnded:
		return StatusEnded, true
	}
	return "", false
}

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded
}

// Live reports whether the session counts as active for listing purposes.
func (s SessionStatus) Live() bool {
	switch s {
	case StatusCreated, StatusStarting, StatusActive:
		return true
	}
	return false
}

// StreamSession is the local record of one provisioned broadcast+ingest pair.
// SessionKey, BroadcastID, StreamID, and IngestKey are each globally unique.
type StreamSession struct {
	SessionKey  string        `json:"sessionKey"`
	OwnerID     string        `json:"ownerId"`
	BroadcastID string        `json:"broadcastId"`
	StreamID    string        `json:"streamId"`
	IngestKey   string        `json:"-"`
	IngestURL   string        `json:"ingestUrl"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Privacy     string        `json:"privacyStatus"`
	Status      SessionStatus `json:"status"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Recording is a locally stored media file captured during a session.
type Recording struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey"`
	UserID     string    `json:"userId"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"filePath"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
	Duration   int       `json:"durationSeconds,omitempty"`
	Format     string    `json:"format,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Snapshot is a still image captured from a session.
type Snapshot struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey"`
	UserID     string    `json:"userId"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"filePath"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
