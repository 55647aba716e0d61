package storage

import (
	"context"
	"time"

	"pressconnect/internal/models"
)

// Repository exposes the datastore operations required by the identity
// service, the credential store, and the session registry. The Postgres
// implementation backs production deployments; the memory implementation
// serves tests and local development.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, bool, error)

	PutProviderCredential(ctx context.Context, params PutCredentialParams) (models.ProviderCredential, error)
	GetProviderCredential(ctx context.Context, userID, provider string) (models.ProviderCredential, bool, error)
	PurgeExpiredCredentials(ctx context.Context, cutoff time.Time) (int, error)

	CreateStreamSession(ctx context.Context, params CreateSessionParams) (models.StreamSession, error)
	GetStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error)
	ListLiveSessions(ctx context.Context, ownerID string) ([]models.StreamSession, error)
	SetSessionStatus(ctx context.Context, sessionKey string, update StatusUpdate) (models.StreamSession, error)
	DeleteStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error)

	CreateRecording(ctx context.Context, params CreateRecordingParams) (models.Recording, error)
	ListRecordings(ctx context.Context, sessionKey string) ([]models.Recording, error)
	CreateSnapshot(ctx context.Context, params CreateSnapshotParams) (models.Snapshot, error)
	ListSnapshots(ctx context.Context, sessionKey string) ([]models.Snapshot, error)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
