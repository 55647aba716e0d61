package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"pressconnect/internal/models"
)

// MemoryRepository keeps all state in process memory behind a RWMutex. It
// mirrors the Postgres implementation's semantics (unique keys, atomic
// credential replace, unconditional status writes) and backs tests and local
// development.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[string]models.User
	credentials map[string]models.ProviderCredential // keyed by userID|provider
	sessions    map[string]models.StreamSession
	recordings  map[string]models.Recording
	snapshots   map[string]models.Snapshot
	clock       func() time.Time
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[string]models.User),
		credentials: make(map[string]models.ProviderCredential),
		sessions:    make(map[string]models.StreamSession),
		recordings:  make(map[string]models.Recording),
		snapshots:   make(map[string]models.Snapshot),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close(ctx context.Context) error { return nil }

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func credentialKey(userID, provider string) string {
	return userID + "|" + provider
}

func (m *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == params.Username || existing.Email == params.Email {
			return models.User{}, ErrConflict
		}
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	now := m.clock()
	user := models.User{
		ID:           id,
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[id] = user
	return user, nil
}

func (m *MemoryRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return models.User{}, false, nil
	}
	return user, true, nil
}

func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (models.User, bool, error) {
	return m.findUser(func(u models.User) bool { return u.Username == username })
}

func (m *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	return m.findUser(func(u models.User) bool { return u.Email == email })
}

func (m *MemoryRepository) findUser(match func(models.User) bool) (models.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Active && match(user) {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

func (m *MemoryRepository) PutProviderCredential(ctx context.Context, params PutCredentialParams) (models.ProviderCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.ProviderCredential{}, err
	}
	now := m.clock()
	cred := models.ProviderCredential{
		ID:           id,
		UserID:       params.UserID,
		Provider:     params.Provider,
		AccessToken:  params.AccessToken,
		RefreshToken: params.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAtUTC(params.ExpiresAt),
		Scope:        params.Scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.credentials[credentialKey(params.UserID, params.Provider)] = cred
	return cred, nil
}

func (m *MemoryRepository) GetProviderCredential(ctx context.Context, userID, provider string) (models.ProviderCredential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.credentials[credentialKey(userID, provider)]
	return cred, ok, nil
}

// PurgeExpiredCredentials drops credentials whose expiry precedes the cutoff.
// Credentials without an expiry are never purged.
func (m *MemoryRepository) PurgeExpiredCredentials(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for key, cred := range m.credentials {
		if cred.ExpiresAt != nil && cred.ExpiresAt.Before(cutoff) {
			delete(m.credentials, key)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryRepository) CreateStreamSession(ctx context.Context, params CreateSessionParams) (models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[params.SessionKey]; exists {
		return models.StreamSession{}, ErrConflict
	}
	for _, existing := range m.sessions {
		if existing.BroadcastID == params.BroadcastID ||
			existing.StreamID == params.StreamID ||
			existing.IngestKey == params.IngestKey {
			return models.StreamSession{}, ErrConflict
		}
	}
	now := m.clock()
	session := models.StreamSession{
		SessionKey:  params.SessionKey,
		OwnerID:     params.OwnerID,
		BroadcastID: params.BroadcastID,
		StreamID:    params.StreamID,
		IngestKey:   params.IngestKey,
		IngestURL:   params.IngestURL,
		Title:       params.Title,
		Description: params.Description,
		Privacy:     params.Privacy,
		Status:      models.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[params.SessionKey] = session
	return session, nil
}

func (m *MemoryRepository) GetStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionKey]
	return session, ok, nil
}

func (m *MemoryRepository) ListLiveSessions(ctx context.Context, ownerID string) ([]models.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := []models.StreamSession{}
	for _, session := range m.sessions {
		if !session.Status.Live() {
			continue
		}
		if ownerID != "" && session.OwnerID != ownerID {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *MemoryRepository) SetSessionStatus(ctx context.Context, sessionKey string, update StatusUpdate) (models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionKey]
	if !ok {
		return models.StreamSession{}, ErrNotFound
	}
	if parsed, ok := models.ParseSessionStatus(update.Status); ok {
		session.Status = parsed
	} else {
		session.Status = models.SessionStatus(update.Status)
	}
	if update.StartedAt != nil {
		session.StartedAt = expiresAtUTC(update.StartedAt)
	}
	if update.EndedAt != nil {
		session.EndedAt = expiresAtUTC(update.EndedAt)
	}
	session.UpdatedAt = m.clock()
	m.sessions[sessionKey] = session
	return session, nil
}

func (m *MemoryRepository) DeleteStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionKey]
	if !ok {
		return models.StreamSession{}, false, nil
	}
	delete(m.sessions, sessionKey)
	for id, rec := range m.recordings {
		if rec.SessionKey == sessionKey {
			delete(m.recordings, id)
		}
	}
	for id, snap := range m.snapshots {
		if snap.SessionKey == sessionKey {
			delete(m.snapshots, id)
		}
	}
	return session, true, nil
}

func (m *MemoryRepository) CreateRecording(ctx context.Context, params CreateRecordingParams) (models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[params.SessionKey]; !ok {
		return models.Recording{}, ErrNotFound
	}
	id, err := generateID()
	if err != nil {
		return models.Recording{}, err
	}
	rec := models.Recording{
		ID:         id,
		SessionKey: params.SessionKey,
		UserID:     params.UserID,
		Filename:   params.Filename,
		FilePath:   params.FilePath,
		SizeBytes:  params.SizeBytes,
		Duration:   params.Duration,
		Format:     params.Format,
		CreatedAt:  m.clock(),
	}
	m.recordings[id] = rec
	return rec, nil
}

func (m *MemoryRepository) ListRecordings(ctx context.Context, sessionKey string) ([]models.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recordings := []models.Recording{}
	for _, rec := range m.recordings {
		if rec.SessionKey == sessionKey {
			recordings = append(recordings, rec)
		}
	}
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].CreatedAt.After(recordings[j].CreatedAt)
	})
	return recordings, nil
}

func (m *MemoryRepository) CreateSnapshot(ctx context.Context, params CreateSnapshotParams) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[params.SessionKey]; !ok {
		return models.Snapshot{}, ErrNotFound
	}
	id, err := generateID()
	if err != nil {
		return models.Snapshot{}, err
	}
	snap := models.Snapshot{
		ID:         id,
		SessionKey: params.SessionKey,
		UserID:     params.UserID,
		Filename:   params.Filename,
		FilePath:   params.FilePath,
		SizeBytes:  params.SizeBytes,
		CreatedAt:  m.clock(),
	}
	m.snapshots[id] = snap
	return snap, nil
}

func (m *MemoryRepository) ListSnapshots(ctx context.Context, sessionKey string) ([]models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := []models.Snapshot{}
	for _, snap := range m.snapshots {
		if snap.SessionKey == sessionKey {
			snapshots = append(snapshots, snap)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}
