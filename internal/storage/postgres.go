package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pressconnect/internal/models"
)

// PostgresConfig describes how the repository initialises its connection pool.
// Zero values defer to pgxpool defaults, except MaxConnections and
// AcquireTimeout which get conservative defaults so a saturated pool surfaces
// a bounded error instead of blocking callers indefinitely.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

const (
	defaultMaxConnections = 20
	defaultAcquireTimeout = 3 * time.Second
)

// PostgresRepository persists all application state in Postgres through a
// bounded pgx connection pool.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPostgresRepository opens a Postgres-backed repository. Call EnsureSchema
// before serving traffic.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}
	poolCfg.MaxConns = maxConns
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	return &PostgresRepository{pool: pool, acquireTimeout: acquireTimeout}, nil
}

// Ping verifies connectivity to the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// Close releases the connection pool, bounded by the provided context.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// boundAcquire caps how long database operations may wait for a pooled
// connection. Pool exhaustion then fails within acquireTimeout instead of
// queueing behind slow requests.
func (r *PostgresRepository) boundAcquire(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.acquireTimeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
INSERT INTO users (id, username, email, password_hash)
VALUES (gen_random_uuid()::text, $1, $2, $3)
RETURNING id, username, email, password_hash, is_active, created_at, updated_at
`, params.Username, params.Email, params.PasswordHash)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	return r.queryUser(ctx, `WHERE id = $1 AND is_active`, id)
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (models.User, bool, error) {
	return r.queryUser(ctx, `WHERE username = $1 AND is_active`, username)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	return r.queryUser(ctx, `WHERE email = $1 AND is_active`, email)
}

func (r *PostgresRepository) queryUser(ctx context.Context, where string, arg any) (models.User, bool, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, username, email, password_hash, is_active, created_at, updated_at
FROM users `+where, arg)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, false, nil
		}
		return models.User{}, false, fmt.Errorf("query user: %w", err)
	}
	return user, true, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Active, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// PutProviderCredential replaces any existing credential for the (user,
// provider) pair with the supplied one. Delete and insert run in a single
// transaction so concurrent readers never observe two credentials for the
// same pair.
func (r *PostgresRepository) PutProviderCredential(ctx context.Context, params PutCredentialParams) (models.ProviderCredential, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ProviderCredential{}, fmt.Errorf("begin credential transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM provider_credentials WHERE user_id = $1 AND provider = $2
`, params.UserID, params.Provider); err != nil {
		return models.ProviderCredential{}, fmt.Errorf("replace credential: %w", err)
	}

	row := tx.QueryRow(ctx, `
INSERT INTO provider_credentials (id, user_id, provider, access_token, refresh_token, expires_at, scope)
VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6)
RETURNING id, user_id, provider, access_token, refresh_token, token_type, expires_at, scope, created_at, updated_at
`, params.UserID, params.Provider, params.AccessToken, params.RefreshToken, expiresAtUTC(params.ExpiresAt), params.Scope)
	cred, err := scanCredential(row)
	if err != nil {
		return models.ProviderCredential{}, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ProviderCredential{}, fmt.Errorf("commit credential: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) GetProviderCredential(ctx context.Context, userID, provider string) (models.ProviderCredential, bool, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, user_id, provider, access_token, refresh_token, token_type, expires_at, scope, created_at, updated_at
FROM provider_credentials
WHERE user_id = $1 AND provider = $2
`, userID, provider)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ProviderCredential{}, false, nil
		}
		return models.ProviderCredential{}, false, fmt.Errorf("query credential: %w", err)
	}
	return cred, true, nil
}

// PurgeExpiredCredentials drops credentials whose expiry precedes the cutoff.
// Credentials without an expiry are never purged.
func (r *PostgresRepository) PurgeExpiredCredentials(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
DELETE FROM provider_credentials WHERE expires_at IS NOT NULL AND expires_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanCredential(row pgx.Row) (models.ProviderCredential, error) {
	var cred models.ProviderCredential
	var refresh, scope *string
	var expiresAt *time.Time
	err := row.Scan(&cred.ID, &cred.UserID, &cred.Provider, &cred.AccessToken,
		&refresh, &cred.TokenType, &expiresAt, &scope, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return models.ProviderCredential{}, err
	}
	if refresh != nil {
		cred.RefreshToken = *refresh
	}
	if scope != nil {
		cred.Scope = *scope
	}
	cred.ExpiresAt = expiresAt
	return cred, nil
}

func expiresAtUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// CreateStreamSession relies on the table's unique constraints for conflict
// detection rather than pre-checking each key.
func (r *PostgresRepository) CreateStreamSession(ctx context.Context, params CreateSessionParams) (models.StreamSession, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
INSERT INTO stream_sessions (session_key, user_id, broadcast_id, stream_id, ingest_key, ingest_url, title, description, privacy_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+sessionColumns, params.SessionKey, params.OwnerID, params.BroadcastID, params.StreamID,
		params.IngestKey, params.IngestURL, params.Title, params.Description, params.Privacy)
	session, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.StreamSession{}, ErrConflict
		}
		return models.StreamSession{}, fmt.Errorf("create stream session: %w", err)
	}
	return session, nil
}

const sessionColumns = `session_key, user_id, broadcast_id, stream_id, ingest_key, ingest_url, title, description, privacy_status, status, started_at, ended_at, created_at, updated_at`

func (r *PostgresRepository) GetStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM stream_sessions
WHERE session_key = $1
`, sessionKey)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StreamSession{}, false, nil
		}
		return models.StreamSession{}, false, fmt.Errorf("query stream session: %w", err)
	}
	return session, true, nil
}

// ListLiveSessions returns non-ended sessions ordered newest first. An empty
// ownerID lists sessions across all owners.
func (r *PostgresRepository) ListLiveSessions(ctx context.Context, ownerID string) ([]models.StreamSession, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	query := `
SELECT ` + sessionColumns + `
FROM stream_sessions
WHERE status IN ('created', 'starting', 'active')`
	args := []any{}
	if ownerID != "" {
		query += ` AND user_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stream sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.StreamSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stream sessions: %w", err)
	}
	return sessions, nil
}

// SetSessionStatus overwrites the status and optional timestamps. Transition
// legality is the orchestrator's responsibility.
func (r *PostgresRepository) SetSessionStatus(ctx context.Context, sessionKey string, update StatusUpdate) (models.StreamSession, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
UPDATE stream_sessions
SET status = $2,
    started_at = COALESCE($3, started_at),
    ended_at = COALESCE($4, ended_at),
    updated_at = now()
WHERE session_key = $1
RETURNING `+sessionColumns, sessionKey, update.Status, expiresAtUTC(update.StartedAt), expiresAtUTC(update.EndedAt))
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StreamSession{}, ErrNotFound
		}
		return models.StreamSession{}, fmt.Errorf("update session status: %w", err)
	}
	return session, nil
}

func (r *PostgresRepository) DeleteStreamSession(ctx context.Context, sessionKey string) (models.StreamSession, bool, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
DELETE FROM stream_sessions
WHERE session_key = $1
RETURNING `+sessionColumns, sessionKey)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StreamSession{}, false, nil
		}
		return models.StreamSession{}, false, fmt.Errorf("delete stream session: %w", err)
	}
	return session, true, nil
}

func scanSession(row pgx.Row) (models.StreamSession, error) {
	var session models.StreamSession
	var description *string
	var status string
	var startedAt, endedAt *time.Time
	err := row.Scan(&session.SessionKey, &session.OwnerID, &session.BroadcastID, &session.StreamID,
		&session.IngestKey, &session.IngestURL, &session.Title, &description, &session.Privacy,
		&status, &startedAt, &endedAt, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return models.StreamSession{}, err
	}
	if description != nil {
		session.Description = *description
	}
	if parsed, ok := models.ParseSessionStatus(status); ok {
		session.Status = parsed
	} else {
		session.Status = models.SessionStatus(status)
	}
	session.StartedAt = startedAt
	session.EndedAt = endedAt
	return session, nil
}

func (r *PostgresRepository) CreateRecording(ctx context.Context, params CreateRecordingParams) (models.Recording, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
INSERT INTO recordings (id, session_key, user_id, filename, file_path, file_size, duration, format)
VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7)
RETURNING id, session_key, user_id, filename, file_path, file_size, duration, format, created_at
`, params.SessionKey, params.UserID, params.Filename, params.FilePath, params.SizeBytes, params.Duration, params.Format)
	var rec models.Recording
	var format *string
	if err := row.Scan(&rec.ID, &rec.SessionKey, &rec.UserID, &rec.Filename, &rec.FilePath,
		&rec.SizeBytes, &rec.Duration, &format, &rec.CreatedAt); err != nil {
		return models.Recording{}, fmt.Errorf("create recording: %w", err)
	}
	if format != nil {
		rec.Format = *format
	}
	return rec, nil
}

func (r *PostgresRepository) ListRecordings(ctx context.Context, sessionKey string) ([]models.Recording, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT id, session_key, user_id, filename, file_path, file_size, duration, format, created_at
FROM recordings
WHERE session_key = $1
ORDER BY created_at DESC
`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	recordings := []models.Recording{}
	for rows.Next() {
		var rec models.Recording
		var format *string
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &rec.UserID, &rec.Filename, &rec.FilePath,
			&rec.SizeBytes, &rec.Duration, &format, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if format != nil {
			rec.Format = *format
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recordings, nil
}

func (r *PostgresRepository) CreateSnapshot(ctx context.Context, params CreateSnapshotParams) (models.Snapshot, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
INSERT INTO snapshots (id, session_key, user_id, filename, file_path, file_size)
VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
RETURNING id, session_key, user_id, filename, file_path, file_size, created_at
`, params.SessionKey, params.UserID, params.Filename, params.FilePath, params.SizeBytes)
	var snap models.Snapshot
	if err := row.Scan(&snap.ID, &snap.SessionKey, &snap.UserID, &snap.Filename,
		&snap.FilePath, &snap.SizeBytes, &snap.CreatedAt); err != nil {
		return models.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	return snap, nil
}

func (r *PostgresRepository) ListSnapshots(ctx context.Context, sessionKey string) ([]models.Snapshot, error) {
	ctx, cancel := r.boundAcquire(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT id, session_key, user_id, filename, file_path, file_size, created_at
FROM snapshots
WHERE session_key = $1
ORDER BY created_at DESC
`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []models.Snapshot{}
	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.SessionKey, &snap.UserID, &snap.Filename,
			&snap.FilePath, &snap.SizeBytes, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}
