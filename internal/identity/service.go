// Package identity issues and verifies the signed bearer tokens that bind a
// user account to API requests, independent of any provider credential.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pressconnect/internal/models"
	"pressconnect/internal/storage"
)

var (
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords so responses never reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned when the requested username is in use.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrEmailTaken is returned when the requested email is in use.
	ErrEmailTaken = errors.New("email already exists")
	// ErrValidation marks user-correctable input problems.
	ErrValidation = errors.New("validation failed")
)

const (
	passwordMinLength = 6
	bcryptCost        = 12
	defaultTokenTTL   = 24 * time.Hour
)

// Claims is the token payload. The claim set is deterministic for a given
// user so re-issued tokens differ only in their timestamps.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Config controls token signing. Secret is mandatory; the service refuses to
// construct without one rather than falling back to a default.
type Config struct {
	Secret   string
	TokenTTL time.Duration
}

// Service authenticates accounts and manages their bearer tokens.
type Service struct {
	store    storage.Repository
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService constructs the identity service. An empty signing secret is a
// configuration error, never silently defaulted.
func NewService(store storage.Repository, cfg Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: repository is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("identity: signing secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{
		store:    store,
		secret:   []byte(cfg.Secret),
		tokenTTL: ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register creates an account and returns it with a fresh token. The username
// is checked for collisions before the email.
func (s *Service) Register(ctx context.Context, username, email, password string) (models.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return models.User{}, "", fmt.Errorf("%w: username, email, and password are required", ErrValidation)
	}
	if len(password) < passwordMinLength {
		return models.User{}, "", fmt.Errorf("%w: password must be at least %d characters long", ErrValidation, passwordMinLength)
	}

	if _, exists, err := s.store.GetUserByUsername(ctx, username); err != nil {
		return models.User{}, "", fmt.Errorf("check username: %w", err)
	} else if exists {
		return models.User{}, "", ErrUsernameTaken
	}
	if _, exists, err := s.store.GetUserByEmail(ctx, email); err != nil {
		return models.User{}, "", fmt.Errorf("check email: %w", err)
	} else if exists {
		return models.User{}, "", ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, storage.CreateUserParams{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race with a concurrent registration; the unique
			// constraint is authoritative.
			return models.User{}, "", ErrUsernameTaken
		}
		return models.User{}, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.IssueToken(user.ID, user.Username, user.Email)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Authenticate verifies a password against the account found by username or
// email and returns the account with a fresh token.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (models.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return models.User{}, "", ErrInvalidCredentials
	}

	user, found, err := s.store.GetUserByUsername(ctx, identifier)
	if err != nil {
		return models.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		user, found, err = s.store.GetUserByEmail(ctx, identifier)
		if err != nil {
			return models.User{}, "", fmt.Errorf("lookup user: %w", err)
		}
	}
	if !found {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID, user.Username, user.Email)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// IssueToken signs a bearer token carrying the user's identity claims.
func (s *Service) IssueToken(userID, username, email string) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry. Any failure, whether a
// malformed token, a bad signature, or expiry, reports a plain false.
func (s *Service) VerifyToken(tokenString string) (Claims, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return Claims{}, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return Claims{}, false
	}
	return *claims, true
}
