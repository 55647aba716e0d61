// Package events publishes session lifecycle notifications to a Redis
// stream so other services can react to broadcasts going live or ending.
// Publishing is best-effort: failures are logged and never propagate into
// the request path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pressconnect/internal/models"
)

// Lifecycle event types written to the stream.
const (
	TypeSessionCreated = "session.created"
	TypeSessionStarted = "session.started"
	TypeSessionEnded   = "session.ended"
)

// Event is the stream payload describing a session lifecycle change.
type Event struct {
	Type        string `json:"type"`
	SessionKey  string `json:"sessionKey"`
	OwnerID     string `json:"ownerId"`
	BroadcastID string `json:"broadcastId"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	OccurredAt  string `json:"occurredAt"`
}

// RedisPublisherConfig configures the Redis-backed lifecycle publisher.
type RedisPublisherConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLen       int64
	Logger       *slog.Logger
}

// RedisPublisher appends lifecycle events to a capped Redis stream.
type RedisPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisPublisher connects a lifecycle publisher to Redis. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisPublisher(cfg RedisPublisherConfig) (*RedisPublisher, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "pressconnect:sessions"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 4096
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping verifies the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) publish(ctx context.Context, eventType string, session models.StreamSession) {
	event := Event{
		Type:        eventType,
		SessionKey:  session.SessionKey,
		OwnerID:     session.OwnerID,
		BroadcastID: session.BroadcastID,
		Status:      string(session.Status),
		Title:       session.Title,
		OccurredAt:  p.now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal lifecycle event failed", "type", eventType, "error", err)
		return
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		p.logger.Error("publish lifecycle event failed",
			"type", eventType, "sessionKey", session.SessionKey, "error", err)
	}
}

// SessionCreated records a freshly provisioned session.
func (p *RedisPublisher) SessionCreated(ctx context.Context, session models.StreamSession) {
	p.publish(ctx, TypeSessionCreated, session)
}

// SessionStarted records a session going live.
func (p *RedisPublisher) SessionStarted(ctx context.Context, session models.StreamSession) {
	p.publish(ctx, TypeSessionStarted, session)
}

// SessionEnded records a session reaching its terminal state.
func (p *RedisPublisher) SessionEnded(ctx context.Context, session models.StreamSession) {
	p.publish(ctx, TypeSessionEnded, session)
}
