// Package broadcast drives the lifecycle of live broadcasts: it provisions
// remote broadcast+ingest pairs through a streaming provider, materialises
// them as local stream sessions, and moves those sessions through their
// created -> active -> ended lifecycle.
package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreateBroadcastRequest describes the remote broadcast resource to provision.
type CreateBroadcastRequest struct {
	Title          string
	Description    string
	ScheduledStart time.Time
	Privacy        string
	AutoStart      bool
	AutoStop       bool
}

// CreateStreamRequest describes the ingest stream resource to provision.
type CreateStreamRequest struct {
	Title      string
	IngestType string
	Resolution string
	FrameRate  string
}

// RemoteBroadcast is the provider's broadcast resource.
type RemoteBroadcast struct {
	ID       string
	Title    string
	WatchURL string
}

// RemoteStream is the provider's ingest stream resource, including where and
// with which secret media should be pushed.
type RemoteStream struct {
	ID        string
	IngestURL string
	IngestKey string
}

// Provider is the narrow capability surface consumed from a remote streaming
// platform. Every call authenticates with the caller-supplied bearer token.
// The delete operations exist to compensate partially provisioned resources.
type Provider interface {
	CreateBroadcast(ctx context.Context, accessToken string, req CreateBroadcastRequest) (RemoteBroadcast, error)
	CreateIngestStream(ctx context.Context, accessToken string, req CreateStreamRequest) (RemoteStream, error)
	BindBroadcastToStream(ctx context.Context, accessToken, broadcastID, streamID string) error
	TransitionBroadcast(ctx context.Context, accessToken, broadcastID, status string) error
	DeleteBroadcast(ctx context.Context, accessToken, broadcastID string) error
	DeleteIngestStream(ctx context.Context, accessToken, streamID string) error
}

// ProviderError is a classified failure reported by the remote provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// AuthFailure reports whether the provider rejected our credential; the
// caller must re-authenticate with the provider.
func (e *ProviderError) AuthFailure() bool {
	if e.StatusCode == 401 {
		return true
	}
	return e.StatusCode == 403 && !e.QuotaExceeded()
}

// QuotaExceeded reports whether the provider signalled a rate or quota limit.
// Providers express this as a 403 with a quota message or as a plain 429.
func (e *ProviderError) QuotaExceeded() bool {
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode == 403 && strings.Contains(strings.ToLower(e.Message), "quota")
}
