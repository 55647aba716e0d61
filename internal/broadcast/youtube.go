package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeProvider implements Provider against the YouTube Live Streaming API.
// Each call authenticates with the bearer token supplied by the caller; the
// provider itself holds no credentials.
type YouTubeProvider struct {
	baseURL string
	client  *http.Client
}

// YouTubeOption customises the provider client.
type YouTubeOption func(*YouTubeProvider)

// WithBaseURL points the client at an alternate API endpoint, used by tests.
func WithBaseURL(base string) YouTubeOption {
	return func(p *YouTubeProvider) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			p.baseURL = trimmed
		}
	}
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) YouTubeOption {
	return func(p *YouTubeProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewYouTubeProvider constructs a YouTube Live API client.
func NewYouTubeProvider(opts ...YouTubeOption) *YouTubeProvider {
	provider := &YouTubeProvider{
		baseURL: defaultYouTubeBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

type youtubeErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *YouTubeProvider) do(ctx context.Context, token, method, path string, query url.Values, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(payload))
		var envelope youtubeErrorEnvelope
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
		return &ProviderError{StatusCode: resp.StatusCode, Message: message}
	}
	if dest != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, dest); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

type broadcastResource struct {
	ID      string `json:"id"`
	Snippet struct {
		Title string `json:"title"`
	} `json:"snippet"`
}

// CreateBroadcast provisions a liveBroadcast resource.
func (p *YouTubeProvider) CreateBroadcast(ctx context.Context, accessToken string, req CreateBroadcastRequest) (RemoteBroadcast, error) {
	body := map[string]any{
		"snippet": map[string]any{
			"title":              req.Title,
			"description":        req.Description,
			"scheduledStartTime": req.ScheduledStart.UTC().Format(time.RFC3339),
		},
		"status": map[string]any{
			"privacyStatus":           req.Privacy,
			"selfDeclaredMadeForKids": false,
		},
		"contentDetails": map[string]any{
			"enableAutoStart": req.AutoStart,
			"enableAutoStop":  req.AutoStop,
		},
	}
	query := url.Values{"part": {"id,snippet,contentDetails,status"}}
	var resource broadcastResource
	if err := p.do(ctx, accessToken, http.MethodPost, "/liveBroadcasts", query, body, &resource); err != nil {
		return RemoteBroadcast{}, err
	}
	return RemoteBroadcast{
		ID:       resource.ID,
		Title:    resource.Snippet.Title,
		WatchURL: "https://www.youtube.com/watch?v=" + resource.ID,
	}, nil
}

type streamResource struct {
	ID  string `json:"id"`
	CDN struct {
		IngestionInfo struct {
			StreamName       string `json:"streamName"`
			IngestionAddress string `json:"ingestionAddress"`
		} `json:"ingestionInfo"`
	} `json:"cdn"`
}

// CreateIngestStream provisions a liveStream resource describing the RTMP
// ingest point.
func (p *YouTubeProvider) CreateIngestStream(ctx context.Context, accessToken string, req CreateStreamRequest) (RemoteStream, error) {
	body := map[string]any{
		"snippet": map[string]any{
			"title": req.Title,
		},
		"cdn": map[string]any{
			"ingestionType": req.IngestType,
			"resolution":    req.Resolution,
			"frameRate":     req.FrameRate,
		},
	}
	query := url.Values{"part": {"id,snippet,cdn,status"}}
	var resource streamResource
	if err := p.do(ctx, accessToken, http.MethodPost, "/liveStreams", query, body, &resource); err != nil {
		return RemoteStream{}, err
	}
	return RemoteStream{
		ID:        resource.ID,
		IngestURL: resource.CDN.IngestionInfo.IngestionAddress,
		IngestKey: resource.CDN.IngestionInfo.StreamName,
	}, nil
}

// BindBroadcastToStream links a broadcast to its ingest stream.
func (p *YouTubeProvider) BindBroadcastToStream(ctx context.Context, accessToken, broadcastID, streamID string) error {
	query := url.Values{
		"part":     {"id"},
		"id":       {broadcastID},
		"streamId": {streamID},
	}
	return p.do(ctx, accessToken, http.MethodPost, "/liveBroadcasts/bind", query, nil, nil)
}

// TransitionBroadcast moves a broadcast into the requested lifecycle status.
func (p *YouTubeProvider) TransitionBroadcast(ctx context.Context, accessToken, broadcastID, status string) error {
	query := url.Values{
		"part":            {"id"},
		"id":              {broadcastID},
		"broadcastStatus": {status},
	}
	return p.do(ctx, accessToken, http.MethodPost, "/liveBroadcasts/transition", query, nil, nil)
}

// DeleteBroadcast removes a broadcast resource.
func (p *YouTubeProvider) DeleteBroadcast(ctx context.Context, accessToken, broadcastID string) error {
	query := url.Values{"id": {broadcastID}}
	return p.do(ctx, accessToken, http.MethodDelete, "/liveBroadcasts", query, nil, nil)
}

// DeleteIngestStream removes a liveStream resource.
func (p *YouTubeProvider) DeleteIngestStream(ctx context.Context, accessToken, streamID string) error {
	query := url.Values{"id": {streamID}}
	return p.do(ctx, accessToken, http.MethodDelete, "/liveStreams", query, nil, nil)
}

var _ Provider = (*YouTubeProvider)(nil)
