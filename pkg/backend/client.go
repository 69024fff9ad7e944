// Package backend is the client for the remote data service. The
// service owns all entities; this engine only caches them. Responses
// are mapped onto the shared error taxonomy so callers can classify
// failures without inspecting HTTP details.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quanta-social/feedengine/pkg/entities"
)

type Options struct {
	BaseUrl         string
	EventsUrl       string
	FetchTimeout    time.Duration
	MutationTimeout time.Duration
}

type Client struct {
	baseUrl         string
	eventsUrl       string
	http            *http.Client
	mutationTimeout time.Duration
}

func NewClient(opts Options) *Client {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 15 * time.Second
	}
	return &Client{
		baseUrl:         opts.BaseUrl,
		eventsUrl:       opts.EventsUrl,
		http:            &http.Client{Timeout: opts.FetchTimeout},
		mutationTimeout: opts.MutationTimeout,
	}
}

// MutationTimeout is the bound applied to interaction mutations.
func (c *Client) MutationTimeout() time.Duration {
	return c.mutationTimeout
}

type FeedPageResp struct {
	Items      []entities.Post   `json:"items"`
	Avatars    []entities.Avatar `json:"avatars"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// FetchFeedPage requests one page of the feed. An empty cursor starts
// from the beginning. Each returned item carries a version for the
// cache's conflict gating; Avatars holds the authors of the page's
// items so author state is cached alongside the posts.
func (c *Client) FetchFeedPage(ctx context.Context, cursor string, limit int) (*FeedPageResp, error) {
	url := fmt.Sprintf("%s/feed?limit=%d", c.baseUrl, limit)
	if cursor != "" {
		url += "&cursor=" + cursor
	}

	var resp FeedPageResp
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type MutateInteractionReq struct {
	Kind     entities.ToggleKind `json:"kind"`
	EntityId string              `json:"entity_id"`
	Desired  bool                `json:"desired"`
}

type MutateInteractionResp struct {
	Counters  entities.Counters `json:"counters"`
	Followers int64             `json:"followers"`

	// Version is the confirmed interaction state version;
	// EntityVersion is the parent post or avatar version after the
	// mutation.
	Version       int64 `json:"version"`
	EntityVersion int64 `json:"entity_version"`
}

// MutateInteraction applies a like/bookmark/follow state change. The
// endpoint is idempotent on (kind, entityId, desired), which makes a
// retry after timeout safe.
func (c *Client) MutateInteraction(ctx context.Context, kind entities.ToggleKind, entityId string, desired bool) (*MutateInteractionResp, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	defer cancel()

	req := MutateInteractionReq{Kind: kind, EntityId: entityId, Desired: desired}
	var resp MutateInteractionResp
	if err := c.doJSON(ctx, http.MethodPost, c.baseUrl+"/interactions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type CreateCommentReq struct {
	TempId string `json:"temp_id"`
	Text   string `json:"text"`
}

// CreateComment submits a comment. The client-generated temp ID lets
// the backend deduplicate a retried submission.
func (c *Client) CreateComment(ctx context.Context, postId, tempId, text string) (*entities.Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	defer cancel()

	req := CreateCommentReq{TempId: tempId, Text: text}
	var resp entities.Comment
	if err := c.doJSON(ctx, http.MethodPost, c.baseUrl+"/posts/"+postId+"/comments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type VersionDiffReq struct {
	Since []VersionRef `json:"since"`
}

type VersionRef struct {
	Kind    entities.Kind `json:"kind"`
	Id      string        `json:"id"`
	Version int64         `json:"version"`
}

type VersionDiffResp struct {
	Patches []entities.RemotePatch `json:"patches"`
}

// FetchVersionDiff returns the patches needed to bring the given
// entity versions up to date, used after a realtime reconnect.
func (c *Client) FetchVersionDiff(ctx context.Context, since []VersionRef) ([]entities.RemotePatch, error) {
	var resp VersionDiffResp
	if err := c.doJSON(ctx, http.MethodPost, c.baseUrl+"/sync/diff", VersionDiffReq{Since: since}, &resp); err != nil {
		return nil, err
	}
	return resp.Patches, nil
}

// DialEvents opens the realtime push channel.
func (c *Client) DialEvents(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventsUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial events: %v", entities.ErrNetwork, err)
	}
	return conn, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", entities.ErrNetwork, err)
		}
	}
	return nil
}

func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return entities.ErrAuthRequired
	case code == http.StatusNotFound:
		return entities.ErrNotFound
	case code == http.StatusConflict:
		return entities.ErrConflict
	default:
		return fmt.Errorf("%w: status %d", entities.ErrNetwork, code)
	}
}
