// Package client is a Go client for the tasksync HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "X-Idempotent-Replay"
)

// ErrNoToken is returned by authenticated calls on a client without a token.
var ErrNoToken = errors.New("client has no bearer token")

// APIError is a non-2xx response. Fields mirror the RFC 7807 problem body.
type APIError struct {
	Status int
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("tasksync: %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("tasksync: %d %s", e.Status, http.StatusText(e.Status))
}

// Client talks to one tasksync server on behalf of one owner.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SyncResponse is a sync result plus whether it was replayed from the
// server's idempotency cache.
type SyncResponse struct {
	types.SyncResult
	Replayed bool
}

// Ping checks server health. It does not need a token.
func (c *Client) Ping(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync submits changes and drains the owner's queue. A non-empty
// idempotencyKey lets the call be retried safely.
func (c *Client) Sync(ctx context.Context, req types.SyncRequest, idempotencyKey string) (*SyncResponse, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{idempotencyHeader: []string{idempotencyKey}}
	}
	var out SyncResponse
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/sync", req, hdr, true, &out.SyncResult)
	if err != nil {
		return nil, err
	}
	out.Replayed = resp.Header.Get(replayHeader) == "true"
	return &out, nil
}

// Enqueue appends changes to the owner's queue without draining it.
func (c *Client) Enqueue(ctx context.Context, changes []types.ClientChange) ([]types.QueuedOperation, error) {
	var out types.EnqueueResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/sync/queue", types.EnqueueRequest{Changes: changes}, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Queued, nil
}

// Status returns the owner's queue depth and recent sessions.
func (c *Client) Status(ctx context.Context) (*types.SyncStatusReport, error) {
	var out types.SyncStatusReport
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists the owner's tasks.
func (c *Client) Tasks(ctx context.Context, includeDeleted bool) ([]types.Task, error) {
	path := "/api/v1/tasks"
	if includeDeleted {
		path += "?include_deleted=" + strconv.FormatBool(includeDeleted)
	}
	var out []types.Task
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Task fetches one task by server id.
func (c *Client) Task(ctx context.Context, id string) (*types.Task, error) {
	var out types.Task
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, authed bool, out any) (*http.Response, error) {
	if authed && c.token == "" {
		return nil, ErrNoToken
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// Best effort; a non-problem body still yields the status.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}
