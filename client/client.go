// Package client is a Go wrapper around the tokengate HTTP API, one method
// per engine operation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/tokengate/api"
	"github.com/yourusername/tokengate/metrics"
)

// Client talks to a tokengate server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tokengate: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

// Metrics fetches the process-wide admission counters.
func (c *Client) Metrics(ctx context.Context) (metrics.Snapshot, error) {
	var out metrics.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &out)
	return out, err
}

// Check asks whether a request under key is allowed. Zero capacity leaves
// the server-side policy untouched; pass a positive capacity together with
// a refill rate to reconfigure the bucket.
func (c *Client) Check(ctx context.Context, key string, capacity int64, refillRate float64) (api.CheckResponse, error) {
	req := api.CheckRequest{Key: key}
	if capacity > 0 {
		req.Capacity = &capacity
		req.RefillRate = &refillRate
	}

	var out api.CheckResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/check", req, &out)
	return out, err
}

// Penalty removes points tokens from key's bucket.
func (c *Client) Penalty(ctx context.Context, key string, points int64) (api.AdjustResponse, error) {
	var out api.AdjustResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/penalty",
		api.AdjustRequest{Key: key, Points: points}, &out)
	return out, err
}

// Reward adds points tokens to key's bucket.
func (c *Client) Reward(ctx context.Context, key string, points int64) (api.AdjustResponse, error) {
	var out api.AdjustResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/reward",
		api.AdjustRequest{Key: key, Points: points}, &out)
	return out, err
}

// Block denies all of key's requests for the given duration.
func (c *Client) Block(ctx context.Context, key string, duration time.Duration) (api.BlockResponse, error) {
	var out api.BlockResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/block",
		api.BlockRequest{Key: key, Duration: duration.Milliseconds()}, &out)
	return out, err
}

// Unblock clears key's block window.
func (c *Client) Unblock(ctx context.Context, key string) (api.UnblockResponse, error) {
	var out api.UnblockResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/unblock",
		api.UnblockRequest{Key: key}, &out)
	return out, err
}

// Status fetches key's current limiter state.
func (c *Client) Status(ctx context.Context, key string) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/limiter/status/"+url.PathEscape(key), nil, &out)
	return out, err
}

// Reset restores key's bucket to full capacity.
func (c *Client) Reset(ctx context.Context, key string) (api.ResetResponse, error) {
	var out api.ResetResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/limiter/reset/"+url.PathEscape(key), nil, &out)
	return out, err
}

// Delete removes key's limiter.
func (c *Client) Delete(ctx context.Context, key string) (api.DeleteResponse, error) {
	var out api.DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/limiter/"+url.PathEscape(key), nil, &out)
	return out, err
}

// List enumerates every tracked limiter.
func (c *Client) List(ctx context.Context) (api.ListResponse, error) {
	var out api.ListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/limiters", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 429 carries a regular check response body, not an error payload
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusTooManyRequests {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Code: "unknown", Message: resp.Status}
		}
		return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
