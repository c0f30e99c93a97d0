// Package scm is a small JSON client for the GitHub and GitLab REST APIs.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/splax/instantiate/internal/domain"
)

// Client performs JSON requests against provider APIs.
type Client struct {
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client.
func New(opts ...Option) *Client {
	cli := &Client{httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// APIError represents a non-2xx provider response.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("scm request failed with status %d", e.Status)
	}
	return fmt.Sprintf("scm request failed (%d): %s", e.Status, e.Message)
}

// Headers returns the authentication and media headers a provider expects.
// An empty token yields headers without authentication.
func Headers(provider domain.Provider, token string) http.Header {
	h := http.Header{}
	token = strings.TrimSpace(token)
	switch provider {
	case domain.ProviderGitLab:
		if token != "" {
			h.Set("PRIVATE-TOKEN", token)
		}
	default:
		h.Set("Accept", "application/vnd.github+json")
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

// Do sends body as JSON and decodes the response into v when v is non-nil.
func (c *Client) Do(ctx context.Context, method, endpoint string, headers http.Header, body, v any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Message != "" {
		return strings.TrimSpace(payload.Message)
	}
	return strings.TrimSpace(payload.Error)
}
