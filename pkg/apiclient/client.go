// Package apiclient provides a REST client for usbsas-cli to talk to the
// front-end session controller's HTTP surface, following the
// shared request/response plumbing every subcommand builds on.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the usbsas front-end API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	adminToken string
	sessionID  string
}

// New creates a new Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAdminToken returns a copy of c that authenticates admin routes.
func (c *Client) WithAdminToken(token string) *Client {
	clone := *c
	clone.adminToken = token
	return &clone
}

// WithSession returns a copy of c scoped to sessionID, so every
// session-scoped call targets /api/v1/sessions/<sessionID>/....
func (c *Client) WithSession(sessionID string) *Client {
	clone := *c
	clone.sessionID = sessionID
	return &clone
}

// SessionID returns the session this client is currently scoped to.
func (c *Client) SessionID() string { return c.sessionID }

// response mirrors pkg/api.Response's wire shape.
type response struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// APIError represents an error response from the front-end.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("usbsas API error (%d): %s", e.StatusCode, e.Message)
}

// do performs an HTTP request against path, decoding the wrapped "data"
// field into result when non-nil.
func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("apiclient: read response: %w", err)
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		}
		return fmt.Errorf("apiclient: decode response: %w", err)
	}

	if resp.StatusCode >= 400 || env.Status == "error" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("apiclient: decode data: %w", err)
		}
	}
	return nil
}

// doStream performs an HTTP request and returns the raw response body for
// streaming newline-delimited JSON (the copy/wipe/imgdisk progress feed),
// bypassing the Response envelope those endpoints don't use for success.
func (c *Client) doStream(method, path string, body any) (io.ReadCloser, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var env response
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Error}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	return resp.Body, nil
}

func (c *Client) sessionPath(suffix string) string {
	return "/api/v1/sessions/" + c.sessionID + suffix
}
