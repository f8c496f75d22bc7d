// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingBody is returned when the completion endpoint answers with
	// a 2xx status but no response body to stream from.
	ErrMissingBody = errors.New("agent: completion response has no body")

	// ErrSessionRejected is returned when the session endpoint answers with
	// a non-zero protocol code.
	ErrSessionRejected = errors.New("agent: session creation rejected")
)

// =============================================================================
// HTTPClient Interface
// =============================================================================

// HTTPClient abstracts the HTTP transport so tests can inject canned
// responses without a network.
//
// The production implementation wraps *http.Client. Implementations must
// honor the request context for cancellation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPClient is the production HTTPClient backed by net/http.
type defaultHTTPClient struct {
	client *http.Client
}

func (c *defaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// =============================================================================
// Client
// =============================================================================

// Config holds the connection parameters for one agent.
//
// All three identity fields are required; validation happens in pkg/config
// before a Client is ever constructed. Timeout defaults to 5 minutes, long
// enough for slow completions but bounded.
type Config struct {
	APIURL  string        // Base URL without trailing slash (required)
	AgentID string        // Agent identifier in the URL path (required)
	APIKey  string        // Bearer token (required)
	Timeout time.Duration // HTTP timeout (optional)
}

// Client talks to one remote agent.
//
// # Description
//
// Client owns the two protocol operations: session creation and the
// streaming completion POST. It returns the completion body as an unread
// stream; decoding is the caller's concern (pkg/stream).
//
// # Thread Safety
//
// Client is immutable after construction and safe for concurrent use.
type Client struct {
	http    HTTPClient
	apiURL  string
	agentID string
	apiKey  string
}

// NewClient creates a production Client from config.
//
// The base URL is normalized (trailing slash stripped) so endpoint paths
// can be joined naively.
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		http:    &defaultHTTPClient{client: &http.Client{Timeout: timeout}},
		apiURL:  strings.TrimRight(config.APIURL, "/"),
		agentID: config.AgentID,
		apiKey:  config.APIKey,
	}
}

// NewClientWithHTTP creates a Client with an injected transport.
//
// Use this constructor in tests with a mock HTTPClient.
func NewClientWithHTTP(http HTTPClient, config Config) *Client {
	return &Client{
		http:    http,
		apiURL:  strings.TrimRight(config.APIURL, "/"),
		agentID: config.AgentID,
		apiKey:  config.APIKey,
	}
}

// CreateSession obtains a server-side conversation handle.
//
// # Description
//
// POSTs to /api/v1/agents/{agentId}/sessions and returns the session id
// from the {code:0,data:{id}} envelope. A non-2xx status or a non-zero
// protocol code is a transport error per the error taxonomy: the caller
// surfaces one notice and does not retry automatically.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//
// # Outputs
//
//   - string: The session id. Reused across every completion in this chat.
//   - error: Non-nil on marshal, network, status, or envelope errors.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/api/v1/agents/%s/sessions", c.apiURL, c.agentID)

	resp, err := c.post(ctx, url, map[string]any{})
	if err != nil {
		return "", err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("session creation failed",
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return "", fmt.Errorf("agent: session endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("agent: decode session response: %w", err)
	}
	if envelope.Code != 0 || envelope.Data.ID == "" {
		slog.Error("session creation rejected",
			"code", envelope.Code,
			"message", envelope.Message,
		)
		return "", fmt.Errorf("%w: code %d %s", ErrSessionRejected, envelope.Code, envelope.Message)
	}

	slog.Debug("session created", "session_id", envelope.Data.ID)
	return envelope.Data.ID, nil
}

// Completion starts a streaming completion and returns the raw body.
//
// # Description
//
// POSTs {question, stream:true, session_id} to the completions endpoint
// and hands back the unread response body. The caller owns the stream and
// must close it; pkg/stream.Decoder consumes it frame by frame.
//
// # Outputs
//
//   - io.ReadCloser: The streamed frame source. Never nil on nil error.
//   - error: Non-nil on marshal, network, or status errors. The body is
//     drained and closed on the error paths.
func (c *Client) Completion(ctx context.Context, req CompletionRequest) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/api/v1/agents/%s/completions", c.apiURL, c.agentID)

	resp, err := c.post(ctx, url, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp.Body)
		slog.Error("completion request failed",
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return nil, fmt.Errorf("agent: completion endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	if resp.Body == nil {
		return nil, ErrMissingBody
	}

	return resp.Body, nil
}

// post marshals body and sends an authenticated POST.
func (c *Client) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("agent HTTP request failed", "url", url, "error", err)
		return nil, fmt.Errorf("agent: http post: %w", err)
	}
	return resp, nil
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		slog.Error("failed to close response body", "error", err)
	}
}
