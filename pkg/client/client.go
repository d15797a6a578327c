// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client for the CSM master's REST API.
//
// Create a client pointing at a running master:
//
//	c := client.New("http://localhost:7600", client.WithToken(token))
//	workers, err := c.Workers.List(ctx)
//
// The worker agent uses the same Client (via its Worker sub-client) to
// push events upstream; the Worker sub-client also offers full-state syncs.
package client

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

// Client is a CSM master API client, safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// Worker pushes worker events and full-state syncs to the master.
	Worker *WorkerClient

	// Sessions reads and drives CLI-facing sessions.
	Sessions *SessionClient

	// Workers lists known worker records and their derived status.
	Workers *WorkersClient

	// Events reads the bounded event log.
	Events *EventClient

	// Auth manages the single opaque bearer token.
	Auth *AuthClient

	// Config reads and patches master configuration.
	Config *ConfigClient
}

// Option configures a Client.
type Option func(*Client)

// New creates a Client for the master at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Worker = &WorkerClient{c: c}
	c.Sessions = &SessionClient{c: c}
	c.Workers = &WorkersClient{c: c}
	c.Events = &EventClient{c: c}
	c.Auth = &AuthClient{c: c}
	c.Config = &ConfigClient{c: c}
	return c
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// SetToken updates the bearer token after construction, e.g. once
// /api/auth/setup has returned it.
func (c *Client) SetToken(token string) { c.token = token }

// APIError is returned for any non-2xx response; Message is the server's
// literal `{error:"<message>"}` body per the error contract.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("csm api: %d: %s", e.StatusCode, e.Message)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

func (c *Client) patchJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPatch, path, bytes.NewReader(data))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		message := string(respBody)
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	return respBody, nil
}
