// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SessionClient drives and reads CLI-facing sessions. Access through
// [Client.Sessions].
type SessionClient struct {
	c *Client
}

// List returns every session known to the master, merged with live
// WebSocket state where connected.
func (s *SessionClient) List(ctx context.Context) ([]Session, error) {
	data, err := s.c.get(ctx, "/api/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse sessions response: %w", err)
	}
	return out.Sessions, nil
}

// SendMessage delivers a text prompt to a session, returning the delivery
// method the master used ("websocket" or "tmux").
func (s *SessionClient) SendMessage(ctx context.Context, name, text string) (string, error) {
	data, err := s.c.postJSON(ctx, "/api/sessions/"+url.PathEscape(name)+"/message", map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", name, err)
	}
	var out struct {
		Success bool   `json:"success"`
		Method  string `json:"method"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse send-message response: %w", err)
	}
	return out.Method, nil
}

// ApproveTool resolves a pending tool-use approval for a session.
func (s *SessionClient) ApproveTool(ctx context.Context, name, requestID, action, message string) error {
	body := map[string]string{"requestId": requestID, "action": action}
	if message != "" {
		body["message"] = message
	}
	_, err := s.c.postJSON(ctx, "/api/sessions/"+url.PathEscape(name)+"/approve-tool", body)
	if err != nil {
		return fmt.Errorf("approve tool for %s: %w", name, err)
	}
	return nil
}

// Diff returns the unified diff for one file in a session's worktree.
func (s *SessionClient) Diff(ctx context.Context, name, file string) (string, error) {
	query := url.Values{"file": {file}}
	data, err := s.c.get(ctx, "/api/sessions/"+url.PathEscape(name)+"/diff", query)
	if err != nil {
		return "", fmt.Errorf("diff %s in %s: %w", file, name, err)
	}
	var out struct {
		Diff string `json:"diff"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse diff response: %w", err)
	}
	return out.Diff, nil
}
