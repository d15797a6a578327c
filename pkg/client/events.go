// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// EventClient reads the master's bounded event log. Access through
// [Client.Events].
type EventClient struct {
	c *Client
}

// ListOptions configures event-log pagination.
type ListOptions struct {
	// Limit caps the number of events returned (server enforces ≤200).
	Limit int
	// Before restricts to events older than this ISO-8601 timestamp.
	Before string
}

// EventRecord is one entry of the event log, newest-first as returned by
// the server.
type EventRecord struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	WorkerID    string          `json:"workerId"`
	SessionName string          `json:"sessionName,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// List returns recent events, newest-first.
func (e *EventClient) List(ctx context.Context, opts *ListOptions) (events []EventRecord, hasMore bool, total int, err error) {
	query := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Before != "" {
			query.Set("before", opts.Before)
		}
	}

	data, err := e.c.get(ctx, "/api/events", query)
	if err != nil {
		return nil, false, 0, fmt.Errorf("list events: %w", err)
	}
	var out struct {
		Events  []EventRecord `json:"events"`
		HasMore bool          `json:"hasMore"`
		Total   int           `json:"total"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, 0, fmt.Errorf("parse events response: %w", err)
	}
	return out.Events, out.HasMore, out.Total, nil
}

// State returns the consolidated GET /api/state view.
func (e *EventClient) State(ctx context.Context) (json.RawMessage, error) {
	data, err := e.c.get(ctx, "/api/state", nil)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return data, nil
}
