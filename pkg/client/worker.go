// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danilotorrisi/csm/internal/workerstore"
)

// WorkerClient is the worker-facing half of the API: pushing individual
// events and full-state syncs upstream. Access through [Client.Worker].
type WorkerClient struct {
	c *Client
}

// PushEvent posts a single worker event to /api/worker-events.
//
// PushEvent implements the worker.Pusher interface directly, so a
// *WorkerClient (Client.Worker) can be handed to worker.NewAgent without an
// adapter.
func (w *WorkerClient) PushEvent(ctx context.Context, ev workerstore.WorkerEvent) error {
	_, err := w.c.postJSON(ctx, "/api/worker-events", ev)
	if err != nil {
		return fmt.Errorf("push worker event: %w", err)
	}
	return nil
}

// Sync posts a full-state sync to /api/worker-sync.
func (w *WorkerClient) Sync(ctx context.Context, workerID string, sessions []WorkerSyncSession) error {
	body := struct {
		WorkerID string              `json:"workerId,omitempty"`
		Sessions []WorkerSyncSession `json:"sessions"`
	}{WorkerID: workerID, Sessions: sessions}

	_, err := w.c.postJSON(ctx, "/api/worker-sync", body)
	if err != nil {
		return fmt.Errorf("sync worker sessions: %w", err)
	}
	return nil
}

// Health calls GET /api/health.
func (w *WorkerClient) Health(ctx context.Context) (map[string]interface{}, error) {
	data, err := w.c.get(ctx, "/api/health", nil)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	return out, nil
}
