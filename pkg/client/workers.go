// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// WorkersClient reads worker records. Access through [Client.Workers].
type WorkersClient struct {
	c *Client
}

// List returns every known worker and its derived status.
func (w *WorkersClient) List(ctx context.Context) ([]WorkerRecord, error) {
	data, err := w.c.get(ctx, "/api/workers", nil)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	var out struct {
		Workers []WorkerRecord `json:"workers"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse workers response: %w", err)
	}
	return out.Workers, nil
}
