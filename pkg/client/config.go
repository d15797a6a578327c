// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// ConfigClient reads and patches the master's durable configuration.
// Access through [Client.Config].
type ConfigClient struct {
	c *Client
}

// Get returns the current configuration as a raw JSON object
// ({projects, hosts, toolApprovalRules, hasLinear}).
func (cc *ConfigClient) Get(ctx context.Context) (json.RawMessage, error) {
	data, err := cc.c.get(ctx, "/api/config", nil)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var envelope struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse config response: %w", err)
	}
	return envelope.Config, nil
}

// Patch applies a partial update and returns the updated configuration.
func (cc *ConfigClient) Patch(ctx context.Context, partial interface{}) (json.RawMessage, error) {
	data, err := cc.c.patchJSON(ctx, "/api/config", partial)
	if err != nil {
		return nil, fmt.Errorf("patch config: %w", err)
	}
	var envelope struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse config response: %w", err)
	}
	return envelope.Config, nil
}
