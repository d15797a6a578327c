// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuthClient manages the single opaque bearer token. Access through
// [Client.Auth].
type AuthClient struct {
	c *Client
}

// Setup fetches (and idempotently creates on first call) the master's
// bearer token. Does not store it on the Client; call c.SetToken
// afterwards if this client should use it for subsequent requests.
func (a *AuthClient) Setup(ctx context.Context) (string, error) {
	data, err := a.c.get(ctx, "/api/auth/setup", nil)
	if err != nil {
		return "", fmt.Errorf("auth setup: %w", err)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse auth setup response: %w", err)
	}
	return out.Token, nil
}

// Validate checks whether a token is the currently-valid one.
func (a *AuthClient) Validate(ctx context.Context, token string) (bool, error) {
	data, err := a.c.postJSON(ctx, "/api/auth/validate", map[string]string{"token": token})
	if err != nil {
		return false, fmt.Errorf("auth validate: %w", err)
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("parse auth validate response: %w", err)
	}
	return out.Valid, nil
}
