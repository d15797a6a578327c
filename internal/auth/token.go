// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth manages the single opaque bearer token that guards the
// master's REST and WebSocket surface.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

// TokenStore holds the one valid bearer token, generating it lazily and
// idempotently on first use.
type TokenStore struct {
	mu    sync.Mutex
	token string
}

// NewTokenStore returns an empty store. If seed is non-empty (e.g. loaded
// from a config file), it is used as the token instead of generating one.
func NewTokenStore(seed string) *TokenStore {
	return &TokenStore{token: seed}
}

// Setup returns the current token, generating a new random one on first
// call. Subsequent calls always return the same value.
func (s *TokenStore) Setup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	s.token = hex.EncodeToString(buf)
	return s.token, nil
}

// Validate reports whether candidate equals the current token, using a
// constant-time comparison so content differences cannot be timed by a
// caller (a length mismatch still returns early). An empty store (Setup never called) never validates.
func (s *TokenStore) Validate(candidate string) bool {
	s.mu.Lock()
	current := s.token
	s.mu.Unlock()

	if current == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(candidate)) == 1
}
