// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/danilotorrisi/csm/internal/auth"
)

// AuthHandler serves GET /api/auth/setup and POST /api/auth/validate.
type AuthHandler struct {
	tokens *auth.TokenStore
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(tokens *auth.TokenStore) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

// Setup handles GET /api/auth/setup: idempotently returns the bearer token,
// generating one on first call.
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.Setup()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Validate handles POST /api/auth/validate.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"valid": h.tokens.Validate(body.Token)})
}
