// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strings"
)

// TokenValidator reports whether a bearer token is currently valid.
// Satisfied by *auth.TokenStore.
type TokenValidator interface {
	Validate(token string) bool
}

// exemptPaths never require a bearer token: they are how a caller obtains
// or checks one in the first place.
var exemptPaths = map[string]bool{
	"/api/auth/setup":    true,
	"/api/auth/validate": true,
}

// RequireAuth rejects any request (other than the auth bootstrap
// endpoints) that does not present a valid bearer token, via either the
// Authorization header or a ?token= query parameter — the latter exists
// because EventSource and WebSocket clients cannot set headers.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" || !validator.Validate(token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
