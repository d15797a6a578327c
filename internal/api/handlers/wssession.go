// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/danilotorrisi/csm/internal/session"
)

var cliUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSSessionHandler serves ws://…/ws/sessions?name=<session>, the inbound
// connection a `claude --sdk-url` process dials per §0's architectural
// inversion: the CLI is the client, this handler's Manager is the server
// that owns the connection and every state transition for it.
type WSSessionHandler struct {
	manager *session.Manager
}

// NewWSSessionHandler constructs a WSSessionHandler.
func NewWSSessionHandler(manager *session.Manager) *WSSessionHandler {
	return &WSSessionHandler{manager: manager}
}

// ServeHTTP upgrades the connection, registers it with the Manager, and
// runs the read loop until the CLI disconnects.
func (h *WSSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := cliUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.manager.HandleConnection(conn, name)
	defer h.manager.HandleClose(name)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.manager.HandleMessage(name, message)
	}
}
