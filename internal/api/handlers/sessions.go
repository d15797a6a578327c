// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/gorilla/mux"

	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/master"
	"github.com/danilotorrisi/csm/internal/session"
)

// TextSender is the tmux fallback used by POST /message when a session has
// no live WS connection, implemented by worker.TmuxMultiplexer in local-mode
// deployments where the master and the worker share a host. It is optional:
// a nil TextSender simply disables the fallback.
type TextSender interface {
	SendText(ctx context.Context, session, text string) error
}

// SessionsHandler serves the session-facing REST+SSE surface: listing,
// message send, live stream, tool approval, and file diff.
type SessionsHandler struct {
	manager *session.Manager
	agg     *master.Aggregator
	bus     *eventbus.Bus
	tmux    TextSender
}

// NewSessionsHandler constructs a SessionsHandler. tmux may be nil to
// disable the tmux-fallback send path.
func NewSessionsHandler(manager *session.Manager, agg *master.Aggregator, bus *eventbus.Bus, tmux TextSender) *SessionsHandler {
	return &SessionsHandler{manager: manager, agg: agg, bus: bus, tmux: tmux}
}

// mergedSession is one entry of GET /api/sessions: the master's
// worker-reported session mirror merged with the live ws* fields a WS
// connection (if any) contributes.
type mergedSession struct {
	master.SessionRecord
	WSStatus              session.Status            `json:"wsStatus,omitempty"`
	WSConnected           bool                       `json:"wsConnected"`
	ClaudeSessionID       string                     `json:"claudeSessionId,omitempty"`
	LastAssistantMessage  string                     `json:"lastAssistantMessage,omitempty"`
	PendingToolApproval   *session.PendingToolApproval `json:"pendingApproval,omitempty"`
}

// List handles GET /api/sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.agg.Sessions()
	out := make([]mergedSession, 0, len(records))
	for _, rec := range records {
		merged := mergedSession{SessionRecord: rec}
		if snap, ok := h.manager.GetSessionState(rec.SessionName); ok {
			merged.WSConnected = snap.Status != session.StatusDisconnected
			merged.WSStatus = snap.Status
			merged.ClaudeSessionID = snap.ClaudeSessionID
			merged.LastAssistantMessage = snap.LastAssistantMessage
			merged.PendingToolApproval = snap.PendingToolApproval
		}
		out = append(out, merged)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// SendMessage handles POST /api/sessions/:name/message.
func (h *SessionsHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		Text interface{} `json:"text"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	text, ok := body.Text.(string)
	if !ok || text == "" {
		WriteError(w, http.StatusBadRequest, "text is required and must be a string")
		return
	}

	if h.manager.IsConnected(name) {
		if h.manager.SendUserMessage(name, text) {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "method": "websocket"})
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to send message over websocket")
		return
	}

	if h.tmux == nil {
		WriteError(w, http.StatusBadRequest, "session not connected")
		return
	}
	if err := h.tmux.SendText(r.Context(), name, text); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "method": "tmux"})
}

// ApproveTool handles POST /api/sessions/:name/approve-tool.
func (h *SessionsHandler) ApproveTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		RequestID string `json:"requestId"`
		Action    string `json:"action"`
		Message   string `json:"message,omitempty"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.RequestID == "" || (body.Action != "allow" && body.Action != "deny") {
		WriteError(w, http.StatusBadRequest, `requestId is required and action must be "allow" or "deny"`)
		return
	}

	message := body.Message
	if body.Action == "deny" && message == "" {
		message = "Denied by user"
	}
	if !h.manager.RespondToToolApproval(name, body.RequestID, body.Action == "allow", message) {
		WriteError(w, http.StatusBadRequest, "no pending tool approval for that request")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Diff handles GET /api/sessions/:name/diff?file=….
func (h *SessionsHandler) Diff(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	file := r.URL.Query().Get("file")
	if file == "" {
		WriteError(w, http.StatusBadRequest, "file query parameter is required")
		return
	}

	snap, ok := h.manager.GetSessionState(name)
	if !ok || snap.Cwd == "" {
		WriteError(w, http.StatusNotFound, "session not found or has no known working directory")
		return
	}

	cmd := exec.CommandContext(r.Context(), "git", "diff", "--", file)
	cmd.Dir = snap.Cwd
	output, err := cmd.Output()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("git diff failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"diff": string(output)})
}

// Stream handles GET /api/sessions/:name/stream via Server-Sent Events, per
// §4.H's framing: a {type:"connected"} preamble, a {type:"state_snapshot"}
// if the session exists, then every matching bus event forwarded until the
// client disconnects.
func (h *SessionsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	writeEvent(map[string]string{"type": "connected", "sessionName": name})
	if snap, ok := h.manager.GetSessionState(name); ok {
		writeEvent(map[string]interface{}{"type": "state_snapshot", "state": snap})
	}

	eventCh := make(chan eventbus.Event, 100)
	unsubscribe := h.bus.On(func(ev eventbus.Event) {
		if ev.SessionName != name {
			return
		}
		select {
		case eventCh <- ev:
		default:
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-eventCh:
			if !writeEvent(ev) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
