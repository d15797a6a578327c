// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/protocol"
	"github.com/danilotorrisi/csm/internal/rules"
)

// Sentinel errors naming the Manager's failure conditions. The Manager's
// own operations report failure as a false return and do not return these.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotConnected       = errors.New("session not connected")
	ErrNoPendingApproval  = errors.New("no pending tool approval")
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	pongWait     = 60 * time.Second

	// hookResponseSettleDelay lets a SessionStart hook fully settle before
	// the queued prompt is flushed, per the spec's design note on the
	// init/hook_response race.
	hookResponseSettleDelay = 200 * time.Millisecond
)

// entry is the manager's private bookkeeping for one connected session. Its
// mu is the single-writer lock for this sessionName: every mutation of
// State happens with mu held, and is released before any socket I/O is
// attempted, per the concurrency model's "no suspension inside a critical
// section" rule.
type entry struct {
	mu    sync.Mutex
	state *State

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Manager is the WS session manager of component D: it owns every WS
// connection, is the sole mutator of its sessions' State, and routes
// decoded protocol frames both ways.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*entry
	claudeIDIndex map[string]string // claudeSessionId -> sessionName
	queuedPrompts map[string]string

	bus    *eventbus.Bus
	engine *rules.Engine
	logger *log.Logger
}

// NewManager constructs an empty Manager.
func NewManager(bus *eventbus.Bus, engine *rules.Engine, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		sessions:      make(map[string]*entry),
		claudeIDIndex: make(map[string]string),
		queuedPrompts: make(map[string]string),
		bus:           bus,
		engine:        engine,
		logger:        logger,
	}
}

// HandleConnection registers a new WS connection for sessionName,
// allocating a fresh State(connecting). The caller (the HTTP handler) then
// runs its own read loop on the goroutine that owns the connection, passing
// each frame to HandleMessage and calling HandleClose when reading fails.
func (m *Manager) HandleConnection(conn *websocket.Conn, sessionName string) {
	e := &entry{state: New(sessionName), conn: conn}

	m.mu.Lock()
	m.sessions[sessionName] = e
	m.mu.Unlock()

	m.bus.Emit(eventbus.Event{Type: "session_connected", SessionName: sessionName})
	m.startKeepalive(e, sessionName)
}

func (m *Manager) startKeepalive(e *entry, sessionName string) {
	e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error {
		e.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			e.writeMu.Lock()
			e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := e.conn.WriteMessage(websocket.PingMessage, nil)
			e.writeMu.Unlock()
			if err != nil {
				return
			}
			m.mu.RLock()
			_, stillOpen := m.sessions[sessionName]
			m.mu.RUnlock()
			if !stillOpen {
				return
			}
		}
	}()
}

// HandleMessage splits an incoming WS text frame into NDJSON lines and
// dispatches each decoded event to the state machine. A malformed line
// never aborts the others (§4.D contract).
func (m *Manager) HandleMessage(sessionName string, frame []byte) {
	e := m.lookup(sessionName)
	if e == nil {
		return
	}
	events := protocol.DecodeFrame(frame, m.logger)
	for _, ev := range events {
		m.handleEvent(e, sessionName, ev)
	}
}

func (m *Manager) lookup(sessionName string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionName]
}

// handleEvent is the per-line dispatcher: it mutates State under e.mu,
// releases the lock, then performs any I/O (socket writes, bus emits)
// implied by the event.
func (m *Manager) handleEvent(e *entry, sessionName string, ev *protocol.InEvent) {
	switch ev.Type {
	case "system":
		m.handleSystem(e, sessionName, ev)
	case "assistant":
		m.handleAssistant(e, sessionName, ev)
	case "stream_event":
		m.handleStreamEvent(e, sessionName, ev)
	case "result":
		m.handleResult(e, sessionName, ev)
	case "control_request":
		m.handleControlRequest(e, sessionName, ev)
	case "tool_progress":
		m.bus.Emit(eventbus.Event{Type: "tool_progress", SessionName: sessionName, Payload: ev})
	case "keep_alive", "tool_use_summary", "auth_status":
		// Informational; no state transition.
	default:
		m.logger.Printf("session %s: unhandled frame type %q, skipped", sessionName, ev.Type)
	}
}

func (m *Manager) handleSystem(e *entry, sessionName string, ev *protocol.InEvent) {
	switch ev.Subtype {
	case "init":
		e.mu.Lock()
		previous := e.state.Status
		e.state.ApplyInit(ev)
		current := e.state.Status
		claudeID := e.state.ClaudeSessionID
		e.mu.Unlock()

		if claudeID != "" {
			m.mu.Lock()
			m.claudeIDIndex[claudeID] = sessionName
			m.mu.Unlock()
		}
		if previous != current {
			m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": current}})
		}
		m.flushQueuedPrompt(e, sessionName, claudeID, 0)

	case "status":
		if ev.Status == "compacting" {
			e.mu.Lock()
			previous, changed := e.state.ApplyCompacting()
			e.mu.Unlock()
			if changed {
				m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": StatusCompacting}})
			}
		}

	case "hook_response":
		if ev.HookEventName == "SessionStart" && ev.SessionID != "" {
			e.mu.Lock()
			if e.state.ClaudeSessionID == "" {
				e.state.ClaudeSessionID = ev.SessionID
			}
			claudeID := e.state.ClaudeSessionID
			e.mu.Unlock()

			m.mu.Lock()
			m.claudeIDIndex[claudeID] = sessionName
			m.mu.Unlock()
			m.flushQueuedPrompt(e, sessionName, claudeID, hookResponseSettleDelay)
		}
	}
}

// flushQueuedPrompt delivers a queued initial prompt, if any, after the
// given settle delay. Delivery is deduplicated by clearing the queue
// entry on first send regardless of which path (init or hook_response)
// triggers it.
func (m *Manager) flushQueuedPrompt(e *entry, sessionName, claudeSessionID string, delay time.Duration) {
	m.mu.Lock()
	text, ok := m.queuedPrompts[sessionName]
	if ok {
		delete(m.queuedPrompts, sessionName)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	send := func() {
		m.writeFrame(e, protocol.NewOutUserMessage(claudeSessionID, text))
		e.mu.Lock()
		previous, changed := e.state.transition(StatusWorking)
		e.state.StreamingText = ""
		e.mu.Unlock()
		if changed {
			m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": StatusWorking}})
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, send)
		return
	}
	send()
}

func (m *Manager) handleAssistant(e *entry, sessionName string, ev *protocol.InEvent) {
	e.mu.Lock()
	previous := e.state.Status
	text, blocks, stopReason := e.state.ApplyAssistant(ev)
	current := e.state.Status
	e.mu.Unlock()
	if previous != current {
		m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": current}})
	}
	m.bus.Emit(eventbus.Event{
		Type:        "assistant_message",
		SessionName: sessionName,
		Payload: map[string]interface{}{
			"text":          text,
			"contentBlocks": blocks,
			"stopReason":    stopReason,
		},
	})
}

func (m *Manager) handleStreamEvent(e *entry, sessionName string, ev *protocol.InEvent) {
	inner, err := protocol.DecodeInnerStreamEvent(ev.Event)
	if err != nil {
		m.logger.Printf("session %s: %v", sessionName, err)
		return
	}
	if inner.Type != "content_block_delta" || inner.Delta == nil || inner.Delta.Type != "text_delta" {
		return
	}
	e.mu.Lock()
	delta, accumulated := e.state.ApplyStreamDelta(inner.Delta.Text)
	e.mu.Unlock()
	m.bus.Emit(eventbus.Event{
		Type:        "stream_delta",
		SessionName: sessionName,
		Payload:     map[string]string{"text": delta, "accumulatedText": accumulated},
	})
}

func (m *Manager) handleResult(e *entry, sessionName string, ev *protocol.InEvent) {
	e.mu.Lock()
	previous := e.state.Status
	e.state.ApplyResult(ev)
	current := e.state.Status
	errSnap := e.state.Error
	e.mu.Unlock()
	if previous != current {
		m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": current}})
	}
	m.bus.Emit(eventbus.Event{
		Type:        "result",
		SessionName: sessionName,
		Payload: map[string]interface{}{
			"success":      !ev.IsError,
			"result":       ev.Result,
			"errors":       ev.Errors,
			"numTurns":     ev.NumTurns,
			"totalCostUsd": ev.TotalCostUsd,
			"durationMs":   ev.DurationMs,
		},
	})
	if ev.IsError {
		m.bus.Emit(eventbus.Event{Type: "error", SessionName: sessionName, Payload: errSnap})
	}
}

func (m *Manager) handleControlRequest(e *entry, sessionName string, ev *protocol.InEvent) {
	if ev.Request == nil || ev.Request.Subtype != "can_use_tool" {
		return
	}

	var input map[string]interface{}
	json.Unmarshal(ev.Request.Input, &input)

	action := m.engine.Evaluate(rules.Request{ToolName: ev.Request.ToolName, Input: input})
	if action == rules.Allow {
		m.writeFrame(e, protocol.NewAllowResponse(ev.RequestID, ev.Request.Input))
		m.bus.Emit(eventbus.Event{Type: "tool_auto_approved", SessionName: sessionName, Payload: map[string]interface{}{
			"requestId": ev.RequestID, "toolName": ev.Request.ToolName,
		}})
		return
	}
	if action == rules.Deny {
		m.writeFrame(e, protocol.NewDenyResponse(ev.RequestID, "denied by rule"))
		m.bus.Emit(eventbus.Event{Type: "tool_auto_denied", SessionName: sessionName, Payload: map[string]interface{}{
			"requestId": ev.RequestID, "toolName": ev.Request.ToolName,
		}})
		return
	}

	approval := &PendingToolApproval{
		RequestID:  ev.RequestID,
		ToolName:   ev.Request.ToolName,
		ToolInput:  ev.Request.Input,
		ToolUseID:  ev.Request.ToolUseID,
		ReceivedAt: time.Now(),
	}
	e.mu.Lock()
	e.state.SetPendingApproval(approval)
	e.mu.Unlock()
	m.bus.Emit(eventbus.Event{Type: "tool_approval_needed", SessionName: sessionName, Payload: approval})
}

// writeFrame serializes v and writes it as a WS text frame, serialized by
// the connection's write mutex. It is always called outside e.mu.
func (m *Manager) writeFrame(e *entry, v interface{}) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return e.conn.WriteJSON(v)
}

// SendUserMessage encodes and sends a user prompt to the CLI. On success
// the session transitions to working and streamingText is cleared.
func (m *Manager) SendUserMessage(sessionName, text string) bool {
	e := m.lookup(sessionName)
	if e == nil {
		return false
	}
	e.mu.Lock()
	claudeID := e.state.ClaudeSessionID
	e.mu.Unlock()

	if err := m.writeFrame(e, protocol.NewOutUserMessage(claudeID, text)); err != nil {
		return false
	}
	e.mu.Lock()
	previous, changed := e.state.ApplyOutgoingUser()
	e.mu.Unlock()
	if changed {
		m.bus.Emit(eventbus.Event{Type: "status_changed", SessionName: sessionName, Payload: map[string]Status{"previous": previous, "new": StatusWorking}})
	}
	return true
}

// RespondToToolApproval encodes and sends a control_response for the
// session's pending approval, then clears it.
func (m *Manager) RespondToToolApproval(sessionName, requestID string, allow bool, message string) bool {
	e := m.lookup(sessionName)
	if e == nil {
		return false
	}

	e.mu.Lock()
	pending := e.state.PendingToolApproval
	e.mu.Unlock()
	if pending == nil || pending.RequestID != requestID {
		return false
	}

	var resp interface{}
	if allow {
		resp = protocol.NewAllowResponse(requestID, pending.ToolInput)
	} else {
		resp = protocol.NewDenyResponse(requestID, message)
	}
	if err := m.writeFrame(e, resp); err != nil {
		// Leave the pending approval intact so the human can retry (§7
		// "User-visible failures").
		return false
	}

	e.mu.Lock()
	e.state.ClearPendingApproval()
	e.mu.Unlock()
	m.bus.Emit(eventbus.Event{Type: "tool_approval_resolved", SessionName: sessionName, Payload: map[string]string{"requestId": requestID}})
	return true
}

// QueueInitialPrompt stores (or replaces) a single pending prompt to be
// delivered on the next init/hook_response.
func (m *Manager) QueueInitialPrompt(sessionName, text string) {
	m.mu.Lock()
	m.queuedPrompts[sessionName] = text
	m.mu.Unlock()
}

// HandleClose marks a session disconnected, purges its claudeId index
// entry, and emits the corresponding events. The session record itself is
// preserved (§3 Lifecycle: removed only via RemoveSession).
func (m *Manager) HandleClose(sessionName string) {
	e := m.lookup(sessionName)
	if e == nil {
		return
	}
	e.mu.Lock()
	claudeID := e.state.ClaudeSessionID
	e.state.Disconnect()
	e.mu.Unlock()

	if claudeID != "" {
		m.mu.Lock()
		delete(m.claudeIDIndex, claudeID)
		m.mu.Unlock()
	}
	m.bus.Emit(eventbus.Event{Type: "session_disconnected", SessionName: sessionName})
}

// RemoveSession deletes the session state, its connection, its claudeId
// index entry, and any queued prompt. Unlike a mere disconnect, this is
// the only operation that erases the record (§3 Lifecycle).
func (m *Manager) RemoveSession(sessionName string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionName]
	delete(m.sessions, sessionName)
	delete(m.queuedPrompts, sessionName)
	if ok {
		e.mu.Lock()
		claudeID := e.state.ClaudeSessionID
		e.mu.Unlock()
		if claudeID != "" {
			delete(m.claudeIDIndex, claudeID)
		}
	}
	m.mu.Unlock()
}

// GetSessionState returns a snapshot of a session's current state.
func (m *Manager) GetSessionState(sessionName string) (Snapshot, bool) {
	e := m.lookup(sessionName)
	if e == nil {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(), true
}

// GetAllSessions returns a snapshot of every known session.
func (m *Manager) GetAllSessions() []Snapshot {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state.Snapshot())
		e.mu.Unlock()
	}
	return out
}

// IsConnected reports whether sessionName has a live WS connection. A
// session record surviving HandleClose but not yet RemoveSession'd (§3
// Lifecycle) is registered but disconnected, and must not count.
func (m *Manager) IsConnected(sessionName string) bool {
	e := m.lookup(sessionName)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status != StatusDisconnected
}

// GetSessionNameByClaudeId resolves the reverse index from the CLI's
// internal session UUID back to the human-chosen sessionName.
func (m *Manager) GetSessionNameByClaudeId(claudeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.claudeIDIndex[claudeID]
	return name, ok
}
