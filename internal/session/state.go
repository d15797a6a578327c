// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-session state machine (component C)
// and the WS session manager that owns it (component D).
package session

import (
	"encoding/json"
	"time"

	"github.com/danilotorrisi/csm/internal/protocol"
)

// Status is one of the session lifecycle states of §4.C.
type Status string

const (
	StatusConnecting      Status = "connecting"
	StatusInitializing    Status = "initializing"
	StatusReady           Status = "ready"
	StatusWorking         Status = "working"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusCompacting      Status = "compacting"
	StatusError           Status = "error"
	StatusDisconnected    Status = "disconnected"
)

// PendingToolApproval is the at-most-one outstanding can_use_tool request
// for a session (invariant I1).
type PendingToolApproval struct {
	RequestID  string
	ToolName   string
	ToolInput  json.RawMessage
	ToolUseID  string
	ReceivedAt time.Time
}

// Usage accumulates token counts monotonically (invariant P5).
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

func (u *Usage) add(delta protocol.Usage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.CacheCreationInputTokens += delta.CacheCreationInputTokens
	u.CacheReadInputTokens += delta.CacheReadInputTokens
}

// State is one WsSessionState: the full per-session record of §3. It is
// owned exclusively by the Manager dispatcher for its sessionName; readers
// elsewhere in the process MUST take a Snapshot rather than read fields
// directly.
type State struct {
	SessionName     string
	ClaudeSessionID string
	Status          Status

	Model          string
	Tools          []string
	McpServers     []string
	PermissionMode string
	Cwd            string

	LastAssistantMessage string
	LastAssistantContent []protocol.ContentBlock

	PendingToolApproval *PendingToolApproval

	TurnCount    int
	TotalCostUsd float64
	TotalUsage   Usage

	StreamingText string

	LastMessageAt time.Time
	ConnectedAt   time.Time
	Error         string

	seenUUIDs map[string]struct{}
}

// New constructs a fresh State in the initial "connecting" status.
func New(sessionName string) *State {
	return &State{
		SessionName: sessionName,
		Status:      StatusConnecting,
		ConnectedAt: time.Now(),
		seenUUIDs:   make(map[string]struct{}),
	}
}

// Snapshot is an immutable, value-typed copy of State safe to hand to
// readers outside the owning dispatcher.
type Snapshot struct {
	SessionName          string
	ClaudeSessionID       string
	Status                Status
	Model                 string
	Tools                 []string
	McpServers            []string
	PermissionMode        string
	Cwd                   string
	LastAssistantMessage  string
	LastAssistantContent  []protocol.ContentBlock
	PendingToolApproval   *PendingToolApproval
	TurnCount             int
	TotalCostUsd          float64
	TotalUsage            Usage
	StreamingText         string
	LastMessageAt         time.Time
	ConnectedAt           time.Time
	Error                 string
}

// Snapshot copies the current state for safe concurrent reads.
func (s *State) Snapshot() Snapshot {
	var pending *PendingToolApproval
	if s.PendingToolApproval != nil {
		cp := *s.PendingToolApproval
		pending = &cp
	}
	return Snapshot{
		SessionName:          s.SessionName,
		ClaudeSessionID:      s.ClaudeSessionID,
		Status:               s.Status,
		Model:                s.Model,
		Tools:                append([]string(nil), s.Tools...),
		McpServers:           append([]string(nil), s.McpServers...),
		PermissionMode:       s.PermissionMode,
		Cwd:                  s.Cwd,
		LastAssistantMessage: s.LastAssistantMessage,
		LastAssistantContent: append([]protocol.ContentBlock(nil), s.LastAssistantContent...),
		PendingToolApproval:  pending,
		TurnCount:            s.TurnCount,
		TotalCostUsd:         s.TotalCostUsd,
		TotalUsage:           s.TotalUsage,
		StreamingText:        s.StreamingText,
		LastMessageAt:        s.LastMessageAt,
		ConnectedAt:          s.ConnectedAt,
		Error:                s.Error,
	}
}

// transition sets status and returns whether it changed, for status_changed
// event emission by the caller.
func (s *State) transition(next Status) (previous Status, changed bool) {
	previous = s.Status
	if previous == next {
		return previous, false
	}
	s.Status = next
	return previous, true
}

// touch marks the time of the most recent wire activity.
func (s *State) touch() {
	s.LastMessageAt = time.Now()
}

// ApplyInit handles a system{subtype:init} frame: connecting -> ready.
func (s *State) ApplyInit(ev *protocol.InEvent) {
	s.touch()
	if ev.SessionID != "" {
		s.ClaudeSessionID = ev.SessionID
	}
	s.Model = ev.Model
	s.PermissionMode = ev.PermissionMode
	s.Cwd = ev.Cwd
	s.SlashCommands(ev)
	s.transition(StatusReady)
}

// SlashCommands extracts tools/mcpServers from an init frame without
// requiring the caller to hand-decode the raw JSON arrays.
func (s *State) SlashCommands(ev *protocol.InEvent) {
	if len(ev.Tools) > 0 {
		var tools []string
		if json.Unmarshal(ev.Tools, &tools) == nil {
			s.Tools = tools
		}
	} else if ev.Tools != nil {
		s.Tools = []string{}
	}
	if len(ev.McpServers) > 0 {
		var servers []json.RawMessage
		if json.Unmarshal(ev.McpServers, &servers) == nil {
			names := make([]string, 0, len(servers))
			for _, raw := range servers {
				var m map[string]interface{}
				if json.Unmarshal(raw, &m) == nil {
					if name, ok := m["name"].(string); ok {
						names = append(names, name)
					}
				}
			}
			s.McpServers = names
		}
	}
}

// ApplyOutgoingUser records that the server sent a user message: any
// status except disconnected transitions to working; a disconnected
// session is left unchanged.
func (s *State) ApplyOutgoingUser() (previous Status, changed bool) {
	s.touch()
	if s.Status == StatusDisconnected {
		return s.Status, false
	}
	s.StreamingText = ""
	return s.transition(StatusWorking)
}

// ApplyAssistant handles an assistant frame: transitions to working,
// accumulates usage idempotently per uuid (I3), clears streamingText, and
// returns the extracted text/content for event emission.
func (s *State) ApplyAssistant(ev *protocol.InEvent) (text string, blocks []protocol.ContentBlock, stopReason string) {
	s.touch()
	s.transition(StatusWorking)
	s.StreamingText = ""

	if ev.Message != nil {
		blocks = ev.Message.Content
		text = protocol.ExtractText(blocks)
		s.LastAssistantMessage = text
		s.LastAssistantContent = blocks
		s.TurnCount++
	}
	if ev.Usage != nil && s.shouldAccumulate(ev.UUID) {
		s.TotalUsage.add(*ev.Usage)
	}
	return text, blocks, stopReason
}

// shouldAccumulate implements invariant I3: usage accumulates once per
// distinct message uuid; an empty uuid is always accumulated (no
// retransmission protection possible without one).
func (s *State) shouldAccumulate(uuid string) bool {
	if uuid == "" {
		return true
	}
	if _, seen := s.seenUUIDs[uuid]; seen {
		return false
	}
	s.seenUUIDs[uuid] = struct{}{}
	return true
}

// ApplyStreamDelta appends a content_block_delta.text_delta to the
// streaming accumulator (invariant I4) and returns the delta and the
// accumulated text so far, for stream_delta event emission.
func (s *State) ApplyStreamDelta(delta string) (deltaText, accumulated string) {
	s.touch()
	s.StreamingText += delta
	return delta, s.StreamingText
}

// ApplyResult handles a result frame: working -> waiting_for_input. An
// is_error result also records its first error (or its result text) in
// Error; the status is waiting_for_input either way.
func (s *State) ApplyResult(ev *protocol.InEvent) {
	s.touch()
	if ev.IsError {
		if len(ev.Errors) > 0 {
			s.Error = ev.Errors[0]
		} else {
			s.Error = ev.Result
		}
	}
	if ev.TotalCostUsd > 0 {
		s.TotalCostUsd = ev.TotalCostUsd
	}
	s.transition(StatusWaitingForInput)
}

// ApplyCompacting handles system{subtype:status, status:"compacting"}: any
// non-disconnected status moves to compacting.
func (s *State) ApplyCompacting() (previous Status, changed bool) {
	s.touch()
	if s.Status == StatusDisconnected {
		return s.Status, false
	}
	return s.transition(StatusCompacting)
}

// SetPendingApproval records a can_use_tool request awaiting a human
// decision (invariant I1: set only while working or waiting_for_input).
func (s *State) SetPendingApproval(p *PendingToolApproval) bool {
	if s.Status != StatusWorking && s.Status != StatusWaitingForInput {
		return false
	}
	s.PendingToolApproval = p
	return true
}

// ClearPendingApproval clears the pending approval, if any, and reports
// whether one was present.
func (s *State) ClearPendingApproval() bool {
	if s.PendingToolApproval == nil {
		return false
	}
	s.PendingToolApproval = nil
	return true
}

// Disconnect marks the session disconnected and purges transient state.
// The session record itself is preserved (never deleted on mere
// disconnect per §3 Lifecycle).
func (s *State) Disconnect() {
	s.Status = StatusDisconnected
	s.PendingToolApproval = nil
}
