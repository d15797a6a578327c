// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the NDJSON wire protocol the Claude Code CLI
// speaks over its --sdk-url WebSocket connection.
package protocol

import "encoding/json"

// ContentBlock is one block of a message's content array: text, tool_use,
// or thinking. Fields not applicable to a given Type are left zero.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Message is the inner {role, content} object carried by assistant/user
// frames on the wire.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// PermissionDenial records one tool-use denial surfaced in a result frame.
type PermissionDenial struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// Usage carries token accounting as reported on assistant/result frames.
type Usage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ControlRequestBody is the nested "request" object of a control_request
// frame for the can_use_tool subtype.
type ControlRequestBody struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
}

// InEvent is the discriminated-union envelope for every CLI→server line.
// Unknown Type/Subtype values decode cleanly into the zero value of the
// fields they don't use; callers MUST treat an unrecognized Type as a
// no-op, never as a decode error.
type InEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	// assistant / user
	Message *Message `json:"message,omitempty"`
	UUID    string   `json:"uuid,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`

	// result
	Result        string   `json:"result,omitempty"`
	IsError       bool     `json:"is_error,omitempty"`
	Errors        []string `json:"errors,omitempty"`
	TotalCostUsd  float64  `json:"total_cost_usd,omitempty"`
	NumTurns      int      `json:"num_turns,omitempty"`
	DurationMs    int64    `json:"duration_ms,omitempty"`

	// system/init
	Model          string          `json:"model,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	McpServers     json.RawMessage `json:"mcp_servers,omitempty"`
	PermissionMode string          `json:"permission_mode,omitempty"`
	Cwd            string          `json:"cwd,omitempty"`
	SlashCommands  []string        `json:"slash_commands,omitempty"`
	Skills         []string        `json:"skills,omitempty"`

	// system/status
	Status string `json:"status,omitempty"`

	// system/hook_response
	HookEventName string `json:"hook_event_name,omitempty"`

	// control_request
	RequestID string              `json:"request_id,omitempty"`
	Request   *ControlRequestBody `json:"request,omitempty"`

	// stream_event (nested partial-message event)
	Event json.RawMessage `json:"event,omitempty"`

	// result's permission_denials
	PermissionDenials []PermissionDenial `json:"permission_denials,omitempty"`
}

// StreamInnerEvent is the nested payload of a stream_event frame's "event"
// field, used for --include-partial-messages streaming.
type StreamInnerEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index,omitempty"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *StreamDelta    `json:"delta,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
}

// StreamDelta is one incremental delta of a streamed content block.
type StreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// OutUserMessage is the server→CLI envelope that delivers a user prompt.
type OutUserMessage struct {
	Type      string         `json:"type"`
	Message   outUserContent `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
}

type outUserContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewOutUserMessage builds the server→CLI "user" frame for text.
func NewOutUserMessage(sessionID, text string) OutUserMessage {
	return OutUserMessage{
		Type:      "user",
		Message:   outUserContent{Role: "user", Content: text},
		SessionID: sessionID,
	}
}

// ControlResponseBody is the decision payload of a control_response frame.
type ControlResponseBody struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// OutControlResponse is the server→CLI reply to a control_request.
type OutControlResponse struct {
	Type     string                  `json:"type"`
	Response outControlResponseInner `json:"response"`
}

type outControlResponseInner struct {
	Subtype   string              `json:"subtype"`
	RequestID string              `json:"request_id"`
	Response  ControlResponseBody `json:"response"`
}

// NewAllowResponse builds a control_response granting the tool call with
// (optionally edited) input echoed back as updatedInput.
func NewAllowResponse(requestID string, updatedInput json.RawMessage) OutControlResponse {
	return OutControlResponse{
		Type: "control_response",
		Response: outControlResponseInner{
			Subtype:   "success",
			RequestID: requestID,
			Response:  ControlResponseBody{Behavior: "allow", UpdatedInput: updatedInput},
		},
	}
}

// NewDenyResponse builds a control_response denying the tool call.
func NewDenyResponse(requestID, message string) OutControlResponse {
	if message == "" {
		message = "Denied by user"
	}
	return OutControlResponse{
		Type: "control_response",
		Response: outControlResponseInner{
			Subtype:   "success",
			RequestID: requestID,
			Response:  ControlResponseBody{Behavior: "deny", Message: message},
		},
	}
}

// OutKeepAlive is the idle-keepalive frame sent in both directions.
type OutKeepAlive struct {
	Type string `json:"type"`
}

// NewKeepAlive builds a keep_alive frame.
func NewKeepAlive() OutKeepAlive { return OutKeepAlive{Type: "keep_alive"} }

// OutControlCancelRequest cancels an in-flight control_request.
type OutControlCancelRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// NewControlCancelRequest builds a control_cancel_request frame.
func NewControlCancelRequest(requestID string) OutControlCancelRequest {
	return OutControlCancelRequest{Type: "control_cancel_request", RequestID: requestID}
}

// ExtractText concatenates the text of text-type content blocks in order,
// newline-separated, matching the CLI's own text-extraction convention.
func ExtractText(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}
