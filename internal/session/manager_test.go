// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/rules"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newTestPair brings up an httptest WS server wired to a fresh Manager and
// returns the client-side connection dialed to it, plus the Manager and
// the eventbus events it records.
func newTestPair(t *testing.T, sessionName string, engine *rules.Engine) (*Manager, *websocket.Conn, *eventRecorder) {
	t.Helper()
	if engine == nil {
		engine = rules.NewEngine(nil)
	}
	rec := newEventRecorder()
	bus := eventbus.New(nil)
	bus.On(rec.record)
	mgr := NewManager(bus, engine, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		mgr.HandleConnection(conn, sessionName)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				mgr.HandleClose(sessionName)
				return
			}
			mgr.HandleMessage(sessionName, data)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return mgr, client, rec
}

type eventRecorder struct {
	events chan eventbus.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan eventbus.Event, 64)}
}

func (r *eventRecorder) record(e eventbus.Event) {
	r.events <- e
}

func (r *eventRecorder) awaitType(t *testing.T, typ string, within time.Duration) eventbus.Event {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case e := <-r.events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %q", typ)
		}
	}
}

func sendClientFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestHandleConnection_EmitsSessionConnected(t *testing.T) {
	mgr, _, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	snap, ok := mgr.GetSessionState("sess-1")
	require.True(t, ok)
	assert.Equal(t, StatusConnecting, snap.Status)
}

func TestInitFrame_TransitionsToReady(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	sendClientFrame(t, client, `{"type":"system","subtype":"init","session_id":"claude-abc","model":"claude-x","cwd":"/tmp"}`)

	deadline := time.After(time.Second)
	for {
		snap, _ := mgr.GetSessionState("sess-1")
		if snap.Status == StatusReady {
			assert.Equal(t, "claude-abc", snap.ClaudeSessionID)
			name, ok := mgr.GetSessionNameByClaudeId("claude-abc")
			assert.True(t, ok)
			assert.Equal(t, "sess-1", name)
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ready status")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// S4: a prompt queued before the CLI has connected is delivered once init
// arrives, and exactly once.
func TestQueuedInitialPrompt_DeliveredOnInit(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	mgr.QueueInitialPrompt("sess-1", "hello there")
	sendClientFrame(t, client, `{"type":"system","subtype":"init","session_id":"claude-abc"}`)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello there")
	assert.Contains(t, string(data), "claude-abc")

	mgr.mu.RLock()
	_, stillQueued := mgr.queuedPrompts["sess-1"]
	mgr.mu.RUnlock()
	assert.False(t, stillQueued)
}

// S6: stream_delta payloads always carry the delta and the full prefix
// accumulated so far (invariant I4/P2).
func TestStreamDelta_AccumulatesPrefix(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	sendClientFrame(t, client, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"He"}}}`)
	first := rec.awaitType(t, "stream_delta", time.Second)
	payload := first.Payload.(map[string]string)
	assert.Equal(t, "He", payload["text"])
	assert.Equal(t, "He", payload["accumulatedText"])

	sendClientFrame(t, client, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"llo"}}}`)
	second := rec.awaitType(t, "stream_delta", time.Second)
	payload2 := second.Payload.(map[string]string)
	assert.Equal(t, "llo", payload2["text"])
	assert.Equal(t, "Hello", payload2["accumulatedText"])

	_ = mgr
}

// S1: a tool matching an allow rule is auto-approved, no human approval
// is ever recorded as pending.
func TestControlRequest_AutoApproved(t *testing.T) {
	engine := rules.NewEngine([]rules.Rule{{Tool: "Bash", Pattern: "ls *", Action: rules.Allow}})
	mgr, client, rec := newTestPair(t, "sess-1", engine)
	rec.awaitType(t, "session_connected", time.Second)

	sendClientFrame(t, client, `{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls -la"}}}`)
	rec.awaitType(t, "tool_auto_approved", time.Second)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"allow"`)
	assert.Contains(t, string(data), "req-1")

	snap, _ := mgr.GetSessionState("sess-1")
	assert.Nil(t, snap.PendingToolApproval)
}

// S2: with no matching rule, a can_use_tool request is held as a pending
// approval (P1: at most one).
func TestControlRequest_NoMatchSetsPendingApproval(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	sendClientFrame(t, client, `{"type":"system","subtype":"init","session_id":"claude-abc"}`)
	rec.awaitType(t, "status_changed", time.Second)

	sendClientFrame(t, client, `{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /"}}}`)
	e := rec.awaitType(t, "tool_approval_needed", time.Second)
	pending := e.Payload.(*PendingToolApproval)
	assert.Equal(t, "req-1", pending.RequestID)

	snap, _ := mgr.GetSessionState("sess-1")
	require.NotNil(t, snap.PendingToolApproval)
	assert.Equal(t, "req-1", snap.PendingToolApproval.RequestID)
}

func TestRespondToToolApproval_ClearsPending(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	sendClientFrame(t, client, `{"type":"system","subtype":"init","session_id":"claude-abc"}`)
	rec.awaitType(t, "status_changed", time.Second)
	sendClientFrame(t, client, `{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /"}}}`)
	rec.awaitType(t, "tool_approval_needed", time.Second)

	ok := mgr.RespondToToolApproval("sess-1", "req-1", true, "")
	assert.True(t, ok)
	rec.awaitType(t, "tool_approval_resolved", time.Second)

	snap, _ := mgr.GetSessionState("sess-1")
	assert.Nil(t, snap.PendingToolApproval)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"allow"`)
}

func TestHandleClose_PreservesSessionRecord(t *testing.T) {
	mgr, client, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	client.Close()
	rec.awaitType(t, "session_disconnected", time.Second)

	deadline := time.After(time.Second)
	for {
		snap, ok := mgr.GetSessionState("sess-1")
		if ok && snap.Status == StatusDisconnected {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session never reached disconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRemoveSession_DeletesRecord(t *testing.T) {
	mgr, _, rec := newTestPair(t, "sess-1", nil)
	rec.awaitType(t, "session_connected", time.Second)

	mgr.RemoveSession("sess-1")
	_, ok := mgr.GetSessionState("sess-1")
	assert.False(t, ok)
}
