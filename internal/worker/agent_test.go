// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danilotorrisi/csm/internal/workerstore"
)

type fakeMultiplexer struct {
	mu       sync.Mutex
	sessions []string
	attached map[string]bool
}

func (f *fakeMultiplexer) ListSessions(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *fakeMultiplexer) IsAttached(ctx context.Context, session string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached[session], nil
}

func (f *fakeMultiplexer) CapturePane(ctx context.Context, session string) ([]byte, error) {
	return nil, nil
}

func (f *fakeMultiplexer) setSessions(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = names
}

type fakePusher struct {
	mu     sync.Mutex
	events []workerstore.WorkerEvent
	fail   bool
}

func (f *fakePusher) PushEvent(ctx context.Context, ev workerstore.WorkerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePusher) snapshot() []workerstore.WorkerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]workerstore.WorkerEvent, len(f.events))
	copy(out, f.events)
	return out
}

func newTestStore(t *testing.T) *workerstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := workerstore.Open(filepath.Join(dir, "state.json"), "w1", nil)
	require.NoError(t, err)
	return store
}

func TestPoll_EmitsSessionCreatedForNewSession(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	mux.setSessions("csm-foo")
	store := newTestStore(t)
	pusher := &fakePusher{}

	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)
	agent.poll(context.Background())

	events := pusher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "session_created", events[0].Type)
	assert.Equal(t, "foo", events[0].SessionName)
}

func TestPoll_IgnoresSessionsWithoutPrefix(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	mux.setSessions("other-session")
	store := newTestStore(t)
	pusher := &fakePusher{}

	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)
	agent.poll(context.Background())

	assert.Empty(t, pusher.snapshot())
}

func TestPoll_EmitsSessionKilledWhenSessionDisappears(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	mux.setSessions("csm-foo")
	store := newTestStore(t)
	pusher := &fakePusher{}

	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)
	agent.poll(context.Background())

	mux.setSessions()
	agent.poll(context.Background())

	events := pusher.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "session_killed", events[1].Type)
}

func TestPoll_EmitsAttachedAndDetachedTransitions(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{"csm-foo": false}}
	mux.setSessions("csm-foo")
	store := newTestStore(t)
	pusher := &fakePusher{}

	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)
	agent.poll(context.Background())

	mux.mu.Lock()
	mux.attached["csm-foo"] = true
	mux.mu.Unlock()
	agent.poll(context.Background())

	events := pusher.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "session_attached", events[1].Type)
}

func TestPoll_ReentrancySkipsOverlappingTick(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &fakePusher{}
	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)

	agent.pollBusy.Lock()
	agent.poll(context.Background())
	agent.pollBusy.Unlock()

	assert.Empty(t, pusher.snapshot())
}

func TestHeartbeat_PersistsAndEmits(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &fakePusher{}
	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)

	agent.heartbeat(context.Background())

	events := pusher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "heartbeat", events[0].Type)
}

func TestDrainQueue_StopsOnFirstFailurePreservingFIFO(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &fakePusher{fail: true}
	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)

	require.NoError(t, store.EnqueueEvent(workerstore.WorkerEvent{Type: "a"}))
	require.NoError(t, store.EnqueueEvent(workerstore.WorkerEvent{Type: "b"}))

	agent.drainQueue(context.Background())

	ev, ok := store.PeekEvent()
	require.True(t, ok)
	assert.Equal(t, "a", ev.Type)
}

func TestPushOrQueue_EnqueuesOnPushFailure(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &fakePusher{fail: true}
	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)

	agent.emit("heartbeat", "", nil)

	ev, ok := store.PeekEvent()
	require.True(t, ok)
	assert.Equal(t, "heartbeat", ev.Type)
}

// writeAheadObservingPusher records whether the event was already visible
// in the durable queue at the moment PushEvent was called, proving the
// enqueue happened before delivery was attempted rather than after.
type writeAheadObservingPusher struct {
	store            *workerstore.Store
	sawEnqueuedFirst bool
}

func (p *writeAheadObservingPusher) PushEvent(ctx context.Context, ev workerstore.WorkerEvent) error {
	if queued, ok := p.store.PeekEvent(); ok && queued.Type == ev.Type {
		p.sawEnqueuedFirst = true
	}
	return nil
}

func TestPushOrQueue_EnqueuesBeforeAttemptingDelivery(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &writeAheadObservingPusher{store: store}
	agent := NewAgent(Config{WorkerID: "w1"}, mux, store, pusher, nil, nil)

	agent.emit("heartbeat", "", nil)

	assert.True(t, pusher.sawEnqueuedFirst, "event must be durably queued before the push is attempted, so a crash mid-push cannot lose it")
	_, ok := store.PeekEvent()
	assert.False(t, ok, "a successfully delivered event must be dequeued")
}

func TestRun_PushesDeregisteredEventOnContextCancel(t *testing.T) {
	mux := &fakeMultiplexer{attached: map[string]bool{}}
	store := newTestStore(t)
	pusher := &fakePusher{}
	agent := NewAgent(Config{
		WorkerID:          "w1",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, mux, store, pusher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	events := pusher.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "worker_deregistered", events[len(events)-1].Type)
}
