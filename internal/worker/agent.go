// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"log"
	"reflect"
	"sync"
	"time"

	goprocess "github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"

	"github.com/danilotorrisi/csm/internal/workerstore"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	pushTimeout              = 5 * time.Second
)

// Pusher delivers one worker event to the master, returning a non-nil
// error on any network failure or non-2xx response.
type Pusher interface {
	PushEvent(ctx context.Context, ev workerstore.WorkerEvent) error
}

// SessionInfoProvider supplies the descriptive fields a freshly observed
// session carries (worktreePath, projectName, linearIssue) — sourced from
// the surrounding tooling (worktree layout, Linear integration), neither of
// which is part of this component.
type SessionInfoProvider interface {
	Describe(sessionName string) (worktreePath, projectName, linearIssue string)
}

// NoopSessionInfoProvider leaves the descriptive fields empty; a suitable
// default when no adjacent tooling is configured.
type NoopSessionInfoProvider struct{}

func (NoopSessionInfoProvider) Describe(string) (string, string, string) { return "", "", "" }

// HostInfo is the optional host-introspection payload carried on heartbeat
// events.
type HostInfo struct {
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	CPUCount    int    `json:"cpuCount"`
	UptimeSecs  int64  `json:"uptime"`
	ProcessCount int   `json:"processCount,omitempty"`
}

// Config controls an Agent's timers and collaborators.
type Config struct {
	WorkerID          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	HostInfoFunc      func() HostInfo
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
}

// Agent is the worker agent of component F: it runs the poll and heartbeat
// timers, diffs multiplexer state against the store's last snapshot, and
// pushes the resulting events to the master with local retry.
type Agent struct {
	cfg    Config
	mux    Multiplexer
	store  *workerstore.Store
	pusher Pusher
	info   SessionInfoProvider
	logger *log.Logger

	pollBusy      sync.Mutex
	heartbeatBusy sync.Mutex

	stopCh  chan struct{}
	closeCh sync.Once
}

// NewAgent constructs an Agent. info may be nil (defaults to
// NoopSessionInfoProvider).
func NewAgent(cfg Config, mux Multiplexer, store *workerstore.Store, pusher Pusher, info SessionInfoProvider, logger *log.Logger) *Agent {
	cfg.applyDefaults()
	if info == nil {
		info = NoopSessionInfoProvider{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		cfg:    cfg,
		mux:    mux,
		store:  store,
		pusher: pusher,
		info:   info,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Run starts the poll and heartbeat loops as a group (grounded on
// internal/trace/manager.go's errgroup.WithContext fan-out) and blocks
// until ctx is cancelled or Stop is called. On return, it has already
// pushed (or queued) a worker_deregistered event.
func (a *Agent) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.pollLoop(gctx); return nil })
	g.Go(func() error { a.heartbeatLoop(gctx); return nil })

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	}
	a.stop()
	g.Wait()

	ev := a.newEvent("worker_deregistered", "", nil)
	a.pushOrQueue(ev)
}

// Stop requests both loops to exit; callers running Run in a goroutine
// should cancel its context instead, this is for direct embedding use.
func (a *Agent) Stop() {
	a.stop()
}

func (a *Agent) stop() {
	a.closeCh.Do(func() { close(a.stopCh) })
}

func (a *Agent) pollLoop(ctx context.Context) {
	a.poll(ctx)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	a.heartbeat(ctx)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.heartbeat(ctx)
		}
	}
}

// poll runs one tick: re-entrancy is skipped if a previous tick has not
// completed (§5 concurrency model, timers class).
func (a *Agent) poll(ctx context.Context) {
	if !a.pollBusy.TryLock() {
		return
	}
	defer a.pollBusy.Unlock()

	keys, err := a.mux.ListSessions(ctx)
	if err != nil {
		a.logger.Printf("worker: list sessions failed: %v", err)
		return
	}

	previous := a.store.Snapshot()
	next := make(map[string]workerstore.Session, len(keys))

	for _, key := range keys {
		name, ok := sessionNameFromKey(key)
		if !ok {
			continue
		}
		sess := a.buildSession(ctx, key, name, previous[name])
		next[name] = sess

		old, existed := previous[name]
		if !existed {
			worktreePath, projectName, linearIssue := a.info.Describe(name)
			a.emit("session_created", name, map[string]interface{}{
				"worktreePath": worktreePath,
				"projectName":  projectName,
				"linearIssue":  linearIssue,
			})
			continue
		}
		if old.Attached != sess.Attached {
			if sess.Attached {
				a.emit("session_attached", name, nil)
			} else {
				a.emit("session_detached", name, nil)
			}
		}
		if old.ClaudeState != sess.ClaudeState {
			a.emit("claude_state_changed", name, map[string]interface{}{
				"claudeState":       sess.ClaudeState,
				"claudeLastMessage": sess.ClaudeLastMsg,
			})
		}
		if !reflect.DeepEqual(old.GitStats, sess.GitStats) {
			a.emit("git_changes", name, map[string]interface{}{"gitStats": sess.GitStats})
		}
	}

	for name := range previous {
		if _, stillPresent := next[name]; !stillPresent {
			a.emit("session_killed", name, nil)
		}
	}

	if err := a.store.SetSessions(next); err != nil {
		a.logger.Printf("worker: persist session snapshot failed: %v", err)
	}

	a.drainQueue(ctx)
}

// buildSession captures the current observable state of one multiplexer
// session. State detection beyond attach status (claudeState, gitStats) is
// necessarily heuristic/external; this default leaves them as carried over
// from the previous snapshot; a richer SessionInfoProvider may be layered
// on top in a deployment that wires in pane-content inspection.
func (a *Agent) buildSession(ctx context.Context, key, name string, previous workerstore.Session) workerstore.Session {
	attached, err := a.mux.IsAttached(ctx, key)
	if err != nil {
		a.logger.Printf("worker: attach check for %s failed: %v", key, err)
	}
	sess := previous
	sess.Attached = attached
	return sess
}

func (a *Agent) heartbeat(ctx context.Context) {
	if !a.heartbeatBusy.TryLock() {
		return
	}
	defer a.heartbeatBusy.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := a.store.TouchHeartbeat(now); err != nil {
		a.logger.Printf("worker: heartbeat persist failed: %v", err)
	}

	sessionCount := len(a.store.Snapshot())
	data := map[string]interface{}{"sessionCount": sessionCount}
	if a.cfg.HostInfoFunc != nil {
		data["hostInfo"] = a.cfg.HostInfoFunc()
	}
	a.emit("heartbeat", "", data)
	a.drainQueue(ctx)
}

func (a *Agent) emit(eventType, sessionName string, data map[string]interface{}) {
	ev := a.newEvent(eventType, sessionName, data)
	a.pushOrQueue(ev)
}

func (a *Agent) newEvent(eventType, sessionName string, data map[string]interface{}) workerstore.WorkerEvent {
	var raw json.RawMessage
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			raw = encoded
		}
	}
	return workerstore.WorkerEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		WorkerID:    a.cfg.WorkerID,
		SessionName: sessionName,
		Data:        raw,
	}
}

// pushOrQueue durably enqueues ev before attempting delivery — the
// write-ahead order required so that a crash *during* the in-flight push,
// not just a clean network failure, cannot lose the event. Delivery is
// then driven by drainQueue, which pushes and dequeues head-first,
// preserving FIFO order against whatever may already be queued ahead of
// ev rather than racing to deliver ev past an undelivered backlog.
func (a *Agent) pushOrQueue(ev workerstore.WorkerEvent) {
	if err := a.store.EnqueueEvent(ev); err != nil {
		a.logger.Printf("worker: failed to queue event: %v", err)
		return
	}
	a.drainQueue(context.Background())
}

// drainQueue flushes the retry queue head-first, stopping at the first
// failure to preserve FIFO order (§4.F).
func (a *Agent) drainQueue(ctx context.Context) {
	for {
		ev, ok := a.store.PeekEvent()
		if !ok {
			return
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := a.pusher.PushEvent(pushCtx, ev)
		cancel()
		if err != nil {
			return
		}
		if _, _, derr := a.store.DequeueEvent(); derr != nil {
			a.logger.Printf("worker: failed to dequeue delivered event: %v", derr)
			return
		}
	}
}

// CurrentHostInfo is a ready-to-use HostInfoFunc grounded on go-ps for
// process-count introspection.
func CurrentHostInfo(hostname, osName, arch string, cpuCount int, bootTime time.Time) HostInfo {
	info := HostInfo{
		Hostname:   hostname,
		OS:         osName,
		Arch:       arch,
		CPUCount:   cpuCount,
		UptimeSecs: int64(time.Since(bootTime).Seconds()),
	}
	if procs, err := goprocess.Processes(); err == nil {
		info.ProcessCount = len(procs)
	}
	return info
}
