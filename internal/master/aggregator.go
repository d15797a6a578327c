// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package master implements the master's aggregation of worker-reported
// state: a bounded, append-only event ring, the worker registry, and the
// session-mirror keyed by worker and session name.
package master

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// maxRingEvents bounds the event ring; the oldest entry is dropped once
// the ring grows past this size.
const maxRingEvents = 1000

// Online/stale/offline boundaries for worker-status derivation.
const (
	onlineThreshold = 60 * time.Second
	staleThreshold  = 120 * time.Second
)

// WorkerStatus is the derived liveness of a worker record.
type WorkerStatus string

const (
	StatusOnline  WorkerStatus = "online"
	StatusStale   WorkerStatus = "stale"
	StatusOffline WorkerStatus = "offline"
)

// Event is one entry of the master's event ring, mirroring the wire shape
// pushed by a worker's WorkerEvent.
type Event struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	WorkerID    string          `json:"workerId"`
	SessionName string          `json:"sessionName,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// WorkerRecord is the master's view of one worker.
type WorkerRecord struct {
	ID            string          `json:"id"`
	LastHeartbeat string          `json:"lastHeartbeat"`
	RegisteredAt  string          `json:"registeredAt"`
	SessionCount  int             `json:"sessionCount"`
	HostInfo      json.RawMessage `json:"hostInfo,omitempty"`
}

// SessionRecord is the master's mirror of one worker-reported session,
// keyed by "workerId:sessionName".
type SessionRecord struct {
	WorkerID    string          `json:"workerId"`
	SessionName string          `json:"sessionName"`
	LastUpdate  string          `json:"lastUpdate,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// WorkerSyncSession is one entry of a /api/worker-sync request body.
type WorkerSyncSession struct {
	SessionName string          `json:"sessionName"`
	WorkerID    string          `json:"workerId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Aggregator is the single process-wide owner of worker-reported state:
// the event ring, the worker registry, and the session mirror. All three
// are guarded by one mutex — per spec, the event rate from workers is low
// enough that a single global lock is an acceptable serialization point.
type Aggregator struct {
	mu       sync.Mutex
	ring     []Event
	workers  map[string]*WorkerRecord
	sessions map[string]*SessionRecord
	now      func() time.Time
}

// New constructs an empty Aggregator. nowFn defaults to time.Now; tests may
// override it to exercise the exact status-boundary table deterministically.
func New(nowFn func() time.Time) *Aggregator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Aggregator{
		workers:  make(map[string]*WorkerRecord),
		sessions: make(map[string]*SessionRecord),
		now:      nowFn,
	}
}

func sessionKey(workerID, sessionName string) string {
	return workerID + ":" + sessionName
}

// Ingest applies one worker event: appends it to the ring (evicting the
// oldest entry past maxRingEvents) and folds it into the worker registry or
// session mirror per its type.
func (a *Aggregator) Ingest(ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ring = append(a.ring, ev)
	if len(a.ring) > maxRingEvents {
		a.ring = a.ring[len(a.ring)-maxRingEvents:]
	}

	switch ev.Type {
	case "worker_registered":
		a.upsertWorkerLocked(ev, true)
	case "worker_deregistered":
		if w, ok := a.workers[ev.WorkerID]; ok {
			w.LastHeartbeat = ""
		}
	case "heartbeat":
		a.upsertWorkerLocked(ev, false)
	case "session_created":
		a.sessions[sessionKey(ev.WorkerID, ev.SessionName)] = &SessionRecord{
			WorkerID:    ev.WorkerID,
			SessionName: ev.SessionName,
			LastUpdate:  ev.Timestamp,
			Data:        ev.Data,
		}
	case "session_killed":
		delete(a.sessions, sessionKey(ev.WorkerID, ev.SessionName))
	case "session_attached", "session_detached", "claude_state_changed", "git_changes":
		a.mergeSessionLocked(ev)
	}

	return nil
}

// upsertWorkerLocked creates or updates a.workers[ev.WorkerID] from a
// worker_registered or heartbeat event. registeredAt is write-once: a
// worker_registered event only sets it when the record is first created.
func (a *Aggregator) upsertWorkerLocked(ev Event, isRegistration bool) {
	w, ok := a.workers[ev.WorkerID]
	if !ok {
		w = &WorkerRecord{ID: ev.WorkerID, RegisteredAt: ev.Timestamp}
		a.workers[ev.WorkerID] = w
	}
	w.LastHeartbeat = ev.Timestamp

	var payload struct {
		SessionCount *int            `json:"sessionCount"`
		HostInfo     json.RawMessage `json:"hostInfo"`
	}
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &payload)
	}
	if isRegistration {
		if payload.SessionCount != nil {
			w.SessionCount = *payload.SessionCount
		}
		if len(payload.HostInfo) > 0 {
			w.HostInfo = payload.HostInfo
		}
		return
	}
	if payload.SessionCount != nil {
		w.SessionCount = *payload.SessionCount
	} else {
		w.SessionCount = 0
	}
	if len(payload.HostInfo) > 0 {
		w.HostInfo = payload.HostInfo
	}
}

// mergeSessionLocked shallow-merges ev.Data into the existing session
// record's Data, creating the record if absent, and stamps lastUpdate.
func (a *Aggregator) mergeSessionLocked(ev Event) {
	key := sessionKey(ev.WorkerID, ev.SessionName)
	existing, ok := a.sessions[key]
	if !ok {
		a.sessions[key] = &SessionRecord{
			WorkerID:    ev.WorkerID,
			SessionName: ev.SessionName,
			LastUpdate:  ev.Timestamp,
			Data:        ev.Data,
		}
		return
	}

	merged := map[string]json.RawMessage{}
	if len(existing.Data) > 0 {
		_ = json.Unmarshal(existing.Data, &merged)
	}
	var incoming map[string]json.RawMessage
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &incoming)
	}
	for k, v := range incoming {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	existing.Data = out
	existing.LastUpdate = ev.Timestamp
}

// Sync applies a full-state-sync payload from /api/worker-sync: each
// session is upserted under workerId:sessionName (falling back to the
// request's own workerId, then "unknown"), shallow-merging into any
// existing record and stamping lastUpdate with the current time.
func (a *Aggregator) Sync(bodyWorkerID string, sessions []WorkerSyncSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC().Format(time.RFC3339)
	for _, s := range sessions {
		workerID := s.WorkerID
		if workerID == "" {
			workerID = bodyWorkerID
		}
		if workerID == "" {
			workerID = "unknown"
		}
		a.mergeSessionLocked(Event{
			WorkerID:    workerID,
			SessionName: s.SessionName,
			Timestamp:   now,
			Data:        s.Data,
		})
	}
	return nil
}

// DeriveStatus is the pure function of (now, lastHeartbeat) mandated by
// the worker-status boundary table: an empty lastHeartbeat is always
// offline; age < 60s (including negative ages from clock skew) is online;
// 60s <= age < 120s is stale; age >= 120s is offline.
func DeriveStatus(now time.Time, lastHeartbeat string) WorkerStatus {
	if lastHeartbeat == "" {
		return StatusOffline
	}
	ts, err := time.Parse(time.RFC3339, lastHeartbeat)
	if err != nil {
		return StatusOffline
	}
	age := now.Sub(ts)
	switch {
	case age < onlineThreshold:
		return StatusOnline
	case age < staleThreshold:
		return StatusStale
	default:
		return StatusOffline
	}
}

// WorkerView is a worker record with its derived status, as returned by
// GET /api/workers and GET /api/state.
type WorkerView struct {
	ID            string          `json:"id"`
	Status        WorkerStatus    `json:"status"`
	LastHeartbeat string          `json:"lastHeartbeat"`
	RegisteredAt  string          `json:"registeredAt"`
	SessionCount  int             `json:"sessionCount"`
	HostInfo      json.RawMessage `json:"hostInfo,omitempty"`
}

// Workers returns every known worker with its current derived status, in
// no particular order.
func (a *Aggregator) Workers() []WorkerView {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	out := make([]WorkerView, 0, len(a.workers))
	for _, w := range a.workers {
		out = append(out, WorkerView{
			ID:            w.ID,
			Status:        DeriveStatus(now, w.LastHeartbeat),
			LastHeartbeat: w.LastHeartbeat,
			RegisteredAt:  w.RegisteredAt,
			SessionCount:  w.SessionCount,
			HostInfo:      w.HostInfo,
		})
	}
	return out
}

// Sessions returns every known session-mirror record, in no particular
// order.
func (a *Aggregator) Sessions() []SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]SessionRecord, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, *s)
	}
	return out
}

// EventPage is one page of the event ring, newest-first.
type EventPage struct {
	Events  []Event
	HasMore bool
	Total   int
}

// Events returns a newest-first page of the event ring. limit is clamped
// to [1, 200] (0 or negative defaults to 200); before, if non-empty,
// restricts the page to events strictly older than that ISO-8601
// timestamp. This is the master's own pagination direction — newest-first
// — which diverges from an oldest-first history query: API consumers
// (the dashboard, the mobile client) want the latest activity without
// walking the whole ring.
func (a *Aggregator) Events(limit int, before string) EventPage {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 || limit > 200 {
		limit = 200
	}

	// a.ring is stored oldest-first (append-only); build newest-first.
	newestFirst := make([]Event, 0, len(a.ring))
	for i := len(a.ring) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, a.ring[i])
	}

	filtered := newestFirst
	if before != "" {
		filtered = make([]Event, 0, len(newestFirst))
		for _, ev := range newestFirst {
			if ev.Timestamp < before {
				filtered = append(filtered, ev)
			}
		}
	}

	total := len(filtered)
	hasMore := total > limit
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return EventPage{Events: filtered, HasMore: hasMore, Total: total}
}

// RecentEvents returns the n most recent events, newest-first, for the
// consolidated /api/state view (n is typically 20).
func (a *Aggregator) RecentEvents(n int) []Event {
	page := a.Events(n, "")
	return page.Events
}

// Counts returns the current worker/session/event totals for /api/health.
func (a *Aggregator) Counts() (workers, sessions, events int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workers), len(a.sessions), len(a.ring)
}

// ParseBody is a small helper so handlers can turn a decode error into a
// uniform message naming the offending payload, per the API's "cite the
// offending field by name" error contract.
func ParseBody(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
