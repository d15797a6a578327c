// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workerstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Store guards a WorkerState and persists every mutation to filePath
// synchronously, atomically (write-temp-then-rename), before returning.
type Store struct {
	mu       sync.Mutex
	filePath string
	logger   *log.Logger
	state    *WorkerState
}

// Open loads filePath into a Store, creating a fresh empty state for
// workerID if the file does not exist or is corrupt. A corrupt file is
// never fatal: it is logged and replaced in memory (persisted on the next
// mutation), matching the teacher's store's not-exist handling generalized
// to cover unmarshal failure the same way.
func Open(filePath, workerID string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{filePath: filePath, logger: logger}

	data, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		s.state = emptyState(workerID)
	case err != nil:
		return nil, fmt.Errorf("read worker state file: %w", err)
	case len(data) == 0:
		s.state = emptyState(workerID)
	default:
		var loaded WorkerState
		if jerr := json.Unmarshal(data, &loaded); jerr != nil {
			logger.Printf("workerstore: %s is corrupt (%v), starting from a fresh empty state", filePath, jerr)
			s.state = emptyState(workerID)
		} else {
			if loaded.Sessions == nil {
				loaded.Sessions = make(map[string]Session)
			}
			s.state = &loaded
		}
	}
	return s, nil
}

// persist writes the current state to disk atomically. Caller must hold mu.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal worker state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create worker state dir: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp worker state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename worker state file: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current sessions map (entries copied by
// value; GitStats bytes are shared with the store), for poll-loop
// diffing against the previous tick.
func (s *Store) Snapshot() map[string]Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Session, len(s.state.Sessions))
	for k, v := range s.state.Sessions {
		out[k] = v
	}
	return out
}

// SetSessions replaces the whole sessions map (used after a poll tick
// computes the new snapshot) and persists.
func (s *Store) SetSessions(sessions map[string]Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sessions = sessions
	return s.persist()
}

// UpdateSession upserts one session entry and persists.
func (s *Store) UpdateSession(name string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sessions[name] = sess
	return s.persist()
}

// RemoveSession deletes one session entry and persists.
func (s *Store) RemoveSession(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Sessions, name)
	return s.persist()
}

// TouchHeartbeat sets lastHeartbeat and persists.
func (s *Store) TouchHeartbeat(timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastHeartbeat = timestamp
	return s.persist()
}

// EnqueueEvent appends an event to the retry queue (tail) and persists.
func (s *Store) EnqueueEvent(ev WorkerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.EventQueue = append(s.state.EventQueue, ev)
	return s.persist()
}

// DequeueEvent removes and returns the head of the retry queue (FIFO). The
// second return value is false if the queue is empty.
func (s *Store) DequeueEvent() (WorkerEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.EventQueue) == 0 {
		return WorkerEvent{}, false, nil
	}
	head := s.state.EventQueue[0]
	s.state.EventQueue = s.state.EventQueue[1:]
	if err := s.persist(); err != nil {
		return WorkerEvent{}, false, err
	}
	return head, true, nil
}

// PeekEvent returns the head of the retry queue without removing it, for
// retry logic that must not drop an event until delivery succeeds.
func (s *Store) PeekEvent() (WorkerEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.EventQueue) == 0 {
		return WorkerEvent{}, false
	}
	return s.state.EventQueue[0], true
}

// WorkerID returns the worker identity this store was opened with.
func (s *Store) WorkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.WorkerID
}
