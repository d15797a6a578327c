// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package testharness provides a pty-backed fake worker.Multiplexer so the
// worker agent's poll-loop tests can exercise real line-oriented terminal
// output without requiring a real tmux binary in CI, grounded on the
// teacher's own pty.Start/pty.Setsize usage for driving its proxied
// terminal sessions.
package testharness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Harness is a Multiplexer backed by real pty-attached child processes,
// one per registered session name.
type Harness struct {
	mu       sync.Mutex
	sessions map[string]*ptySession
}

type ptySession struct {
	cmd      *exec.Cmd
	tty      *os.File
	buf      bytes.Buffer
	mu       sync.Mutex
	attached bool
}

// New constructs an empty Harness.
func New() *Harness {
	return &Harness{sessions: make(map[string]*ptySession)}
}

// Spawn starts command/args attached to a pty and registers it under name.
// Output is continuously captured in the background so CapturePane returns
// whatever the process has written so far.
func (h *Harness) Spawn(name, command string, args ...string) error {
	cmd := exec.Command(command, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty for %s: %w", name, err)
	}
	_ = pty.Setsize(f, &pty.Winsize{Rows: 24, Cols: 80})

	sess := &ptySession{cmd: cmd, tty: f}
	h.mu.Lock()
	h.sessions[name] = sess
	h.mu.Unlock()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				sess.mu.Lock()
				sess.buf.Write(buf[:n])
				sess.mu.Unlock()
			}
			if err != nil {
				if err != io.EOF {
					return
				}
				return
			}
		}
	}()

	return nil
}

// SetAttached marks name as having (or not having) an attached client, the
// fake's equivalent of a real client attaching to a tmux session.
func (h *Harness) SetAttached(name string, attached bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sess, ok := h.sessions[name]; ok {
		sess.attached = attached
	}
}

// Kill terminates name's process and removes it from the session list,
// simulating the session disappearing out from under the poll loop.
func (h *Harness) Kill(name string) error {
	h.mu.Lock()
	sess, ok := h.sessions[name]
	delete(h.sessions, name)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	sess.tty.Close()
	if sess.cmd.Process != nil {
		return sess.cmd.Process.Kill()
	}
	return nil
}

// ListSessions implements worker.Multiplexer.
func (h *Harness) ListSessions(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.sessions))
	for name := range h.sessions {
		names = append(names, name)
	}
	return names, nil
}

// IsAttached implements worker.Multiplexer.
func (h *Harness) IsAttached(ctx context.Context, session string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[session]
	if !ok {
		return false, nil
	}
	return sess.attached, nil
}

// CapturePane implements worker.Multiplexer.
func (h *Harness) CapturePane(ctx context.Context, session string) ([]byte, error) {
	h.mu.Lock()
	sess, ok := h.sessions[session]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such session %s", session)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]byte, sess.buf.Len())
	copy(out, sess.buf.Bytes())
	return out, nil
}
