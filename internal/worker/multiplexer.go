// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the worker agent of component F: it polls a
// local terminal multiplexer for csm-prefixed sessions, diffs against its
// last-known snapshot, and pushes the resulting events to the master.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Multiplexer abstracts the terminal multiplexer backend the worker polls.
// Real deployments use tmux; testharness substitutes a pty-backed fake so
// the poll loop can be exercised without a real tmux binary.
type Multiplexer interface {
	// ListSessions returns every live session name, unfiltered.
	ListSessions(ctx context.Context) ([]string, error)
	// IsAttached reports whether any client is attached to session.
	IsAttached(ctx context.Context, session string) (bool, error)
	// CapturePane returns the current visible pane content for session.
	// The Agent's poll loop does not call it; ClaudeState/ClaudeLastMsg are
	// carried over from the previous snapshot.
	CapturePane(ctx context.Context, session string) ([]byte, error)
}

// TmuxMultiplexer is the real, tmux-backed Multiplexer implementation.
type TmuxMultiplexer struct{}

// NewTmuxMultiplexer constructs a TmuxMultiplexer.
func NewTmuxMultiplexer() *TmuxMultiplexer { return &TmuxMultiplexer{} }

func (m *TmuxMultiplexer) ListSessions(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	output, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	var sessions []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

func (m *TmuxMultiplexer) IsAttached(ctx context.Context, session string) (bool, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name} #{session_attached}")
	output, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return false, nil
		}
		return false, fmt.Errorf("tmux list-sessions: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == session {
			return fields[1] != "0", nil
		}
	}
	return false, nil
}

func (m *TmuxMultiplexer) CapturePane(ctx context.Context, session string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", session, "-p")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tmux capture-pane: %s: %w", stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// SendText types text into session's active pane followed by Enter — the
// tmux fallback used when a session has no live WS connection for the CLI
// to receive a prompt over, grounded on the same tmux send-keys idiom the
// teacher's RealManager.SendInput uses.
func (m *TmuxMultiplexer) SendText(ctx context.Context, session, text string) error {
	target := sessionPrefix + session
	if err := exec.CommandContext(ctx, "tmux", "send-keys", "-t", target, text).Run(); err != nil {
		return fmt.Errorf("tmux send-keys: %w", err)
	}
	if err := exec.CommandContext(ctx, "tmux", "send-keys", "-t", target, "Enter").Run(); err != nil {
		return fmt.Errorf("tmux send-keys enter: %w", err)
	}
	return nil
}

// sessionPrefix is the multiplexer-session naming convention worker sessions
// use; anything else is ignored by the poll loop.
const sessionPrefix = "csm-"

// sessionNameFromKey extracts the CSM sessionName from a multiplexer session
// key, returning ok=false if the key isn't one of ours.
func sessionNameFromKey(key string) (name string, ok bool) {
	if !strings.HasPrefix(key, sessionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, sessionPrefix), true
}
