// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workerstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", s.WorkerID())
	assert.Empty(t, s.Snapshot())
}

func TestOpen_CorruptFileRecoversToFreshState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := Open(path, "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", s.WorkerID())
	assert.Empty(t, s.Snapshot())
}

func TestUpdateSession_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path, "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSession("foo", Session{ProjectName: "demo", Attached: true}))

	reloaded, err := Open(path, "worker-1", nil)
	require.NoError(t, err)
	snap := reloaded.Snapshot()
	require.Contains(t, snap, "foo")
	assert.Equal(t, "demo", snap["foo"].ProjectName)
	assert.True(t, snap["foo"].Attached)
}

func TestRemoveSession(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"), "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSession("foo", Session{}))
	require.NoError(t, s.RemoveSession("foo"))
	assert.NotContains(t, s.Snapshot(), "foo")
}

func TestEventQueue_FIFO(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"), "worker-1", nil)
	require.NoError(t, err)

	require.NoError(t, s.EnqueueEvent(WorkerEvent{Type: "a"}))
	require.NoError(t, s.EnqueueEvent(WorkerEvent{Type: "b"}))

	peeked, ok := s.PeekEvent()
	require.True(t, ok)
	assert.Equal(t, "a", peeked.Type)

	ev, ok, err := s.DequeueEvent()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", ev.Type)

	ev, ok, err = s.DequeueEvent()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", ev.Type)

	_, ok, err = s.DequeueEvent()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTouchHeartbeat(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"), "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.TouchHeartbeat("2026-07-29T00:00:00Z"))

	reloaded, err := Open(filepath.Join(dir, "state.json"), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-29T00:00:00Z", reloaded.state.LastHeartbeat)
}
