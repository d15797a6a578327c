// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"io"
	"net/http"

	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/master"
)

// WorkerHandler serves the master's worker-facing ingestion endpoints
// (POST /api/worker-events, POST /api/worker-sync) and the dashboard-facing
// GET /api/workers listing.
type WorkerHandler struct {
	agg *master.Aggregator
	bus *eventbus.Bus
}

// NewWorkerHandler constructs a WorkerHandler. Every ingested or synced
// event is also published on bus, so the supplemental /api/events/ws and
// any other bus subscriber observes worker activity live.
func NewWorkerHandler(agg *master.Aggregator, bus *eventbus.Bus) *WorkerHandler {
	return &WorkerHandler{agg: agg, bus: bus}
}

// IngestEvent handles POST /api/worker-events: a single WorkerEvent folded
// into the aggregator's ring, worker registry, or session mirror.
func (h *WorkerHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var ev master.Event
	if err := master.ParseBody(body, &ev); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.Type == "" || ev.WorkerID == "" {
		WriteError(w, http.StatusBadRequest, "worker event requires type and workerId")
		return
	}

	if err := h.agg.Ingest(ev); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Emit(eventbus.Event{Type: ev.Type, SessionName: ev.SessionName, Payload: ev})
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Sync handles POST /api/worker-sync: a full-state resync of a worker's
// known sessions, folded into the session mirror.
func (h *WorkerHandler) Sync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var payload struct {
		WorkerID string                     `json:"workerId"`
		Sessions []master.WorkerSyncSession `json:"sessions"`
	}
	if err := master.ParseBody(body, &payload); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.agg.Sync(payload.WorkerID, payload.Sessions); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Emit(eventbus.Event{Type: "worker_sync", Payload: payload})
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// List handles GET /api/workers: every known worker with its derived
// online/stale/offline status.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"workers": h.agg.Workers()})
}
