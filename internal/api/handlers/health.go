// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/danilotorrisi/csm/internal/master"
)

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	agg *master.Aggregator
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(agg *master.Aggregator) *HealthHandler {
	return &HealthHandler{agg: agg}
}

// Health reports process liveness and the aggregator's current counts.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	workers, sessions, events := h.agg.Counts()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"workers":  workers,
		"sessions": sessions,
		"events":   events,
	})
}
