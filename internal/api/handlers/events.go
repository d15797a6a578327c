// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danilotorrisi/csm/internal/eventbus"
	"github.com/danilotorrisi/csm/internal/master"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHandler serves GET /api/events, GET /api/state, and the supplemental
// live GET /api/events/ws firehose.
type EventHandler struct {
	agg *master.Aggregator
	bus *eventbus.Bus
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(agg *master.Aggregator, bus *eventbus.Bus) *EventHandler {
	return &EventHandler{agg: agg, bus: bus}
}

// History handles GET /api/events?limit=<=200>&before=<ISO>.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}
	before := query.Get("before")

	page := h.agg.Events(limit, before)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events":  page.Events,
		"hasMore": page.HasMore,
		"total":   page.Total,
	})
}

// State handles GET /api/state: a consolidated snapshot for dashboard
// bootstrapping — every worker, every mirrored session, and the 20 most
// recent events.
func (h *EventHandler) State(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workers":      h.agg.Workers(),
		"sessions":     h.agg.Sessions(),
		"recentEvents": h.agg.RecentEvents(20),
	})
}

// WebSocket handles GET /api/events/ws: a framed-message alternative to SSE
// pushing every bus event to the client, JSON-encoded one per WS text
// message, behind the same bearer-token query-param auth as SSE.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "connected"})

	eventCh := make(chan eventbus.Event, 100)
	unsubscribe := h.bus.On(func(ev eventbus.Event) {
		select {
		case eventCh <- ev:
		default:
			// Drop if the consumer can't keep up; it can resync via GET /api/state.
		}
	})
	defer unsubscribe()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-eventCh:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
