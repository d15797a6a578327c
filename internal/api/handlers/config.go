// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"sync"

	"github.com/danilotorrisi/csm/internal/config"
	"github.com/danilotorrisi/csm/internal/rules"
)

// ConfigHandler serves GET/PATCH /api/config: the live MasterConfig plus
// the rule engine's current tool-approval rules, merged into one document.
type ConfigHandler struct {
	mu     sync.Mutex
	cfg    *config.MasterConfig
	path   string
	engine *rules.Engine
}

// NewConfigHandler constructs a ConfigHandler. path is where PATCH persists
// the updated config via config.WriteAtomic.
func NewConfigHandler(cfg *config.MasterConfig, path string, engine *rules.Engine) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, path: path, engine: engine}
}

type configView struct {
	Projects          []config.ProjectConfig `json:"projects"`
	Hosts             []config.HostConfig    `json:"hosts"`
	ToolApprovalRules []rules.Rule           `json:"toolApprovalRules"`
	HasLinear         bool                   `json:"hasLinear"`
}

func (h *ConfigHandler) view() configView {
	return configView{
		Projects:          h.cfg.Projects,
		Hosts:             h.cfg.Hosts,
		ToolApprovalRules: h.engine.Rules(),
		HasLinear:         h.cfg.HasLinear,
	}
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"config": h.view()})
}

// Patch handles PATCH /api/config: a partial update merged into the current
// config, persisted to disk, and returned in full. Tool-approval rules are
// read-only here — they are owned by the hot-reloadable rule file (§4.B+)
// and are not mutated through this endpoint.
func (h *ConfigHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Projects  *[]config.ProjectConfig `json:"projects"`
		Hosts     *[]config.HostConfig    `json:"hosts"`
		HasLinear *bool                   `json:"hasLinear"`
	}
	if err := decodeJSONBody(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if patch.Projects != nil {
		h.cfg.Projects = *patch.Projects
	}
	if patch.Hosts != nil {
		h.cfg.Hosts = *patch.Hosts
	}
	if patch.HasLinear != nil {
		h.cfg.HasLinear = *patch.HasLinear
	}

	if err := config.WriteAtomic(h.path, h.cfg); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"config": h.view()})
}
