// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import "time"

// WorkerConfig is the root configuration for csm-worker.
type WorkerConfig struct {
	WorkerID string `json:"workerId"`
	MasterURL string `json:"masterUrl"`
	AuthToken string `json:"authToken,omitempty"`

	// StateFile is the worker's durable session/queue state (component E).
	StateFile string `json:"stateFile"`

	// PollIntervalMS/HeartbeatIntervalMS override the default 10s/30s
	// timers (§4.F); stored as milliseconds for simple HJSON round-trip.
	PollIntervalMS      int64 `json:"pollIntervalMs"`
	HeartbeatIntervalMS int64 `json:"heartbeatIntervalMs"`

	Logging LoggingConfig `json:"logging"`
}

// PollInterval returns the configured poll interval as a duration.
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// HeartbeatInterval returns the configured heartbeat interval as a
// duration.
func (c *WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// WorkerConfigLoader is the HJSON loader for WorkerConfig, trying
// csm-worker.hjson then csm-worker.json in the current directory.
var WorkerConfigLoader = NewLoader[WorkerConfig](
	[]string{"csm-worker.hjson", "csm-worker.json"},
	applyWorkerDefaults,
)

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.StateFile == "" {
		cfg.StateFile = "csm-worker-state.json"
	}
	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = 10_000
	}
	if cfg.HeartbeatIntervalMS == 0 {
		cfg.HeartbeatIntervalMS = 30_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
