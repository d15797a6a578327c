// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

// MasterConfig is the root configuration for csm-master.
type MasterConfig struct {
	Server  MasterServerConfig `json:"server"`
	Rules   RulesConfig        `json:"rules"`
	Logging LoggingConfig      `json:"logging"`

	// AuthToken seeds the bearer token (internal/auth.TokenStore); empty
	// means one is generated on first GET /api/auth/setup.
	AuthToken string `json:"authToken,omitempty"`

	// Projects and Hosts are descriptive metadata surfaced verbatim
	// through GET/PATCH /api/config; the core never interprets them.
	Projects  []ProjectConfig `json:"projects"`
	Hosts     []HostConfig    `json:"hosts"`
	HasLinear bool            `json:"hasLinear"`
}

// MasterServerConfig configures the HTTP API server.
type MasterServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RulesConfig configures the tool-approval rule engine's backing file.
type RulesConfig struct {
	// File is the JSON rule file path watched for hot reload.
	File string `json:"file"`
}

// ProjectConfig describes one project whose worktrees may host sessions.
type ProjectConfig struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// HostConfig describes one remote worker host.
type HostConfig struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// LoggingConfig configures the ambient structured-logging output shared
// by both binaries.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MasterConfigLoader is the HJSON loader for MasterConfig, trying
// csm-master.hjson then csm-master.json in the current directory.
var MasterConfigLoader = NewLoader[MasterConfig](
	[]string{"csm-master.hjson", "csm-master.json"},
	applyMasterDefaults,
)

func applyMasterDefaults(cfg *MasterConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7600
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Rules.File == "" {
		cfg.Rules.File = "rules.json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
