// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the master's and worker's HJSON configuration
// files into typed structs, with defaults applied after an
// HJSON→JSON→struct round-trip.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"
)

// Loader reads one config file format (HJSON, falling back to plain
// JSON) into a typed T, then applies defaults.
type Loader[T any] struct {
	// candidates are file names tried in order by FindConfig, e.g.
	// {"csm-master.hjson", "csm-master.json"}.
	candidates    []string
	applyDefaults func(*T)
}

// NewLoader constructs a Loader for one config shape. applyDefaults may
// be nil if the shape has no defaults to fill.
func NewLoader[T any](candidates []string, applyDefaults func(*T)) *Loader[T] {
	return &Loader[T]{candidates: candidates, applyDefaults: applyDefaults}
}

// FindConfig searches the current directory for the first candidate file
// name that exists, returning its absolute path.
func (l *Loader[T]) FindConfig() (string, error) {
	for _, name := range l.candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for %v)", l.candidates)
}

// Load reads and parses path as HJSON (plain JSON is valid HJSON) into a
// fresh T.
func (l *Loader[T]) Load(path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg T
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads path and fills zero-valued fields via the
// loader's applyDefaults function.
func (l *Loader[T]) LoadWithDefaults(path string) (*T, error) {
	cfg, err := l.Load(path)
	if err != nil {
		return nil, err
	}
	if l.applyDefaults != nil {
		l.applyDefaults(cfg)
	}
	return cfg, nil
}

// DumpYAML serializes the fully resolved config back out as YAML, for the
// `--dump-config=yaml` diagnostic flag on both binaries — the same
// struct, a second tag set, no new parsing path.
func DumpYAML(cfg interface{}) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config as yaml: %w", err)
	}
	return string(out), nil
}

// WriteAtomic persists cfg back to path as JSON, write-temp-then-rename —
// the same durability idiom as the worker state store.
func WriteAtomic(path string, cfg interface{}) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp config file: %w", err)
	}
	return nil
}
