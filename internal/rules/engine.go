// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rules implements the tool-approval rule engine: an ordered,
// first-match-wins list of {tool, pattern?, action} rules consulted before
// a can_use_tool request is ever shown to a human.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Action is the decision a rule (or the engine's default) returns.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
	Ask   Action = "ask"
)

// Rule is one entry of the ordered approval list.
type Rule struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
	Action  Action `json:"action"`
}

// Request is the subset of a can_use_tool control_request the engine
// needs to evaluate against the rule list.
type Request struct {
	ToolName string
	Input    map[string]interface{}
}

// primaryInputKeys maps a known tool name to the field of its input that
// carries the value rule patterns are matched against.
var primaryInputKeys = map[string]string{
	"Bash":  "command",
	"Read":  "file_path",
	"Write": "file_path",
	"Edit":  "file_path",
	"Grep":  "pattern",
	"Glob":  "pattern",
	"WebFetch": "url",
}

// fallbackKeys is the first-present search order for tools not listed in
// primaryInputKeys.
var fallbackKeys = []string{"command", "file_path", "path", "pattern"}

// primaryInput extracts the single string used for pattern matching from a
// tool-use input map.
func primaryInput(toolName string, input map[string]interface{}) (string, bool) {
	if key, ok := primaryInputKeys[toolName]; ok {
		if v, ok := input[key].(string); ok {
			return v, true
		}
		return "", false
	}
	for _, key := range fallbackKeys {
		if v, ok := input[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

// Engine evaluates can_use_tool requests against a live, swappable rule
// list. The rule list is read and replaced atomically so evaluate remains
// pure and deterministic per call (R3) even while a concurrent reload is
// in flight (see Loader in loader.go).
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine constructs an Engine with an initial rule list.
func NewEngine(initial []Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), initial...)}
}

// SetRules atomically replaces the rule list.
func (e *Engine) SetRules(rules []Rule) {
	next := append([]Rule(nil), rules...)
	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
}

// Rules returns a snapshot of the current rule list.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns allow|deny|ask for the given request by iterating the
// rule list in order and returning the first match's action. No match
// yields ask.
func (e *Engine) Evaluate(req Request) Action {
	rules := e.Rules()
	for _, rule := range rules {
		if rule.Tool != "*" && rule.Tool != req.ToolName {
			continue
		}
		if rule.Pattern == "" {
			return rule.Action
		}
		input, ok := primaryInput(req.ToolName, req.Input)
		if !ok {
			continue
		}
		re, err := compileGlob(rule.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(input) {
			return rule.Action
		}
	}
	return Ask
}

// DeriveRule builds a suggested rule from a concrete, already-decided
// request. Bash gets a first-word-anchored pattern; every other tool gets
// an unpatterned rule for the tool name alone.
func DeriveRule(toolName string, input map[string]interface{}, action Action) Rule {
	if toolName == "Bash" {
		if cmd, ok := input["command"].(string); ok {
			firstWord := cmd
			if idx := strings.IndexByte(cmd, ' '); idx >= 0 {
				firstWord = cmd[:idx]
			}
			return Rule{Tool: "Bash", Pattern: firstWord + " *", Action: action}
		}
	}
	return Rule{Tool: toolName, Action: action}
}

// globRegexCache avoids recompiling the same pattern on every evaluation.
// Entries are never evicted, so it holds every pattern compiled since
// process start, including those of rule lists since replaced.
var (
	globRegexCacheMu sync.RWMutex
	globRegexCache   = map[string]*regexp.Regexp{}
)

// compileGlob compiles a shell-style pattern (only "*" is special, matching
// any run of characters including "/") into an anchored, dotall regular
// expression. All other regex metacharacters in the pattern are escaped
// first, so "foo*bar" compiles to "^foo.*bar$".
func compileGlob(pattern string) (*regexp.Regexp, error) {
	globRegexCacheMu.RLock()
	if re, ok := globRegexCache[pattern]; ok {
		globRegexCacheMu.RUnlock()
		return re, nil
	}
	globRegexCacheMu.RUnlock()

	parts := strings.Split(pattern, "*")
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(escaped, ".*") + "$"
	re, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
	}

	globRegexCacheMu.Lock()
	globRegexCache[pattern] = re
	globRegexCacheMu.Unlock()
	return re, nil
}

// ParseRuleFile unmarshals a rules.json document into a rule list.
func ParseRuleFile(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return rules, nil
}
