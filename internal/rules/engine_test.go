// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_FirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		{Tool: "Bash", Pattern: "ls *", Action: Allow},
		{Tool: "Bash", Action: Deny},
	})
	got := e.Evaluate(Request{ToolName: "Bash", Input: map[string]interface{}{"command": "ls -la"}})
	assert.Equal(t, Allow, got)
}

func TestEvaluate_NoMatchAsks(t *testing.T) {
	e := NewEngine(nil)
	got := e.Evaluate(Request{ToolName: "Bash", Input: map[string]interface{}{"command": "rm -rf /"}})
	assert.Equal(t, Ask, got)
}

func TestEvaluate_WildcardTool(t *testing.T) {
	e := NewEngine([]Rule{{Tool: "*", Action: Deny}})
	assert.Equal(t, Deny, e.Evaluate(Request{ToolName: "WebFetch"}))
}

func TestEvaluate_UnknownToolFallsBackToFirstPresentKey(t *testing.T) {
	e := NewEngine([]Rule{{Tool: "CustomTool", Pattern: "/etc/*", Action: Deny}})
	got := e.Evaluate(Request{ToolName: "CustomTool", Input: map[string]interface{}{"path": "/etc/passwd"}})
	assert.Equal(t, Deny, got)
}

func TestEvaluate_PatternAbsentMeansMatchAny(t *testing.T) {
	e := NewEngine([]Rule{{Tool: "Read", Action: Allow}})
	got := e.Evaluate(Request{ToolName: "Read", Input: map[string]interface{}{"file_path": "/anything"}})
	assert.Equal(t, Allow, got)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEngine([]Rule{{Tool: "Bash", Pattern: "git *", Action: Allow}})
	req := Request{ToolName: "Bash", Input: map[string]interface{}{"command": "git status"}}
	first := e.Evaluate(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(req))
	}
}

// R4: globToRegex("a*b") matches s iff s starts with "a", ends with "b",
// and len(s) >= 2.
func TestCompileGlob_R4(t *testing.T) {
	re, err := compileGlob("a*b")
	assert.NoError(t, err)

	cases := []string{"ab", "axxxb", "a", "b", "ba", "abc", "aXb", ""}
	for _, s := range cases {
		want := len(s) >= 2 && s[0] == 'a' && s[len(s)-1] == 'b'
		assert.Equalf(t, want, re.MatchString(s), "input %q", s)
	}
}

func TestCompileGlob_EscapesRegexMetacharacters(t *testing.T) {
	re, err := compileGlob("file.txt")
	assert.NoError(t, err)
	assert.True(t, re.MatchString("file.txt"))
	assert.False(t, re.MatchString("fileXtxt"))
}

func TestCompileGlob_DotallAndSlash(t *testing.T) {
	re, err := compileGlob("/home/*/project")
	assert.NoError(t, err)
	assert.True(t, re.MatchString("/home/a/b/c/project"))
	assert.True(t, re.MatchString("/home/\n/project"))
}

func TestDeriveRule_Bash(t *testing.T) {
	rule := DeriveRule("Bash", map[string]interface{}{"command": "ls -la /tmp"}, Allow)
	assert.Equal(t, Rule{Tool: "Bash", Pattern: "ls *", Action: Allow}, rule)
}

func TestDeriveRule_OtherTool(t *testing.T) {
	rule := DeriveRule("WebFetch", map[string]interface{}{"url": "https://example.com"}, Deny)
	assert.Equal(t, Rule{Tool: "WebFetch", Action: Deny}, rule)
}

// S1: Tool auto-allow scenario.
func TestScenario_S1_ToolAutoAllow(t *testing.T) {
	e := NewEngine([]Rule{{Tool: "Bash", Pattern: "ls *", Action: Allow}})
	got := e.Evaluate(Request{ToolName: "Bash", Input: map[string]interface{}{"command": "ls -la"}})
	assert.Equal(t, Allow, got)
}

// S2: no rules configured, everything asks.
func TestScenario_S2_NoRulesAsksHuman(t *testing.T) {
	e := NewEngine(nil)
	got := e.Evaluate(Request{ToolName: "Bash", Input: map[string]interface{}{"command": "ls -la"}})
	assert.Equal(t, Ask, got)
}
