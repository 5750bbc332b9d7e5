// Package hooklog reads and writes the per-tool JSONL files that agent
// hook integrations append to, and maps each tool's native events onto
// monitor.HookPayload.
package hooklog

import (
	"encoding/json"
	"strings"

	"termwatch/internal/monitor"
)

// Supported tools.
const (
	ToolCodex    = "codex"
	ToolClaude   = "claude"
	ToolOpenCode = "opencode"
)

// Tools lists the tools Classify understands.
var Tools = []string{ToolCodex, ToolClaude, ToolOpenCode}

// SessionEnvVar is set in a session's environment so hook scripts can tag
// their events with the session they belong to.
const SessionEnvVar = "TERMWATCH_SESSION_ID"

var sessionIDKeys = []string{
	"source_session_id",
	"sourceSessionId",
	"termwatch_session_id",
	SessionEnvVar,
	"session_id",
	"sessionId",
}

var codexThreadKeys = []string{"thread-id", "thread_id", "threadId"}

// KnownTool reports whether tool is one Classify handles.
func KnownTool(tool string) bool {
	for _, t := range Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// ClassifyLine parses one JSONL line and classifies it.
func ClassifyLine(tool string, line []byte) (*monitor.HookPayload, bool) {
	var value map[string]any
	if err := json.Unmarshal(line, &value); err != nil {
		return nil, false
	}
	return Classify(tool, value)
}

// Classify maps a tool-native hook record to a HookPayload. Records may be
// wrapped as {"event": {...}, "source": ...}; a wrapper naming a different
// tool is ignored. It returns false for records that carry no state.
func Classify(tool string, record map[string]any) (*monitor.HookPayload, bool) {
	event := record
	if inner, ok := record["event"].(map[string]any); ok {
		event = inner
	}
	if src, ok := record["source"].(string); ok && src != tool {
		return nil, false
	}

	var kind string
	switch tool {
	case ToolCodex:
		kind = codexKind(event)
	case ToolClaude:
		switch str(event, "hook_event_name") {
		case "Stop":
			kind = monitor.KindCompleted
		case "PermissionRequest", "Notification":
			kind = monitor.KindNeedInput
		}
	case ToolOpenCode:
		switch str(event, "type") {
		case "session.idle":
			kind = monitor.KindCompleted
		case "session.error":
			kind = monitor.KindError
		case "permission.updated", "permission.replied":
			kind = monitor.KindNeedInput
		}
	}
	if kind == "" {
		return nil, false
	}

	p := &monitor.HookPayload{Kind: kind, Source: tool}
	switch kind {
	case monitor.KindCompleted:
		p.JudgeState = monitor.JudgeSuccess
	case monitor.KindError:
		p.JudgeState = monitor.JudgeFailure
	}

	p.SourceSessionID = firstString([]map[string]any{event, record}, sessionIDKeys)
	if p.SourceSessionID == "" && tool == ToolCodex {
		p.SourceSessionID = firstString([]map[string]any{event}, codexThreadKeys)
	}
	return p, true
}

func codexKind(event map[string]any) string {
	typ := strings.ToLower(str(event, "type"))
	status := strings.ToLower(str(event, "status"))
	switch {
	case typ == "agent-turn-complete" || typ == "turn.completed" || strings.Contains(status, "complete"):
		return monitor.KindCompleted
	case strings.Contains(typ, "error") || strings.Contains(typ, "fail") || strings.Contains(status, "error"):
		return monitor.KindError
	case strings.Contains(typ, "input") || strings.Contains(typ, "permission") ||
		strings.Contains(typ, "request") || strings.Contains(status, "waiting"):
		return monitor.KindNeedInput
	}
	return ""
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(objs []map[string]any, keys []string) string {
	for _, obj := range objs {
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
