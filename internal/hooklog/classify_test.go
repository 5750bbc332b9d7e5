package hooklog

import (
	"testing"

	"termwatch/internal/monitor"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		line   string
		kind   string
		judge  string
		source string
	}{
		{"claude stop", ToolClaude, `{"hook_event_name":"Stop","session_id":"abc"}`, monitor.KindCompleted, monitor.JudgeSuccess, "abc"},
		{"claude permission", ToolClaude, `{"hook_event_name":"PermissionRequest"}`, monitor.KindNeedInput, "", ""},
		{"claude notification", ToolClaude, `{"hook_event_name":"Notification","sessionId":"x1"}`, monitor.KindNeedInput, "", "x1"},
		{"opencode idle", ToolOpenCode, `{"type":"session.idle"}`, monitor.KindCompleted, monitor.JudgeSuccess, ""},
		{"opencode error", ToolOpenCode, `{"type":"session.error"}`, monitor.KindError, monitor.JudgeFailure, ""},
		{"opencode permission", ToolOpenCode, `{"type":"permission.updated"}`, monitor.KindNeedInput, "", ""},
		{"opencode replied", ToolOpenCode, `{"type":"permission.replied"}`, monitor.KindNeedInput, "", ""},
		{"codex turn", ToolCodex, `{"type":"agent-turn-complete","thread-id":"t-1"}`, monitor.KindCompleted, monitor.JudgeSuccess, "t-1"},
		{"codex turn.completed", ToolCodex, `{"type":"turn.completed"}`, monitor.KindCompleted, monitor.JudgeSuccess, ""},
		{"codex status", ToolCodex, `{"type":"x","status":"Completed"}`, monitor.KindCompleted, monitor.JudgeSuccess, ""},
		{"codex error", ToolCodex, `{"type":"turn.failed"}`, monitor.KindError, monitor.JudgeFailure, ""},
		{"codex status error", ToolCodex, `{"status":"error"}`, monitor.KindError, monitor.JudgeFailure, ""},
		{"codex approval", ToolCodex, `{"type":"approval-request"}`, monitor.KindNeedInput, "", ""},
		{"codex waiting", ToolCodex, `{"status":"waiting_for_user"}`, monitor.KindNeedInput, "", ""},
		{"codex input", ToolCodex, `{"type":"need-input"}`, monitor.KindNeedInput, "", ""},
		{"envelope", ToolCodex, `{"source":"codex","termwatch_session_id":"s-9","event":{"type":"agent-turn-complete","thread_id":"t"}}`, monitor.KindCompleted, monitor.JudgeSuccess, "s-9"},
		{"event id wins", ToolClaude, `{"session_id":"outer","event":{"hook_event_name":"Stop","session_id":"inner"}}`, monitor.KindCompleted, monitor.JudgeSuccess, "inner"},
		{"env var key", ToolClaude, `{"hook_event_name":"Stop","TERMWATCH_SESSION_ID":"env"}`, monitor.KindCompleted, monitor.JudgeSuccess, "env"},
	}
	for _, tt := range tests {
		p, ok := ClassifyLine(tt.tool, []byte(tt.line))
		if !ok {
			t.Errorf("%s: not classified", tt.name)
			continue
		}
		if p.Kind != tt.kind || p.JudgeState != tt.judge || p.SourceSessionID != tt.source || p.Source != tt.tool {
			t.Errorf("%s: got %+v, want kind=%s judge=%s session=%s", tt.name, p, tt.kind, tt.judge, tt.source)
		}
	}
}

func TestClassifyLine_Ignored(t *testing.T) {
	tests := []struct {
		tool string
		line string
	}{
		{ToolClaude, `not json`},
		{ToolClaude, `{"hook_event_name":"PreToolUse"}`},
		{ToolClaude, `{"source":"codex","event":{"hook_event_name":"Stop"}}`},
		{ToolOpenCode, `{"type":"message.updated"}`},
		{ToolCodex, `{"type":"agent-message"}`},
		{ToolCodex, `{}`},
		{"vim", `{"type":"agent-turn-complete"}`},
	}
	for _, tt := range tests {
		if p, ok := ClassifyLine(tt.tool, []byte(tt.line)); ok {
			t.Errorf("ClassifyLine(%s, %s) = %+v, want ignored", tt.tool, tt.line, p)
		}
	}
}

func TestClassify_FeedsAgentObserver(t *testing.T) {
	p, ok := ClassifyLine(ToolOpenCode, []byte(`{"type":"session.error"}`))
	if !ok {
		t.Fatal("not classified")
	}
	obs := monitor.ObserveHook(p)
	if obs == nil || obs.State != monitor.StateFail || obs.Source != ToolOpenCode {
		t.Errorf("ObserveHook = %+v, want fail from opencode", obs)
	}
}

func TestKnownTool(t *testing.T) {
	for _, tool := range Tools {
		if !KnownTool(tool) {
			t.Errorf("KnownTool(%q) = false", tool)
		}
	}
	if KnownTool("emacs") {
		t.Error("KnownTool(emacs) = true")
	}
}
