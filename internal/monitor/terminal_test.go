package monitor

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func intPtr(n int) *int { return &n }

func active(tail string, idle time.Duration) Snapshot {
	return Snapshot{Now: t0.Add(idle), LastOutputAt: t0, Tail: tail, CommandActive: true}
}

func TestComputeState_ExitDominates(t *testing.T) {
	tails := []string{"", "Continue? [y/n]", "C:\\Users\\kitad> ", "running..."}
	for _, tail := range tails {
		for _, idle := range []time.Duration{0, time.Hour} {
			s := active(tail, idle)
			s.ExitCode = intPtr(0)
			if got := ComputeState(s); got.State != StateSuccess || got.Reason != "exit 0" {
				t.Errorf("exit 0, tail %q: got %+v", tail, got)
			}
			for _, code := range []int{1, -1, 130} {
				s.ExitCode = intPtr(code)
				s.CommandActive = false
				if got := ComputeState(s); got.State != StateFail {
					t.Errorf("exit %d, tail %q: got %+v", code, tail, got)
				}
			}
		}
	}
}

func TestComputeState_NeedInput(t *testing.T) {
	tails := []string{
		"Continue? [y/n]",
		"Overwrite file? (Y/N) ",
		"[sudo] Password: ",
		"Press ENTER to continue",
		"Are you sure you want to delete it",
		"Proceed y/n ",
		"\x1b[1mDelete branch?\x1b[0m \x1b[33m[y/N]\x1b[0m",
	}
	for _, tail := range tails {
		for _, idle := range []time.Duration{0, time.Minute} {
			for _, cmdActive := range []bool{true, false} {
				s := active(tail, idle)
				s.CommandActive = cmdActive
				if got := ComputeState(s); got.State != StateNeedInput {
					t.Errorf("tail %q idle %v active %v: got %+v", tail, idle, cmdActive, got)
				}
			}
		}
	}
}

func TestComputeState_NeverNeedInputForPlainOutput(t *testing.T) {
	for _, tail := range []string{"running...", "yyyy/nnnn", "compiled 3 files", "many/nothing"} {
		if got := ComputeState(active(tail, time.Hour)); got.State == StateNeedInput {
			t.Errorf("tail %q: got need-input", tail)
		}
	}
}

func TestComputeState_IdleWhenNoCommand(t *testing.T) {
	s := active("C:\\Users\\kitad> ", 0)
	s.CommandActive = false
	if got := ComputeState(s); got.State != StateIdle || got.Reason != "no active command" {
		t.Errorf("got %+v, want idle", got)
	}
}

func TestComputeState_ShellPrompt(t *testing.T) {
	tails := []string{
		"C:\\Users\\kitad> ",
		"dir listing\r\nC:\\Users\\kitad>",
		"\x1b[?25l\x1b[2J\x1b[HC:\\Users\\kitad>\x1b[K\x1b[?25h",
		"done\r\n\x1b]0;title\x07C:\\Users\\kitad>\x1b[6n\r\n  ",
		"PS C:\\src\\app> ",
		"ok\nuser@host:~/src$ ",
		"root@box:/# ",
		"[me@laptop tmp]$ ",
		"build ok\nbash-5.2$ ",
		"~ $",
	}
	for _, tail := range tails {
		got := ComputeState(active(tail, 5*time.Second))
		if got.State != StateSuccess || got.Reason != "shell prompt" {
			t.Errorf("tail %q: got %+v, want success/shell prompt", tail, got)
		}
	}
}

func TestComputeState_RunningOtherwise(t *testing.T) {
	tails := []string{
		"",
		"running...",
		"Compiling foo v0.1.0\n",
		"cost is $5 today",
		"see C:\\Users\\kitad> for details",
		"user@host:~/src$ make\nbuilding",
	}
	for _, tail := range tails {
		got := ComputeState(active(tail, time.Second))
		if got.State != StateRunning {
			t.Errorf("tail %q: got %+v, want running", tail, got)
		}
	}
}

func TestComputeState_IdleDuration(t *testing.T) {
	got := ComputeState(active("x", 1500*time.Millisecond))
	if got.Idle != 1500*time.Millisecond {
		t.Errorf("Idle = %v, want 1.5s", got.Idle)
	}

	s := active("x", 0)
	s.Now = t0.Add(-time.Second)
	if got := ComputeState(s); got.Idle != 0 {
		t.Errorf("Idle with clock skew = %v, want 0", got.Idle)
	}
}

func TestCleanTail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"a\r\nb\rc", "a\nb\nc"},
		{"tab\there\x07\x08", "tab\there"},
		{"\x1b]0;window title\x07prompt>", "prompt>"},
		{"bad\xffbyte", "bad\uFFFDbyte"},
	}
	for _, tt := range tests {
		if got := CleanTail(tt.in); got != tt.want {
			t.Errorf("CleanTail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTailForObservation(t *testing.T) {
	if got := TailForObservation("", 10); got != "" {
		t.Errorf("empty: got %q", got)
	}
	if got := TailForObservation("a\r\nb", 10); got != "a\nb" {
		t.Errorf("crlf: got %q", got)
	}
	if got := TailForObservation("abcdef", 3); got != "def" {
		t.Errorf("cut: got %q", got)
	}
	if got := TailForObservation("ああいいうう", 2); got != "うう" {
		t.Errorf("multibyte: got %q", got)
	}
	long := strings.Repeat("x", 1000) + "END"
	if got := TailForObservation(long, 0); len(got) != DefaultTailChars || !strings.HasSuffix(got, "END") {
		t.Errorf("default limit: len %d", len(got))
	}
}
