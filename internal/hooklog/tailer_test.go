package hooklog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"termwatch/internal/logger"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(line))
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *lineSink) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := s.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d lines, got %q", n, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func runTailer(t *testing.T, tl *Tailer) {
	t.Helper()
	tl.SetLogger(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func appendRaw(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestTailer_WaitsForFileAndEmitsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codex.jsonl")
	sink := &lineSink{}
	runTailer(t, NewTailer(path, sink.add))

	time.Sleep(50 * time.Millisecond)
	appendRaw(t, path, "one\n")
	appendRaw(t, path, "two\r\n")

	got := sink.waitFor(t, 2)
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("lines = %q", got)
	}
}

func TestTailer_PartialLineHeldUntilNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude.jsonl")
	sink := &lineSink{}
	runTailer(t, NewTailer(path, sink.add))

	appendRaw(t, path, `{"hook_event_`)
	time.Sleep(300 * time.Millisecond)
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("partial line emitted: %q", got)
	}
	appendRaw(t, path, `name":"Stop"}`+"\n")
	got := sink.waitFor(t, 1)
	if got[0] != `{"hook_event_name":"Stop"}` {
		t.Errorf("line = %q", got[0])
	}
}

func TestTailer_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencode.jsonl")
	appendRaw(t, path, "first line that is long\n")
	sink := &lineSink{}
	runTailer(t, NewTailer(path, sink.add))
	sink.waitFor(t, 1)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	appendRaw(t, path, "after\n")

	got := sink.waitFor(t, 2)
	if got[1] != "after" {
		t.Errorf("lines = %q", got)
	}
}

func TestTailer_SkipExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codex.jsonl")
	appendRaw(t, path, "old\n")
	sink := &lineSink{}
	tl := NewTailer(path, sink.add)
	tl.SkipExisting = true
	runTailer(t, tl)

	time.Sleep(300 * time.Millisecond)
	appendRaw(t, path, "new\n")
	got := sink.waitFor(t, 1)
	time.Sleep(100 * time.Millisecond)
	if got = sink.snapshot(); len(got) != 1 || got[0] != "new" {
		t.Errorf("lines = %q, want only new", got)
	}
}

func TestTailer_AppendIntegration(t *testing.T) {
	dir := t.TempDir()
	sink := &lineSink{}
	runTailer(t, NewTailer(Path(dir, ToolClaude), sink.add))

	if err := Append(dir, ToolClaude, []byte(`{"hook_event_name":"Stop"}`)); err != nil {
		t.Fatal(err)
	}
	got := sink.waitFor(t, 1)
	if p, ok := ClassifyLine(ToolClaude, []byte(got[0])); !ok || p.JudgeState != "success" {
		t.Errorf("classified %+v ok=%v", p, ok)
	}
}
