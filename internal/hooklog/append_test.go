package hooklog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAppend_CompactsOneLine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hooks")
	payload := []byte("{\n  \"hook_event_name\": \"Stop\",\n  \"session_id\": \"a\"\n}\n")
	if err := Append(dir, ToolClaude, payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := os.ReadFile(Path(dir, ToolClaude))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"hook_event_name":"Stop","session_id":"a"}`+"\n"; got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestAppend_Rejects(t *testing.T) {
	dir := t.TempDir()
	if err := Append(dir, "vim", []byte(`{}`)); err == nil {
		t.Error("unknown tool accepted")
	}
	if err := Append(dir, ToolCodex, []byte(`{"broken"`)); err == nil {
		t.Error("invalid JSON accepted")
	}
	if _, err := os.Stat(Path(dir, ToolCodex)); !os.IsNotExist(err) {
		t.Error("log created for rejected payload")
	}
}

func TestAppend_ConcurrentWritersKeepLinesWhole(t *testing.T) {
	dir := t.TempDir()
	payload := []byte(`{"type":"agent-turn-complete","pad":"` + strings.Repeat("z", 2000) + `"}`)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := Append(dir, ToolCodex, payload); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(Path(dir, ToolCodex))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for _, line := range lines {
		if _, ok := ClassifyLine(ToolCodex, []byte(line)); !ok {
			t.Fatalf("corrupt line %q", line[:40])
		}
	}
}
