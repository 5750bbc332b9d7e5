package hooklog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Path returns the log file for tool under dir.
func Path(dir, tool string) string {
	return filepath.Join(dir, tool+".jsonl")
}

// Append writes payload as one line of tool's hook log. The payload must be
// a JSON value; it is compacted onto a single line. Concurrent writers from
// other processes are serialized with a lock file next to the log.
func Append(dir, tool string, payload []byte) error {
	if !KnownTool(tool) {
		return fmt.Errorf("unknown tool %q", tool)
	}
	var line bytes.Buffer
	if err := json.Compact(&line, bytes.TrimSpace(payload)); err != nil {
		return fmt.Errorf("hook payload is not JSON: %w", err)
	}
	line.WriteByte('\n')

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}
	path := Path(dir, tool)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(line.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}
