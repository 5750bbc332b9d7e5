package hooklog

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"termwatch/internal/logger"
)

const defaultPollInterval = 200 * time.Millisecond

// Tailer follows a JSONL file and calls OnLine for each complete line. It
// waits for the file to appear, survives truncation, and holds partial
// lines until their newline arrives. File change notifications wake it
// early; a poll interval covers filesystems that do not deliver them.
type Tailer struct {
	path         string
	onLine       func(line []byte)
	pollInterval time.Duration
	// SkipExisting starts at the current end of the file instead of its
	// beginning.
	SkipExisting bool
	log          *logger.Logger
}

// NewTailer creates a Tailer for path.
func NewTailer(path string, onLine func(line []byte)) *Tailer {
	return &Tailer{
		path:         path,
		onLine:       onLine,
		pollInterval: defaultPollInterval,
		log:          logger.Default(),
	}
}

// SetLogger replaces the default logger.
func (t *Tailer) SetLogger(l *logger.Logger) { t.log = l }

// Run tails until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) {
	if t.onLine == nil {
		return
	}

	wake := make(chan struct{}, 1)
	if w, err := fsnotify.NewWatcher(); err != nil {
		t.log.Debug("fsnotify unavailable, polling only", zap.Error(err))
	} else {
		defer w.Close()
		// Watch the directory so creation and replacement are seen too.
		if err := w.Add(filepath.Dir(t.path)); err != nil {
			t.log.Debug("watch hooks dir failed, polling only", zap.String("path", t.path), zap.Error(err))
		}
		go t.forwardEvents(ctx, w, wake)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	st := &tailState{skipExisting: t.SkipExisting}
	defer st.close()
	for {
		t.poll(st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (t *Tailer) forwardEvents(ctx context.Context, w *fsnotify.Watcher, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			t.log.Debug("fsnotify error", zap.Error(err))
		}
	}
}

type tailState struct {
	f            *os.File
	r            *bufio.Reader
	offset       int64
	partial      []byte
	skipExisting bool
}

func (s *tailState) close() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}

// poll reads every complete line currently in the file.
func (t *Tailer) poll(s *tailState) {
	if s.f == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return
		}
		s.f = f
		s.r = bufio.NewReader(f)
		s.offset = 0
		if s.skipExisting {
			if end, err := f.Seek(0, io.SeekEnd); err == nil {
				s.offset = end
			}
			s.skipExisting = false
		}
	}

	info, err := os.Stat(t.path)
	if err != nil {
		// Removed or renamed away: reopen once it comes back.
		s.close()
		s.partial = nil
		return
	}
	if cur, err := s.f.Stat(); err != nil || !os.SameFile(cur, info) {
		// Replaced by a new file: start over on the next poll.
		s.close()
		s.partial = nil
		return
	}
	if info.Size() < s.offset {
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			s.close()
			return
		}
		s.r.Reset(s.f)
		s.offset = 0
		s.partial = nil
	}

	for {
		line, err := s.r.ReadBytes('\n')
		s.offset += int64(len(line))
		if err != nil {
			s.partial = append(s.partial, line...)
			if !errors.Is(err, io.EOF) {
				t.log.Debug("read hook log", zap.String("path", t.path), zap.Error(err))
			}
			return
		}
		if len(s.partial) > 0 {
			line = append(s.partial, line...)
			s.partial = nil
		}
		line = trimEOL(line)
		if len(line) > 0 {
			t.onLine(line)
		}
	}
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
