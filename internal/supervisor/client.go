// Package supervisor drives a worker process: it starts sessions, forwards
// input and resizes, and turns the output and hook events it receives into
// per-session states on a polling cadence.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"termwatch/internal/logger"
	"termwatch/internal/protocol"
)

// WorkerCommand is the hidden subcommand that runs the worker control loop.
const WorkerCommand = "_worker"

// ErrWorkerGone is returned once the worker's output stream has closed.
var ErrWorkerGone = errors.New("worker exited")

// WorkerOptions configures StartWorker.
type WorkerOptions struct {
	// Path is the worker binary. Empty means this executable.
	Path string
	// Args replaces the default arguments ("_worker").
	Args []string
	// Env is appended to this process's environment.
	Env    []string
	Logger *logger.Logger
}

// WorkerClient is the supervisor's end of the line protocol. Messages from
// the worker arrive on Messages; error messages are also offered to anyone
// waiting on the session they name.
type WorkerClient struct {
	w     *protocol.Writer
	stdin io.Closer
	cmd   *exec.Cmd
	log   *logger.Logger

	msgs chan protocol.Message
	done chan struct{}

	mu      sync.Mutex
	waiters map[string][]chan protocol.Error

	closeOnce sync.Once
	closeErr  error
}

// StartWorker launches a worker process and connects to its stdin and
// stdout. The worker's stderr is inherited so its logs stay visible.
func StartWorker(opts WorkerOptions) (*WorkerClient, error) {
	path := opts.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("find executable: %w", err)
		}
		path = exe
	}
	args := opts.Args
	if args == nil {
		args = []string{WorkerCommand}
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	c := NewWorkerClient(stdout, stdin, opts.Logger)
	c.cmd = cmd
	c.log.Debug("worker started", zap.String("path", path), zap.Int("pid", cmd.Process.Pid))
	return c, nil
}

// NewWorkerClient speaks the protocol over an existing pair of streams:
// messages are read from r and written to w. Closing the client closes w.
func NewWorkerClient(r io.Reader, w io.WriteCloser, log *logger.Logger) *WorkerClient {
	if log == nil {
		log = logger.Default()
	}
	c := &WorkerClient{
		w:       protocol.NewWriter(w),
		stdin:   w,
		log:     log,
		msgs:    make(chan protocol.Message, 256),
		done:    make(chan struct{}),
		waiters: make(map[string][]chan protocol.Error),
	}
	go c.readLoop(protocol.NewReader(r))
	return c
}

// Send writes one message to the worker.
func (c *WorkerClient) Send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrWorkerGone
	default:
	}
	return c.w.Write(m)
}

// Messages delivers every message the worker sends, in order. It is closed
// when the worker's output ends.
func (c *WorkerClient) Messages() <-chan protocol.Message { return c.msgs }

// Done is closed when the worker's output ends.
func (c *WorkerClient) Done() <-chan struct{} { return c.done }

// AwaitError registers interest in the next error reported for sessionID.
// The returned func unregisters; call it once done waiting.
func (c *WorkerClient) AwaitError(sessionID string) (<-chan protocol.Error, func()) {
	ch := make(chan protocol.Error, 1)
	c.mu.Lock()
	c.waiters[sessionID] = append(c.waiters[sessionID], ch)
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.waiters[sessionID]
		for i, w := range list {
			if w == ch {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.waiters, sessionID)
		} else {
			c.waiters[sessionID] = list
		}
	}
}

// Close ends the worker's input, which makes it stop every session and
// exit. A worker that has not closed its output within a few seconds is
// killed. Messages must keep being drained while Close runs.
func (c *WorkerClient) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stdin.Close()
		if c.cmd == nil {
			return
		}
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			c.log.Warn("worker did not exit, killing", zap.Int("pid", c.cmd.Process.Pid))
			_ = c.cmd.Process.Kill()
		}
		if err := c.cmd.Wait(); err != nil && c.closeErr == nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func (c *WorkerClient) readLoop(r *protocol.Reader) {
	defer close(c.msgs)
	defer close(c.done)
	for {
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn("worker stream read failed", zap.Error(err))
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := protocol.Decode(line)
		switch m := m.(type) {
		case protocol.Unknown:
			c.log.Warn("unrecognized worker message", zap.String("line", line))
			continue
		case protocol.Error:
			c.offerError(m)
		}
		c.msgs <- m
	}
}

func (c *WorkerClient) offerError(e protocol.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}
