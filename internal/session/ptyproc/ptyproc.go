// Package ptyproc runs a child process attached to a pseudo-terminal.
package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
)

// ExitCodeUnknown is reported when the platform gives no exit status, for
// example when the child was killed by a signal.
const ExitCodeUnknown = -1

// ErrWriteTimeout is returned by Write when the PTY does not accept the
// bytes in time.
var ErrWriteTimeout = errors.New("pty write timed out")

// ErrEmptyCommand is returned by Start when the command line has no words.
var ErrEmptyCommand = errors.New("empty command")

// Options describes the process to start.
type Options struct {
	Command string
	Dir     string
	Env     map[string]string
	Cols    int
	Rows    int
}

// Process is a running child and the master side of its PTY.
type Process struct {
	ptm *os.File
	cmd *exec.Cmd

	done     chan struct{}
	exitCode int

	closeOnce sync.Once
}

// Start splits opts.Command into argv and starts it on a new PTY with the
// requested geometry.
func Start(opts Options) (*Process, error) {
	argv, err := SplitCommand(opts.Command)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = MergeEnv(os.Environ(), opts.Env)
	}

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(opts.Rows),
		Cols: uint16(opts.Cols),
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	p := &Process{ptm: ptm, cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	_ = p.cmd.Wait()
	p.exitCode = ExitCodeUnknown
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	close(p.done)
}

// SplitCommand splits a command line with shell quoting rules. Malformed
// quoting falls back to splitting on whitespace.
func SplitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		argv = strings.Fields(command)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// MergeEnv returns base with the keys in overrides replaced or added.
func MergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if idx := strings.Index(e, "="); idx >= 0 {
			key = e[:idx]
		}
		if _, override := overrides[key]; !override {
			env = append(env, e)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Read reads child output from the PTY. On Linux a read after the child
// exits fails with EIO rather than io.EOF; callers should treat any error
// as end of output.
func (p *Process) Read(b []byte) (int, error) {
	return p.ptm.Read(b)
}

// Write writes b to the child's input, giving up after timeout.
func (p *Process) Write(b []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := p.ptm.Write(b)
		ch <- result{n, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

// Resize sets the PTY window size.
func (p *Process) Resize(cols, rows int) error {
	return pty.Setsize(p.ptm, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the child's exit status. Only valid after Done is closed.
func (p *Process) ExitCode() int { return p.exitCode }

// Terminate sends SIGHUP, then kills the child if it has not exited within
// grace. It returns once the child has been reaped or a further grace
// period has passed.
func (p *Process) Terminate(grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGHUP)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d did not exit after kill", p.Pid())
	}
}

// Close releases the PTY master. Pending reads return an error.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.ptm.Close()
	})
	return err
}
