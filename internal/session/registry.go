// Package session owns the PTY-backed processes of a worker, keyed by the
// session id the supervisor assigned.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"termwatch/internal/logger"
	"termwatch/internal/protocol"
	"termwatch/internal/session/ptyproc"
)

// Process is the registry's view of a child attached to a PTY.
type Process interface {
	Read(p []byte) (int, error)
	Write(p []byte, timeout time.Duration) (int, error)
	Resize(cols, rows int) error
	Done() <-chan struct{}
	ExitCode() int
	Terminate(grace time.Duration) error
	Close() error
}

// Spawner starts a process for a new session.
type Spawner func(opts ptyproc.Options) (Process, error)

// SpawnPTY is the default Spawner.
func SpawnPTY(opts ptyproc.Options) (Process, error) {
	p, err := ptyproc.Start(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Options configures a Registry. Zero values take defaults.
type Options struct {
	Spawn         Spawner
	WriteTimeout  time.Duration
	CoalesceDelay time.Duration
	CoalesceBytes int
	DrainGrace    time.Duration
	StopGrace     time.Duration
	Logger        *logger.Logger
}

func (o *Options) setDefaults() {
	if o.Spawn == nil {
		o.Spawn = SpawnPTY
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.CoalesceDelay <= 0 {
		o.CoalesceDelay = 8 * time.Millisecond
	}
	if o.CoalesceBytes <= 0 {
		o.CoalesceBytes = 32 * 1024
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 250 * time.Millisecond
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
}

type phase int32

const (
	phaseStarting phase = iota
	phaseAlive
	phaseStopped
	phaseExited
)

type entry struct {
	id string
	// mu serializes operations on this session.
	mu    sync.Mutex
	phase atomic.Int32
	proc  Process

	captureDone chan struct{}
}

func (e *entry) alive() bool { return phase(e.phase.Load()) == phaseAlive }

// Registry is the set of live sessions. Operations on one session id are
// serialized; different ids proceed independently.
type Registry struct {
	opts Options
	log  *logger.Logger
	emit func(protocol.Message)

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a Registry. emit receives output and exit messages
// from capture goroutines and must be safe for concurrent use.
func NewRegistry(emit func(protocol.Message), opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		opts:     opts,
		log:      opts.Logger,
		emit:     emit,
		sessions: make(map[string]*entry),
	}
}

// Start spawns the process for a new session and begins capturing its
// output. It fails with ErrDuplicateSession if the id is in use.
func (r *Registry) Start(req protocol.StartSession) error {
	r.mu.Lock()
	if _, exists := r.sessions[req.SessionID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSession, req.SessionID)
	}
	if err := checkGeometry(req.Cols, req.Rows); err != nil {
		r.mu.Unlock()
		return err
	}
	e := &entry{id: req.SessionID, captureDone: make(chan struct{})}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.sessions[req.SessionID] = e
	r.mu.Unlock()

	opts := ptyproc.Options{
		Command: req.Cmd,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	}
	if req.Cwd != nil {
		opts.Dir = *req.Cwd
	}
	proc, err := r.opts.Spawn(opts)
	if err != nil {
		r.remove(e)
		close(e.captureDone)
		return &ProcessError{SessionID: req.SessionID, Op: "spawn", Err: err}
	}

	e.proc = proc
	e.phase.Store(int32(phaseAlive))
	go r.capture(e)

	r.log.WithSession(req.SessionID).Info("session started",
		zap.String("cmd", req.Cmd), zap.Int("cols", req.Cols), zap.Int("rows", req.Rows))
	return nil
}

// SendInput writes text to the session's PTY unchanged.
func (r *Registry) SendInput(id, text string) error {
	e, err := r.acquire(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if _, err := e.proc.Write([]byte(text), r.opts.WriteTimeout); err != nil {
		if r.processGone(e) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		r.log.WithSession(id).Warn("pty write failed, stopping session", zap.Error(err))
		r.teardown(e)
		return &ProcessError{SessionID: id, Op: "write", Err: err}
	}
	return nil
}

// Resize changes the session's PTY geometry.
func (r *Registry) Resize(id string, cols, rows int) error {
	e, err := r.acquire(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := checkGeometry(cols, rows); err != nil {
		return err
	}
	if err := e.proc.Resize(cols, rows); err != nil {
		if r.processGone(e) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		r.teardown(e)
		return &ProcessError{SessionID: id, Op: "resize", Err: err}
	}
	return nil
}

// Stop terminates the session and returns once it has been removed. Its
// exit message is emitted before Stop returns.
func (r *Registry) Stop(id string) error {
	e, err := r.acquire(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := r.teardown(e); err != nil {
		return &ProcessError{SessionID: id, Op: "stop", Err: err}
	}
	r.log.WithSession(id).Info("session stopped")
	return nil
}

// StopAll stops every session. It is used when the control channel closes.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	for _, id := range r.IDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Stop(id); err != nil && !errors.Is(err, ErrUnknownSession) {
				r.log.WithSession(id).Warn("stop on shutdown failed", zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

// IDs returns the ids of all registered sessions in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// acquire looks up a live session and locks it.
func (r *Registry) acquire(id string) (*entry, error) {
	r.mu.Lock()
	e := r.sessions[id]
	r.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	e.mu.Lock()
	if !e.alive() {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return e, nil
}

func (r *Registry) processGone(e *entry) bool {
	select {
	case <-e.proc.Done():
		return true
	default:
		return !e.alive()
	}
}

// teardown terminates the process, waits for capture to emit the exit
// message, and removes the entry. e.mu must be held.
func (r *Registry) teardown(e *entry) error {
	e.phase.CompareAndSwap(int32(phaseAlive), int32(phaseStopped))
	err := e.proc.Terminate(r.opts.StopGrace)

	select {
	case <-e.captureDone:
	case <-time.After(r.opts.StopGrace + r.opts.DrainGrace):
		r.log.WithSession(e.id).Warn("capture did not finish after stop")
		_ = e.proc.Close()
	}
	r.remove(e)
	return err
}

// finish runs once per session when its process has exited and all output
// has been emitted.
func (r *Registry) finish(e *entry, code int) {
	e.phase.CompareAndSwap(int32(phaseAlive), int32(phaseExited))
	r.emit(protocol.Exit{SessionID: e.id, ExitCode: code})
	r.remove(e)
	r.log.WithSession(e.id).Info("session exited", zap.Int("exit_code", code))
}

func (r *Registry) emitOutput(id, text string) {
	r.emit(protocol.Output{SessionID: id, Stream: protocol.StreamStdout, Chunk: text})
}

func (r *Registry) remove(e *entry) {
	r.mu.Lock()
	if r.sessions[e.id] == e {
		delete(r.sessions, e.id)
	}
	r.mu.Unlock()
}
