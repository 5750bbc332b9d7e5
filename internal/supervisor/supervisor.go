package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"termwatch/internal/hooklog"
	"termwatch/internal/logger"
	"termwatch/internal/monitor"
	"termwatch/internal/protocol"
)

// Options configures a Supervisor. Zero values take defaults.
type Options struct {
	StartAttempts   int
	StartRetryDelay time.Duration
	PollInterval    time.Duration
	TailChars       int
	Logger          *logger.Logger

	OnOutput    func(sessionID, chunk string)
	OnExit      func(sessionID string, code int)
	OnError     func(e protocol.Error)
	OnChange    func(e Evaluation)
	OnAggregate func(s monitor.State)
}

// StartRequest describes a session to start. The supervisor assigns the id.
type StartRequest struct {
	Cmd        string
	Cwd        string
	Env        map[string]string
	Cols, Rows int
}

// Supervisor owns one worker connection and the state of its sessions.
type Supervisor struct {
	client  *WorkerClient
	tracker *Tracker
	eval    *Evaluator
	opts    Options
	log     *logger.Logger
	now     func() time.Time
}

// New wraps client. Run must be called to consume the worker's messages.
func New(client *WorkerClient, opts Options) *Supervisor {
	if opts.StartAttempts < 1 {
		opts.StartAttempts = 5
	}
	if opts.StartRetryDelay <= 0 {
		opts.StartRetryDelay = 300 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	tracker := NewTracker(opts.TailChars)
	eval := NewEvaluator(tracker, opts.PollInterval, opts.Logger)
	eval.OnChange = opts.OnChange
	eval.OnAggregate = opts.OnAggregate
	return &Supervisor{
		client:  client,
		tracker: tracker,
		eval:    eval,
		opts:    opts,
		log:     opts.Logger,
		now:     time.Now,
	}
}

// Tracker exposes the per-session state.
func (s *Supervisor) Tracker() *Tracker { return s.tracker }

// Evaluator exposes the state evaluator, e.g. to force a Tick.
func (s *Supervisor) Evaluator() *Evaluator { return s.eval }

// Start starts a session and returns its id. The session's environment
// carries its id so hook integrations running inside it can tag events.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (string, error) {
	id := NewSessionID()
	env := map[string]string{hooklog.SessionEnvVar: id}
	for k, v := range req.Env {
		env[k] = v
	}
	msg := protocol.StartSession{
		SessionID: id,
		Cmd:       req.Cmd,
		Env:       env,
		Cols:      req.Cols,
		Rows:      req.Rows,
	}
	if req.Cwd != "" {
		cwd := req.Cwd
		msg.Cwd = &cwd
	}

	s.tracker.Add(id)
	if err := StartWithRetry(ctx, s.client, msg, s.opts.StartAttempts, s.opts.StartRetryDelay); err != nil {
		s.tracker.Remove(id)
		return "", err
	}
	s.log.Info("session started", zap.String("session_id", id), zap.String("cmd", req.Cmd))
	return id, nil
}

// SendInput forwards text to a session verbatim.
func (s *Supervisor) SendInput(id, text string) error {
	s.tracker.Input(id, text, s.now())
	return s.client.Send(protocol.SendInput{SessionID: id, Text: text})
}

// Resize changes a session's terminal geometry.
func (s *Supervisor) Resize(id string, cols, rows int) error {
	return s.client.Send(protocol.Resize{SessionID: id, Cols: cols, Rows: rows})
}

// Stop asks the worker to terminate a session. Its exit arrives through Run.
func (s *Supervisor) Stop(id string) error {
	return s.client.Send(protocol.StopSession{SessionID: id})
}

// DeliverHook routes a hook payload to the session it names, or to every
// live session. It returns the ids that received it.
func (s *Supervisor) DeliverHook(p *monitor.HookPayload) []string {
	ids := s.tracker.Hook(p)
	if len(ids) == 0 {
		s.log.Debug("hook payload matched no session", zap.String("kind", p.Kind), zap.String("source", p.Source))
	}
	return ids
}

// Run consumes worker messages and evaluates session states until ctx is
// cancelled or the worker goes away, in which case it returns ErrWorkerGone.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pump(gctx)
	})
	g.Go(func() error {
		return s.eval.Run(gctx)
	})
	return g.Wait()
}

func (s *Supervisor) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-s.client.Messages():
			if !ok {
				return ErrWorkerGone
			}
			s.handle(m)
		}
	}
}

func (s *Supervisor) handle(m protocol.Message) {
	switch m := m.(type) {
	case protocol.Output:
		s.tracker.Output(m.SessionID, m.Chunk, s.now())
		if s.opts.OnOutput != nil {
			s.opts.OnOutput(m.SessionID, m.Chunk)
		}
	case protocol.Exit:
		s.tracker.Exit(m.SessionID, m.ExitCode)
		s.log.Info("session exited", zap.String("session_id", m.SessionID), zap.Int("exit_code", m.ExitCode))
		if s.opts.OnExit != nil {
			s.opts.OnExit(m.SessionID, m.ExitCode)
		}
	case protocol.Error:
		s.log.Warn("worker error",
			zap.String("session_id", m.SessionID),
			zap.String("message", m.Message),
			zap.Bool("recoverable", m.Recoverable))
		if s.opts.OnError != nil {
			s.opts.OnError(m)
		}
	default:
		s.log.Warn("unexpected message from worker", zap.String("type", m.Type()))
	}
}
