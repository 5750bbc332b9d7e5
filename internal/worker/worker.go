// Package worker runs the control loop of a worker process: it reads
// supervisor commands one line at a time, applies them to a session
// registry, and is the only writer of messages back to the supervisor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"termwatch/internal/logger"
	"termwatch/internal/protocol"
	"termwatch/internal/session"
)

// Options configures Run.
type Options struct {
	Session session.Options
	// QueueSize bounds the outbound message queue.
	QueueSize int
	Logger    *logger.Logger
}

// maxEchoedLine caps how much of an unrecognized line is quoted back.
const maxEchoedLine = 200

// Run serves one supervisor over in and out until in reaches EOF or ctx is
// cancelled. All sessions are stopped before Run returns, and their exit
// messages are flushed to out. A clean EOF returns nil.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = log
	}

	box := newOutbox(opts.QueueSize)
	reg := session.NewRegistry(box.send, opts.Session)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeLoop(box, protocol.NewWriter(out), log)
	})
	g.Go(func() error {
		defer box.close()
		err := readLoop(gctx, protocol.NewReader(in), reg, box, log)
		reg.StopAll()
		return err
	})
	return g.Wait()
}

func readLoop(ctx context.Context, r *protocol.Reader, reg *session.Registry, box *outbox, log *logger.Logger) error {
	type lineOrErr struct {
		line string
		err  error
	}
	lines := make(chan lineOrErr)
	go func() {
		for {
			line, err := r.ReadLine()
			select {
			case lines <- lineOrErr{line, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("control loop cancelled")
			return nil
		case <-box.failed:
			return errors.New("control loop stopped: supervisor channel is not writable")
		case l := <-lines:
			if l.err != nil {
				if errors.Is(l.err, io.EOF) {
					log.Info("control channel closed")
					return nil
				}
				return fmt.Errorf("read control channel: %w", l.err)
			}
			if strings.TrimSpace(l.line) == "" {
				continue
			}
			dispatch(reg, box, protocol.Decode(l.line), l.line, log)
		}
	}
}

// dispatch applies one message. Failures are reported to the supervisor
// as error messages and never stop the loop.
func dispatch(reg *session.Registry, box *outbox, m protocol.Message, line string, log *logger.Logger) {
	var id string
	var err error
	switch msg := m.(type) {
	case protocol.StartSession:
		id, err = msg.SessionID, reg.Start(msg)
	case protocol.SendInput:
		id, err = msg.SessionID, reg.SendInput(msg.SessionID, msg.Text)
	case protocol.Resize:
		id, err = msg.SessionID, reg.Resize(msg.SessionID, msg.Cols, msg.Rows)
	case protocol.StopSession:
		id, err = msg.SessionID, reg.Stop(msg.SessionID)
	case protocol.Unknown:
		log.Warn("unrecognized message", zap.String("line", truncate(line, maxEchoedLine)))
		box.send(protocol.Error{
			SessionID:   unknownSessionID(msg),
			Message:     "unrecognized message: " + truncate(line, maxEchoedLine),
			Recoverable: true,
		})
		return
	default:
		log.Warn("unexpected message direction", zap.String("type", m.Type()))
		box.send(protocol.Error{
			SessionID:   sessionIDOf(m),
			Message:     "unexpected message type: " + m.Type(),
			Recoverable: true,
		})
		return
	}
	if err == nil {
		return
	}

	recoverable := session.Recoverable(err)
	if !recoverable {
		log.WithSession(id).Error("session failed", zap.Error(err))
	}
	box.send(protocol.Error{SessionID: id, Message: err.Error(), Recoverable: recoverable})
}

// writeLoop encodes queued messages and flushes whenever the queue drains.
// After a write failure it keeps draining so senders never block.
func writeLoop(box *outbox, w *protocol.Writer, log *logger.Logger) error {
	var writeErr error
	for m := range box.ch {
		if writeErr != nil {
			continue
		}
		writeErr = bufferAndMaybeFlush(box, w, m)
		if writeErr != nil {
			log.Error("write to supervisor failed", zap.Error(writeErr))
			box.fail()
		}
	}
	if writeErr != nil {
		return fmt.Errorf("write control channel: %w", writeErr)
	}
	return w.Flush()
}

func bufferAndMaybeFlush(box *outbox, w *protocol.Writer, m protocol.Message) error {
	if err := w.Buffer(m); err != nil {
		if errors.Is(err, protocol.ErrInvalidMessage) {
			return nil
		}
		return err
	}
	if len(box.ch) == 0 {
		return w.Flush()
	}
	return nil
}

// outbox is the queue in front of the single writer. send after close is a
// no-op, so late capture goroutines cannot panic.
type outbox struct {
	mu     sync.RWMutex
	closed bool
	ch     chan protocol.Message
	failed chan struct{}
	once   sync.Once
}

func newOutbox(size int) *outbox {
	return &outbox{ch: make(chan protocol.Message, size), failed: make(chan struct{})}
}

func (o *outbox) send(m protocol.Message) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- m:
	case <-o.failed:
	}
}

func (o *outbox) fail() {
	o.once.Do(func() { close(o.failed) })
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

func unknownSessionID(u protocol.Unknown) string {
	if obj, ok := u.Raw.(map[string]any); ok {
		if id, ok := obj["session_id"].(string); ok {
			return id
		}
	}
	return ""
}

func sessionIDOf(m protocol.Message) string {
	switch msg := m.(type) {
	case protocol.Output:
		return msg.SessionID
	case protocol.Exit:
		return msg.SessionID
	case protocol.Error:
		return msg.SessionID
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
