package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"termwatch/internal/protocol"
)

// NewSessionID returns a fresh supervisor-assigned session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Conn is the part of a WorkerClient that StartWithRetry needs.
type Conn interface {
	Send(m protocol.Message) error
	AwaitError(sessionID string) (<-chan protocol.Error, func())
	Done() <-chan struct{}
}

// StartError reports a start_session the worker rejected.
type StartError struct {
	SessionID string
	Attempts  int
	Last      protocol.Error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start session %s failed after %d attempt(s): %s", e.SessionID, e.Attempts, e.Last.Message)
}

// StartWithRetry sends start and treats the absence of an error for its
// session within delay as success. A recoverable error is retried, after
// another delay, until attempts have been made; a non-recoverable one
// fails at once.
func StartWithRetry(ctx context.Context, c Conn, start protocol.StartSession, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		rejected, err := startOnce(ctx, c, start, delay)
		if err != nil {
			return err
		}
		if rejected == nil {
			return nil
		}
		if !rejected.Recoverable || attempt >= attempts {
			return &StartError{SessionID: start.SessionID, Attempts: attempt, Last: *rejected}
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func startOnce(ctx context.Context, c Conn, start protocol.StartSession, delay time.Duration) (*protocol.Error, error) {
	errs, cancel := c.AwaitError(start.SessionID)
	defer cancel()
	if err := c.Send(start); err != nil {
		return nil, fmt.Errorf("send start_session: %w", err)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case e := <-errs:
		return &e, nil
	case <-timer.C:
		return nil, nil
	case <-c.Done():
		return nil, ErrWorkerGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
