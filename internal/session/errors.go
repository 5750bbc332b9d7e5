package session

import (
	"errors"
	"fmt"
)

// Session errors a caller may retry or ignore.
var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrInvalidGeometry  = errors.New("invalid geometry")
)

// ProcessError reports a failure of the session's process or its PTY. The
// session is torn down and cannot be used again.
type ProcessError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Recoverable reports whether err leaves the session (or its absence)
// unchanged, so the caller may retry.
func Recoverable(err error) bool {
	return errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrDuplicateSession) ||
		errors.Is(err, ErrInvalidGeometry)
}

// MaxDimension is the largest row or column count a PTY accepts.
const MaxDimension = 1<<16 - 1

func checkGeometry(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > MaxDimension || rows > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, cols, rows)
	}
	return nil
}
