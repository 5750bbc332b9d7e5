// Package protocol defines the newline-delimited JSON messages exchanged
// between the supervisor and a worker process.
package protocol

import "encoding/json"

// Message type tags as they appear in the "type" field on the wire.
const (
	TypeStartSession = "start_session"
	TypeSendInput    = "send_input"
	TypeResize       = "resize"
	TypeStopSession  = "stop_session"
	TypeOutput       = "output"
	TypeExit         = "exit"
	TypeError        = "error"
	TypeUnknown      = "unknown"
)

// Output stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Message is one decoded line. The concrete type is one of the structs in
// this file; callers switch on it.
type Message interface {
	Type() string
}

// StartSession asks the worker to spawn a process attached to a new PTY.
type StartSession struct {
	SessionID string            `json:"session_id"`
	Cmd       string            `json:"cmd"`
	Cwd       *string           `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cols      int               `json:"cols"`
	Rows      int               `json:"rows"`
}

// SendInput writes Text verbatim to the session's PTY.
type SendInput struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Resize changes the PTY geometry of a session.
type Resize struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// StopSession terminates a session.
type StopSession struct {
	SessionID string `json:"session_id"`
}

// Output carries a chunk of process output. Chunk boundaries are arbitrary.
type Output struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"`
	Chunk     string `json:"chunk"`
}

// Exit reports that a session's process terminated.
type Exit struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// Error reports a failed operation. Recoverable is false when the session
// can no longer be used.
type Error struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Unknown holds a line that did not decode to any known message. Raw is the
// parsed JSON value when the line was valid JSON, otherwise the line itself.
type Unknown struct {
	Raw any
}

func (StartSession) Type() string { return TypeStartSession }
func (SendInput) Type() string    { return TypeSendInput }
func (Resize) Type() string       { return TypeResize }
func (StopSession) Type() string  { return TypeStopSession }
func (Output) Type() string       { return TypeOutput }
func (Exit) Type() string         { return TypeExit }
func (Error) Type() string        { return TypeError }
func (Unknown) Type() string      { return TypeUnknown }

// The MarshalJSON methods add the "type" tag alongside the message fields.

func (m StartSession) MarshalJSON() ([]byte, error) {
	type fields StartSession
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeStartSession, fields(m)})
}

func (m SendInput) MarshalJSON() ([]byte, error) {
	type fields SendInput
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeSendInput, fields(m)})
}

func (m Resize) MarshalJSON() ([]byte, error) {
	type fields Resize
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeResize, fields(m)})
}

func (m StopSession) MarshalJSON() ([]byte, error) {
	type fields StopSession
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeStopSession, fields(m)})
}

func (m Output) MarshalJSON() ([]byte, error) {
	type fields Output
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeOutput, fields(m)})
}

func (m Exit) MarshalJSON() ([]byte, error) {
	type fields Exit
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeExit, fields(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type fields Error
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeError, fields(m)})
}

// MarshalJSON emits Raw as-is; Unknown has no tag of its own.
func (m Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Raw)
}
