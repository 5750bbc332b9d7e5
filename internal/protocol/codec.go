package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrInvalidMessage is returned by Encode and Validate when a message does
// not satisfy the schema of its type.
var ErrInvalidMessage = errors.New("invalid message")

// Decode parses one line into a Message. It never fails: anything that is
// not a well-formed known message comes back as Unknown.
func Decode(line string) Message {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Unknown{Raw: line}
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Unknown{Raw: line}
	}
	if _, err := dec.Token(); err != io.EOF {
		// Trailing data after the first value.
		return Unknown{Raw: line}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return Unknown{Raw: value}
	}
	typ, _ := obj["type"].(string)
	msg, ok := decodeFields(typ, fields(obj))
	if !ok {
		return Unknown{Raw: value}
	}
	return msg
}

func decodeFields(typ string, f fields) (Message, bool) {
	switch typ {
	case TypeStartSession:
		var m StartSession
		var ok bool
		if m.SessionID, ok = f.str("session_id"); !ok {
			return nil, false
		}
		if m.Cmd, ok = f.str("cmd"); !ok {
			return nil, false
		}
		if m.Cwd, ok = f.optStr("cwd"); !ok {
			return nil, false
		}
		if m.Env, ok = f.env("env"); !ok {
			return nil, false
		}
		if m.Cols, ok = f.integer("cols"); !ok {
			return nil, false
		}
		if m.Rows, ok = f.integer("rows"); !ok {
			return nil, false
		}
		return m, true

	case TypeSendInput:
		id, ok1 := f.str("session_id")
		text, ok2 := f.str("text")
		return SendInput{SessionID: id, Text: text}, ok1 && ok2

	case TypeResize:
		id, ok1 := f.str("session_id")
		cols, ok2 := f.integer("cols")
		rows, ok3 := f.integer("rows")
		return Resize{SessionID: id, Cols: cols, Rows: rows}, ok1 && ok2 && ok3

	case TypeStopSession:
		id, ok := f.str("session_id")
		return StopSession{SessionID: id}, ok

	case TypeOutput:
		id, ok1 := f.str("session_id")
		stream, ok2 := f.str("stream")
		chunk, ok3 := f.str("chunk")
		return Output{SessionID: id, Stream: stream, Chunk: chunk}, ok1 && ok2 && ok3 && validStream(stream)

	case TypeExit:
		id, ok1 := f.str("session_id")
		code, ok2 := f.integer("exit_code")
		return Exit{SessionID: id, ExitCode: code}, ok1 && ok2

	case TypeError:
		id, ok1 := f.str("session_id")
		text, ok2 := f.str("message")
		rec, ok3 := f.boolean("recoverable")
		return Error{SessionID: id, Message: text, Recoverable: rec}, ok1 && ok2 && ok3
	}
	return nil, false
}

// Encode validates m and returns its newline-terminated wire form.
func Encode(m Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return append(data, '\n'), nil
}

// Validate checks the fields Encode cannot express through Go types alone.
// Unknown messages always pass.
func Validate(m Message) error {
	switch msg := m.(type) {
	case StartSession, SendInput, Resize, StopSession, Exit, Error, Unknown:
		return nil
	case Output:
		if !validStream(msg.Stream) {
			return fmt.Errorf("%w: output stream %q", ErrInvalidMessage, msg.Stream)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unsupported message type %T", ErrInvalidMessage, m)
	}
}

func validStream(s string) bool {
	return s == StreamStdout || s == StreamStderr
}

// fields gives typed access to a decoded JSON object.
type fields map[string]any

func (f fields) str(key string) (string, bool) {
	s, ok := f[key].(string)
	return s, ok
}

// optStr accepts an absent key or null as nil.
func (f fields) optStr(key string) (*string, bool) {
	v, present := f[key]
	if !present || v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

// integer accepts any JSON number with an integral value that fits in an int.
func (f fields) integer(key string) (int, bool) {
	n, ok := f[key].(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	}
	x, err := n.Float64()
	if err != nil || math.IsInf(x, 0) || math.IsNaN(x) || x != math.Trunc(x) {
		return 0, false
	}
	if x < math.MinInt32 || x > math.MaxInt32 {
		return 0, false
	}
	return int(x), true
}

func (f fields) boolean(key string) (bool, bool) {
	b, ok := f[key].(bool)
	return b, ok
}

// env accepts an absent key or null as nil; otherwise every value must be a string.
func (f fields) env(key string) (map[string]string, bool) {
	v, present := f[key]
	if !present || v == nil {
		return nil, true
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		s, ok := val.(string)
		if !ok {
			return nil, false
		}
		out[k] = s
	}
	return out, true
}
