package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// Reader reads one message per line. Lines have no length limit.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next line without its terminator. A final line with
// no trailing newline is returned before io.EOF.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// Next reads and decodes the next line.
func (r *Reader) Next() (Message, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return Decode(line), nil
}

// Writer encodes messages onto a buffered stream. It is safe for concurrent
// use; each message is written and flushed as one unit.
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write encodes m and flushes it.
func (w *Writer) Write(m Message) error {
	if err := w.Buffer(m); err != nil {
		return err
	}
	return w.Flush()
}

// Buffer encodes m without flushing, so a caller draining a queue can flush
// once at the end.
func (w *Writer) Buffer(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.bw.Write(data)
	return err
}

// Flush writes any buffered data to the underlying stream.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}
