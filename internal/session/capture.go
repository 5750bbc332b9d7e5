package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	readBufferSize = 64 * 1024
	// maxPending bounds output held between flushes; older bytes are dropped.
	maxPending = 512 * 1024
)

// coalescer accumulates PTY bytes and turns them into text chunks. A
// multi-byte rune split across reads is held back until it completes.
type coalescer struct {
	pending []byte
	limit   int
}

func (c *coalescer) add(b []byte) {
	c.pending = append(c.pending, b...)
	if over := len(c.pending) - c.limit; over > 0 {
		drop := over
		// Do not start the kept bytes mid-rune.
		for drop < len(c.pending) && !utf8.RuneStart(c.pending[drop]) {
			drop++
		}
		c.pending = append(c.pending[:0], c.pending[drop:]...)
	}
}

func (c *coalescer) size() int { return len(c.pending) }

// take returns the complete text accumulated so far. With final set, any
// incomplete trailing rune is emitted as U+FFFD instead of held back.
func (c *coalescer) take(final bool) string {
	n := len(c.pending)
	if !final {
		n -= incompleteSuffix(c.pending)
	}
	if n == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(c.pending[:n]), "\uFFFD")
	c.pending = append(c.pending[:0], c.pending[n:]...)
	return text
}

// incompleteSuffix returns the length of a truncated UTF-8 sequence at the
// end of b, or 0.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return 0
		}
		return i
	}
	return 0
}

// capture pumps output from e's process until it exits, then emits the
// session's exit message and removes it from the registry.
func (r *Registry) capture(e *entry) {
	defer close(e.captureDone)

	chunks := make(chan []byte, 16)
	abandon := make(chan struct{})
	defer close(abandon)
	go readLoop(e.proc, chunks, abandon)

	c := &coalescer{limit: maxPending}
	timer := time.NewTimer(r.opts.CoalesceDelay)
	stopTimer(timer)
	armed := false

	flush := func(final bool) {
		if text := c.take(final); text != "" {
			r.emitOutput(e.id, text)
		}
	}

	exited := e.proc.Done()
	readsDone := false
	for !readsDone {
		select {
		case b, ok := <-chunks:
			if !ok {
				readsDone = true
				break
			}
			c.add(b)
			if c.size() >= r.opts.CoalesceBytes {
				flush(false)
			} else if !armed {
				timer.Reset(r.opts.CoalesceDelay)
				armed = true
			}
		case <-timer.C:
			armed = false
			flush(false)
		case <-exited:
			exited = nil
			r.drain(e, chunks, c)
			readsDone = true
		}
	}
	stopTimer(timer)
	flush(true)

	<-e.proc.Done()
	_ = e.proc.Close()
	r.finish(e, e.proc.ExitCode())
}

// drain collects output still buffered in the PTY after the process has
// exited. A background grandchild can hold the terminal open, so reading
// is bounded by DrainGrace.
func (r *Registry) drain(e *entry, chunks <-chan []byte, c *coalescer) {
	deadline := time.NewTimer(r.opts.DrainGrace)
	defer deadline.Stop()
	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				return
			}
			c.add(b)
			if c.size() >= r.opts.CoalesceBytes {
				if text := c.take(false); text != "" {
					r.emitOutput(e.id, text)
				}
			}
		case <-deadline.C:
			r.log.WithSession(e.id).Debug("output drain timed out")
			return
		}
	}
}

func readLoop(p Process, chunks chan<- []byte, abandon <-chan struct{}) {
	defer close(chunks)
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			select {
			case chunks <- append([]byte(nil), buf[:n]...):
			case <-abandon:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
