package supervisor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"termwatch/internal/monitor"
)

// rawTailFactor sizes the raw output kept per session relative to the
// observed tail, leaving room for escape sequences that cleaning removes.
const rawTailFactor = 16

// Tracker holds what the supervisor knows about each session between
// evaluations. It is safe for concurrent use.
type Tracker struct {
	tailChars int

	mu       sync.Mutex
	sessions map[string]*tracked
}

type tracked struct {
	raw           string
	lastOutputAt  time.Time
	inputAt       time.Time
	exitCode      *int
	commandActive bool
	hook          *monitor.HookPayload
	record        *monitor.Record
}

// NewTracker returns an empty Tracker observing the last tailChars runes of
// each session's output.
func NewTracker(tailChars int) *Tracker {
	if tailChars <= 0 {
		tailChars = monitor.DefaultTailChars
	}
	return &Tracker{tailChars: tailChars, sessions: make(map[string]*tracked)}
}

// Add starts tracking id. Adding an id twice resets it.
func (t *Tracker) Add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = &tracked{}
}

// Remove stops tracking id.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// IDs returns the tracked session ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Output appends a chunk to the session's tail.
func (t *Tracker) Output(id, chunk string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	s.raw = monitor.TailForObservation(s.raw+chunk, t.tailChars*rawTailFactor)
	s.lastOutputAt = at
}

// Input records text sent to the session. A line terminator means a
// command was submitted: the session counts as busy and any earlier hook
// verdict no longer applies.
func (t *Tracker) Input(id, text string, at time.Time) {
	if !strings.ContainsAny(text, "\r\n") {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	s.commandActive = true
	s.inputAt = at
	s.hook = nil
}

// Exit records the session's exit code.
func (t *Tracker) Exit(id string, code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.exitCode = &code
	}
}

// Hook stores p as the latest hook payload for the session it names, or
// for every session that is still alive when it names none of them. It
// returns the ids that received it.
func (t *Tracker) Hook(p *monitor.HookPayload) []string {
	if p == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[p.SourceSessionID]; ok && p.SourceSessionID != "" {
		s.hook = p
		return []string{p.SourceSessionID}
	}
	var ids []string
	for id, s := range t.sessions {
		if s.exitCode == nil {
			s.hook = p
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Record returns the last evaluated state of a session.
func (t *Tracker) Record(id string) (monitor.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok || s.record == nil {
		return monitor.Record{}, false
	}
	return *s.record, true
}

// Evaluation is one session's result from Evaluate.
type Evaluation struct {
	SessionID string
	Previous  *monitor.Record
	Next      monitor.Record
	Guarded   bool
	Terminal  monitor.Observation
}

// Changed reports whether the state differs from the previous evaluation.
func (e Evaluation) Changed() bool {
	return e.Previous == nil || e.Previous.State != e.Next.State
}

// Evaluate classifies every tracked session at now and stores the results
// as the previous records for the next call.
func (t *Tracker) Evaluate(now time.Time) []Evaluation {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Evaluation, 0, len(ids))
	for _, id := range ids {
		s := t.sessions[id]
		term := monitor.ComputeState(monitor.Snapshot{
			Now:           now,
			LastOutputAt:  s.lastOutputAt,
			Tail:          monitor.TailForObservation(monitor.CleanTail(s.raw), t.tailChars),
			ExitCode:      s.exitCode,
			CommandActive: s.commandActive,
		})
		next, guarded := monitor.MergeWithGuard(s.record, &term, monitor.ObserveHook(s.hook))

		// The command is over once the terminal shows a verdict for output
		// that arrived after the input.
		switch term.State {
		case monitor.StateSuccess, monitor.StateFail:
			if s.commandActive && s.lastOutputAt.After(s.inputAt) {
				s.commandActive = false
			}
		}

		prev := s.record
		s.record = &next
		out = append(out, Evaluation{SessionID: id, Previous: prev, Next: next, Guarded: guarded, Terminal: term})
	}
	return out
}
