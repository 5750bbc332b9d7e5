// Package monitor classifies a session's activity from its terminal output
// and from agent hook events, and merges the two into one observed state.
package monitor

import "strings"

// State is the observed activity state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateNeedInput State = "need-input"
	StateSuccess   State = "success"
	StateFail      State = "fail"
)

// String returns the wire name of the state.
func (s State) String() string { return string(s) }

// NormalizeState maps loosely spelled state names onto a State. Unrecognized
// non-empty names are returned lowercased as-is.
func NormalizeState(raw string) State {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return StateIdle
	case "need_input", "need-input", "needinput":
		return StateNeedInput
	case "fail", "failure", "error":
		return StateFail
	default:
		return State(s)
	}
}

// Aggregate reduces the states of several sessions to the single state a
// summary view shows: need-input beats fail beats running beats idle.
// Success counts as idle here.
func Aggregate(states []State) State {
	best := StateIdle
	for _, s := range states {
		if aggregateRank(s) > aggregateRank(best) {
			best = s
		}
	}
	return best
}

func aggregateRank(s State) int {
	switch s {
	case StateNeedInput:
		return 3
	case StateFail:
		return 2
	case StateRunning:
		return 1
	default:
		return 0
	}
}
