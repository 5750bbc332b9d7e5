package monitor

// GuardReason is the reason recorded when the guard rewrites a need-input
// result to running.
const GuardReason = "guard running-before-need-input"

// Record is a merged state with a short diagnostic reason.
type Record struct {
	State  State  `json:"state"`
	Reason string `json:"reason"`
}

// Merge combines the terminal and agent views. The agent view wins when it
// is present; with neither present the result is idle.
func Merge(terminal *Observation, agent *AgentObservation) Record {
	if agent != nil && agent.State != "" {
		return Record{State: agent.State, Reason: agent.Reason}
	}
	if terminal != nil && terminal.State != "" {
		return Record{State: terminal.State, Reason: terminal.Reason}
	}
	return Record{State: StateIdle, Reason: "default"}
}

// MergeWithGuard merges like Merge, then refuses a transition into
// need-input unless the previous state was running or need-input. A nil
// previous record counts as idle. guarded reports whether the result was
// rewritten.
func MergeWithGuard(previous *Record, terminal *Observation, agent *AgentObservation) (next Record, guarded bool) {
	next = Merge(terminal, agent)
	if next.State != StateNeedInput {
		return next, false
	}
	prev := StateIdle
	if previous != nil {
		prev = previous.State
	}
	if prev == StateRunning || prev == StateNeedInput {
		return next, false
	}
	return Record{State: StateRunning, Reason: GuardReason}, true
}
