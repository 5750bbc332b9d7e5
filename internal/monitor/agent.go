package monitor

// Hook payload kinds and judge states as sent by tool integrations.
const (
	KindNeedInput = "need_input"
	KindCompleted = "completed"
	KindError     = "error"

	JudgeSuccess   = "success"
	JudgeFailure   = "failure"
	JudgeNeedInput = "need_input"
)

// HookPayload is an out-of-band event from an agent tool integration.
type HookPayload struct {
	Kind            string `json:"kind"`
	JudgeState      string `json:"judge_state,omitempty"`
	Source          string `json:"source,omitempty"`
	SourceSessionID string `json:"source_session_id,omitempty"`
}

// AgentObservation is the state implied by a hook payload.
type AgentObservation struct {
	State  State
	Reason string
	Source string
}

// ObserveHook maps a hook payload to a state override, or nil when the
// payload says nothing about the agent's state.
func ObserveHook(p *HookPayload) *AgentObservation {
	if p == nil {
		return nil
	}
	obs := func(s State, reason string) *AgentObservation {
		return &AgentObservation{State: s, Reason: reason, Source: p.Source}
	}
	if p.Kind == KindNeedInput {
		return obs(StateNeedInput, "hook need_input")
	}
	switch p.JudgeState {
	case JudgeSuccess:
		return obs(StateSuccess, "judge success")
	case JudgeFailure:
		return obs(StateFail, "judge failure")
	case JudgeNeedInput, "need-input":
		return obs(StateNeedInput, "judge need_input")
	}
	return nil
}
