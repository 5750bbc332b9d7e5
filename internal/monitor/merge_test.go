package monitor

import "testing"

func TestMerge(t *testing.T) {
	term := &Observation{State: StateRunning, Reason: "command running"}
	agent := &AgentObservation{State: StateSuccess, Reason: "judge success"}

	if got := Merge(term, agent); got != (Record{StateSuccess, "judge success"}) {
		t.Errorf("agent present: got %+v", got)
	}
	if got := Merge(term, nil); got != (Record{StateRunning, "command running"}) {
		t.Errorf("agent absent: got %+v", got)
	}
	if got := Merge(nil, nil); got != (Record{StateIdle, "default"}) {
		t.Errorf("both absent: got %+v", got)
	}
	if got := Merge(nil, agent); got.State != StateSuccess {
		t.Errorf("terminal absent: got %+v", got)
	}
}

func TestMerge_AgentAlwaysOverrides(t *testing.T) {
	all := []State{StateIdle, StateRunning, StateNeedInput, StateSuccess, StateFail}
	for _, ts := range all {
		for _, as := range all {
			got := Merge(&Observation{State: ts}, &AgentObservation{State: as})
			if got.State != as {
				t.Errorf("Merge(%s, %s) = %s", ts, as, got.State)
			}
		}
	}
}

func TestMergeWithGuard_BlocksNeedInputFromSettledStates(t *testing.T) {
	agent := &AgentObservation{State: StateNeedInput, Reason: "hook need_input"}
	for _, prev := range []State{StateIdle, StateSuccess, StateFail} {
		next, guarded := MergeWithGuard(&Record{State: prev}, &Observation{State: StateRunning}, agent)
		if !guarded || next != (Record{StateRunning, GuardReason}) {
			t.Errorf("prev %s: got %+v guarded=%v", prev, next, guarded)
		}
	}

	next, guarded := MergeWithGuard(nil, nil, agent)
	if !guarded || next.State != StateRunning {
		t.Errorf("nil previous: got %+v guarded=%v", next, guarded)
	}
}

func TestMergeWithGuard_AllowsNeedInputAfterRunning(t *testing.T) {
	agent := &AgentObservation{State: StateNeedInput, Reason: "hook need_input"}
	for _, prev := range []State{StateRunning, StateNeedInput} {
		next, guarded := MergeWithGuard(&Record{State: prev}, nil, agent)
		if guarded || next != (Record{StateNeedInput, "hook need_input"}) {
			t.Errorf("prev %s: got %+v guarded=%v", prev, next, guarded)
		}
	}
}

func TestMergeWithGuard_TerminalNeedInputAlsoGuarded(t *testing.T) {
	term := &Observation{State: StateNeedInput, Reason: "prompt-like tail"}
	if _, guarded := MergeWithGuard(&Record{State: StateIdle}, term, nil); !guarded {
		t.Error("terminal need-input after idle should be guarded")
	}
}

func TestMergeWithGuard_OtherTransitionsUnrestricted(t *testing.T) {
	all := []State{StateIdle, StateRunning, StateNeedInput, StateSuccess, StateFail}
	for _, prev := range all {
		for _, s := range []State{StateIdle, StateRunning, StateSuccess, StateFail} {
			next, guarded := MergeWithGuard(&Record{State: prev}, &Observation{State: s}, nil)
			if guarded || next.State != s {
				t.Errorf("%s -> %s: got %+v guarded=%v", prev, s, next, guarded)
			}
		}
	}
}
