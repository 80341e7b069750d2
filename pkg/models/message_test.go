package models

import "testing"

func TestStageStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to StageStatus
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusDone, false},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusError, true},
		{StatusInProgress, StatusPending, false},
		{StatusDone, StatusError, false},
		{StatusDone, StatusInProgress, false},
		{StatusError, StatusDone, false},
		{StatusError, StatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestTransitionLeavesStatusOnFailure(t *testing.T) {
	m := NewStageMessage("run-1", "coordinator", "parts", "select_parts", nil)
	if err := m.Transition(StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusDone); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusError); err == nil {
		t.Error("expected error moving out of a terminal state")
	}
	if m.Status != StatusDone {
		t.Errorf("expected status done, got %s", m.Status)
	}
	if !m.Status.Terminal() {
		t.Error("done should be terminal")
	}
}
