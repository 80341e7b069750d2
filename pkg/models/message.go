package models

import "fmt"

// StageStatus is the lifecycle state of a StageMessage.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusDone       StageStatus = "done"
	StatusError      StageStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s StageStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether s may move to next. Status only moves
// forward: pending -> in_progress -> done|error. A pending message may also
// fail directly when its stage cannot be dispatched.
func (s StageStatus) CanTransition(next StageStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusError
	case StatusInProgress:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

// StageMessage is the envelope passed to a stage handler.
type StageMessage struct {
	RunID      string         `json:"run_id,omitempty"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Task       string         `json:"task"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     StageStatus    `json:"status"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// NewStageMessage returns a pending message.
func NewStageMessage(runID, from, to, task string, payload map[string]any) *StageMessage {
	return &StageMessage{
		RunID:   runID,
		From:    from,
		To:      to,
		Task:    task,
		Payload: payload,
		Status:  StatusPending,
	}
}

// Transition moves the message to next or fails without changing it.
func (m *StageMessage) Transition(next StageStatus) error {
	if !m.Status.CanTransition(next) {
		return fmt.Errorf("stage %s: invalid transition %s -> %s", m.To, m.Status, next)
	}
	m.Status = next
	return nil
}
