package models

import "time"

// RunStatus is the overall state of a pipeline run.
type RunStatus string

const (
	RunPlanning RunStatus = "planning"
	RunReady    RunStatus = "ready"
	RunPartial  RunStatus = "partial"
	RunError    RunStatus = "error"
)

// Result accumulates the outputs of one pipeline run. Outputs holds one
// entry per stage that produced a value, keyed by stage id.
type Result struct {
	ID         string         `json:"id"`
	Prompt     string         `json:"prompt"`
	Outputs    map[string]any `json:"outputs"`
	Errors     []string       `json:"errors"`
	Status     RunStatus      `json:"status"`
	Messages   []StageMessage `json:"messages"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
}

// NewResult returns an empty result in the planning state.
func NewResult(id, prompt string) *Result {
	return &Result{
		ID:        id,
		Prompt:    prompt,
		Outputs:   make(map[string]any),
		Errors:    []string{},
		Status:    RunPlanning,
		StartedAt: time.Now().UTC(),
	}
}

// Output returns the accepted output of stage.
func (r *Result) Output(stage string) (any, bool) {
	v, ok := r.Outputs[stage]
	return v, ok
}
