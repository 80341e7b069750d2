package models

import "time"

// RunRecord is a persisted pipeline run.
type RunRecord struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	Status     RunStatus `json:"status"`
	Errors     []string  `json:"errors"`
	Outputs    string    `json:"outputs,omitempty"` // JSON object keyed by stage
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunQueryOpts specifies filters for listing runs.
type RunQueryOpts struct {
	Status RunStatus
	Since  time.Time
	Limit  int
}

// RunStat holds run counts for a status/day combination.
type RunStat struct {
	Status RunStatus
	Day    string
	Count  int
}
