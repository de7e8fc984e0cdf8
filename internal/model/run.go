package model

import "time"

// RunStatus represents the current state of a correlation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the cycle engine over a snapshot.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	Stats       *RunStats  `json:"stats,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStats summarizes what the engine did with a snapshot.
type RunStats struct {
	Primaries         int `json:"primaries"`
	Secondaries       int `json:"secondaries"`
	Correlated        int `json:"correlated"`
	Uncorrelated      int `json:"uncorrelated"`
	Deduplicated      int `json:"deduplicated"`
	OpenCycles        int `json:"open_cycles"`
	RecordsWithIssues int `json:"records_with_issues"`
}
