// Package store persists source snapshots, cycle reports and the run log.
package store

import (
	"context"
	"time"

	"github.com/sells-group/salescycle/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Source       string          `json:"source,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the cycle engine.
type Store interface {
	// Source tables
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error

	// Cycle report, latest row per primary instance
	SaveCycles(ctx context.Context, runID string, cycles []model.Cycle) error
	LoadCycles(ctx context.Context) ([]model.Cycle, error)

	// Run log
	StartRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error
	FailRun(ctx context.Context, runID string, msg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
