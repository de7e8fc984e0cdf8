package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salescycle/internal/model"
	"github.com/sells-group/salescycle/internal/store"
	"github.com/sells-group/salescycle/internal/store/mocks"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(1500 * time.Millisecond)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "salesforce",
			Status:      model.RunStatusComplete,
			Stats:       &model.RunStats{Primaries: 42, OpenCycles: 7, RecordsWithIssues: 3},
			StartedAt:   now,
			CompletedAt: &done,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "csv",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "PRIMARIES")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "salesforce")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.NotContains(t, output, "def12345-6789")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "xlsx",
			Status:      model.RunStatusFailed,
			Error:       `run: load snapshot: xlsx: sheet "stages" not found in workbook`,
			StartedAt:   now,
			CompletedAt: &now,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "run: load snapshot")
	assert.Contains(t, output, "...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestRunsListCmd(t *testing.T) {
	testConfig(t)

	st := mocks.NewMockStore(t)
	withStore(t, st)
	st.On("Migrate", mock.Anything).Return(nil)
	st.On("ListRuns", mock.Anything, store.RunFilter{Status: model.RunStatusFailed, Source: "csv", Limit: 5}).
		Return([]model.Run{{ID: "run-1", Source: "csv", Status: model.RunStatusFailed}}, nil)
	st.On("Close").Return(nil)

	require.NoError(t, runsListCmd.Flags().Set("status", "failed"))
	require.NoError(t, runsListCmd.Flags().Set("source", "csv"))
	require.NoError(t, runsListCmd.Flags().Set("limit", "5"))
	t.Cleanup(func() {
		_ = runsListCmd.Flags().Set("status", "")
		_ = runsListCmd.Flags().Set("source", "")
		_ = runsListCmd.Flags().Set("limit", "50")
	})

	var buf bytes.Buffer
	runsListCmd.SetOut(&buf)
	t.Cleanup(func() { runsListCmd.SetOut(nil) })
	runsListCmd.SetContext(context.Background())

	require.NoError(t, runsListCmd.RunE(runsListCmd, nil))
	assert.Contains(t, buf.String(), "run-1")
}

func TestRunsListCmd_SQLite(t *testing.T) {
	testConfig(t)

	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	run, err := st.StartRun(context.Background(), "csv")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(context.Background(), run.ID, &model.RunStats{Primaries: 3}))
	require.NoError(t, st.Close())

	var buf bytes.Buffer
	runsListCmd.SetOut(&buf)
	t.Cleanup(func() { runsListCmd.SetOut(nil) })
	runsListCmd.SetContext(context.Background())

	require.NoError(t, runsListCmd.RunE(runsListCmd, nil))
	assert.Contains(t, buf.String(), truncateID(run.ID))
	assert.Contains(t, buf.String(), "complete")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	after := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	runs := []model.Run{
		{ID: "4", Status: model.RunStatusRunning, StartedAt: now},
		{ID: "3", Status: model.RunStatusComplete, StartedAt: now, CompletedAt: after(4 * time.Second),
			Stats: &model.RunStats{Primaries: 10, OpenCycles: 2}},
		{ID: "2", Status: model.RunStatusFailed, StartedAt: now, CompletedAt: after(time.Second)},
		{ID: "1", Status: model.RunStatusComplete, StartedAt: now, CompletedAt: after(2 * time.Second),
			Stats: &model.RunStats{Primaries: 8}},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.InDelta(t, 3.0, s.AvgDurSecs, 0.001)
	require.NotNil(t, s.Latest)
	assert.Equal(t, 10, s.Latest.Primaries)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Total runs:")
	assert.Contains(t, buf.String(), "3.0s")
	assert.Contains(t, buf.String(), "Open cycles:")
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)
	assert.Nil(t, s.Latest)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.NotContains(t, buf.String(), "Avg duration")
	assert.NotContains(t, buf.String(), "Latest run")
}

func TestRunsStatsCmd(t *testing.T) {
	testConfig(t)

	st := mocks.NewMockStore(t)
	withStore(t, st)
	st.On("Migrate", mock.Anything).Return(nil)
	st.On("ListRuns", mock.Anything, mock.MatchedBy(func(f store.RunFilter) bool {
		return f.Limit == 10000 && !f.StartedAfter.IsZero()
	})).Return([]model.Run{{ID: "r", Status: model.RunStatusFailed}}, nil)
	st.On("Close").Return(nil)

	var buf bytes.Buffer
	runsStatsCmd.SetOut(&buf)
	t.Cleanup(func() { runsStatsCmd.SetOut(nil) })
	runsStatsCmd.SetContext(context.Background())

	require.NoError(t, runsStatsCmd.RunE(runsStatsCmd, nil))
	assert.Contains(t, buf.String(), "Failed:")
}
