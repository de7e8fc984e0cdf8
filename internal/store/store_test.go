package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salescycle/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Stages: []model.StageInstance{
			{ID: "p1", OwnerID: "o1", EntityID: "e1", Type: "sales", CreatedAt: ts("2023-01-01T10:00:00Z")},
			{ID: "s1", OwnerID: "o1", EntityID: "e1", Type: "delivery", CreatedAt: ts("2023-02-01T09:30:00Z")},
		},
		Documents: []model.Document{
			{ID: "d1", StageInstanceID: "p1", DocType: "documentation", Attributes: map[string]string{"type": "solar"}, CreatedAt: ts("2023-01-01T11:00:00Z")},
			{ID: "d2", StageInstanceID: "s1", DocType: "validation", Name: "Validation", Status: "approved", CreatedAt: ts("2023-02-02T08:00:00Z")},
		},
		Approvals: []model.ApprovalEvent{
			{DocID: "d2", OwnerID: "o1", Kind: "document_approval", CreatedAt: ts("2023-02-10T12:00:00Z")},
		},
		References: []model.ReferenceRecord{{ReferenceID: "PR-1", Size: "7,5", Attributes: map[string]string{"tier": "gold"}}},
		Contracts:  []model.Contract{{ID: "c1", ReferenceID: "PR-1", OwnerID: "o1", Active: true}},
		PriorStates: []model.PriorState{
			{EntityID: "e1", ContractID: "c1", CreatedAt: ts("2022-06-01T00:00:00Z"), Size: "5"},
		},
		Visits: []model.VisitRecord{{OwningInstanceID: "s1", ServiceTag: "site_visit", StartTime: ts("2023-02-05T14:00:00Z")}},
		Owners: []model.OwnerContainer{{OwnerID: "o1", Attributes: map[string]string{"assignee": "Ana"}}},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SnapshotRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := testSnapshot()
		require.NoError(t, s.SaveSnapshot(ctx, want))

		got, err := s.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.False(t, got.TakenAt.IsZero())
		got.TakenAt = time.Time{}
		assert.Equal(t, want, got)
	})

	t.Run("SaveSnapshotUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveSnapshot(ctx, testSnapshot()))
		update := &model.Snapshot{
			Contracts: []model.Contract{{ID: "c1", ReferenceID: "PR-1", OwnerID: "o1", Active: false}},
			Stages: []model.StageInstance{
				{ID: "p2", OwnerID: "o2", Type: "sales", CreatedAt: ts("2023-03-01T00:00:00Z")},
				{ID: "p2", OwnerID: "o3", Type: "sales", CreatedAt: ts("2023-03-01T00:00:00Z")},
			},
		}
		require.NoError(t, s.SaveSnapshot(ctx, update))

		got, err := s.LoadSnapshot(ctx)
		require.NoError(t, err)
		require.Len(t, got.Contracts, 1)
		assert.False(t, got.Contracts[0].Active)
		require.Len(t, got.Stages, 3)
		assert.Equal(t, "o3", got.Stages[1].OwnerID, "duplicate keys keep the last row")
		assert.Len(t, got.Documents, 2)
	})

	t.Run("EmptySnapshot", func(t *testing.T) {
		s := newStore(t)
		got, err := s.LoadSnapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, got.Stages)
		assert.Empty(t, got.Owners)
	})

	t.Run("SaveAndLoadCycles", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		size := 2.5
		active := true
		first := []model.Cycle{
			{
				PrimaryInstanceID:   "p2",
				OwnerID:             "o1",
				CreatedAt:           ts("2023-02-01T00:00:00Z"),
				Milestones:          model.MilestoneSet{"signing": ts("2023-02-03T00:00:00Z")},
				Interested:          true,
				SizeDelta:           &size,
				ContractActive:      &active,
				SecondaryInstanceID: "s2",
			},
			{
				PrimaryInstanceID: "p1",
				OwnerID:           "o1",
				CreatedAt:         ts("2023-01-01T00:00:00Z"),
				Milestones:        model.MilestoneSet{},
				Issues:            []string{"ambiguous reference id: A, B"},
			},
		}
		require.NoError(t, s.SaveCycles(ctx, "run-1", first))

		updated := first[1]
		updated.Issues = nil
		updated.Assignee = "Ana"
		require.NoError(t, s.SaveCycles(ctx, "run-2", []model.Cycle{updated}))

		got, err := s.LoadCycles(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, updated, got[0])
		assert.Equal(t, first[0], got[1])
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.StartRun(ctx, "csv")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		stats := &model.RunStats{Primaries: 3, Correlated: 2, OpenCycles: 1}
		require.NoError(t, s.CompleteRun(ctx, run.ID, stats))

		failed, err := s.StartRun(ctx, "salesforce")
		require.NoError(t, err)
		require.NoError(t, s.FailRun(ctx, failed.ID, "sf: query: boom"))

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 2)

		byID := map[string]model.Run{}
		for _, r := range runs {
			byID[r.ID] = r
		}
		done := byID[run.ID]
		assert.Equal(t, model.RunStatusComplete, done.Status)
		assert.Equal(t, stats, done.Stats)
		require.NotNil(t, done.CompletedAt)
		assert.Equal(t, "csv", done.Source)

		bad := byID[failed.ID]
		assert.Equal(t, model.RunStatusFailed, bad.Status)
		assert.Equal(t, "sf: query: boom", bad.Error)
		assert.Nil(t, bad.Stats)

		onlyFailed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, onlyFailed, 1)
		assert.Equal(t, failed.ID, onlyFailed[0].ID)

		bySource, err := s.ListRuns(ctx, RunFilter{Source: "csv", Limit: 1})
		require.NoError(t, err)
		require.Len(t, bySource, 1)
		assert.Equal(t, run.ID, bySource[0].ID)

		recent, err := s.ListRuns(ctx, RunFilter{StartedAfter: time.Now().Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		future, err := s.ListRuns(ctx, RunFilter{StartedAfter: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, future)
	})

	t.Run("CompleteUnknownRun", func(t *testing.T) {
		s := newStore(t)
		err := s.CompleteRun(context.Background(), "missing", &model.RunStats{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run not found: missing")

		err = s.FailRun(context.Background(), "missing", "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run not found: missing")
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestNewSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestNewSQLite_CloseAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot()))
	require.NoError(t, s.Close())

	s2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer s2.Close() //nolint:errcheck

	got, err := s2.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Stages, 2)
}
