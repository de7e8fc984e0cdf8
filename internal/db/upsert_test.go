package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "salescycle.stages",
		Columns:      []string{"id", "owner_id"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "salescycle.stages",
		ConflictKeys: []string{"id"},
	}, [][]any{{"p1", "o1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "salescycle.stages",
		Columns: []string{"id", "owner_id"},
	}, [][]any{{"p1", "o1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "owner_id"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_salescycle_stages"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_salescycle_stages"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "salescycle"."stages"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "salescycle.stages",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{{"p1", "o1"}, {"p2", "o1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_salescycle_stages"}, []string{"id"}).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "salescycle.stages",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"p1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for salescycle.stages")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL(UpsertConfig{
		Table:        "salescycle.contracts",
		Columns:      []string{"id", "owner_id", "active"},
		ConflictKeys: []string{"id"},
	}, "_tmp")
	assert.Equal(t,
		`INSERT INTO "salescycle"."contracts" ("id", "owner_id", "active") SELECT "id", "owner_id", "active" FROM "_tmp" ON CONFLICT ("id") DO UPDATE SET "owner_id" = EXCLUDED."owner_id", "active" = EXCLUDED."active"`,
		got,
	)

	keyOnly := upsertSQL(UpsertConfig{
		Table:        "salescycle.visits",
		Columns:      []string{"owning_instance_id", "start_time"},
		ConflictKeys: []string{"owning_instance_id", "start_time"},
	}, "_tmp")
	assert.Contains(t, keyOnly, `ON CONFLICT ("owning_instance_id", "start_time") DO NOTHING`)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"salescycle.stages", `"salescycle"."stages"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "doc_type", "status"`, quoteAndJoin([]string{"id", "doc_type", "status"}))
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_salescycle_cycles", TempTableName("salescycle.cycles"))
}
