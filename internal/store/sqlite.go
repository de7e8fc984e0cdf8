package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/salescycle/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS stages (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	entity_id  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	stage_instance_id TEXT NOT NULL,
	doc_type          TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT '',
	attributes        TEXT NOT NULL DEFAULT '{}',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	doc_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (doc_id, kind, created_at)
);

CREATE TABLE IF NOT EXISTS reference_records (
	reference_id TEXT PRIMARY KEY,
	size         TEXT NOT NULL DEFAULT '',
	attributes   TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS contracts (
	id           TEXT PRIMARY KEY,
	reference_id TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prior_states (
	entity_id   TEXT NOT NULL,
	contract_id TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	size        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_id, contract_id, created_at)
);

CREATE TABLE IF NOT EXISTS visits (
	owning_instance_id TEXT NOT NULL,
	service_tag        TEXT NOT NULL DEFAULT '',
	start_time         DATETIME NOT NULL,
	PRIMARY KEY (owning_instance_id, service_tag, start_time)
);

CREATE TABLE IF NOT EXISTS owners (
	owner_id   TEXT PRIMARY KEY,
	attributes TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS cycles (
	primary_instance_id TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL,
	owner_id            TEXT NOT NULL,
	created_at          DATETIME NOT NULL,
	data                TEXT NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_stages_owner ON stages(owner_id);
CREATE INDEX IF NOT EXISTS idx_documents_stage ON documents(stage_instance_id);
CREATE INDEX IF NOT EXISTS idx_cycles_run_id ON cycles(run_id);
CREATE INDEX IF NOT EXISTS idx_cycle_runs_status ON cycle_runs(status);
CREATE INDEX IF NOT EXISTS idx_cycle_runs_started_at ON cycle_runs(started_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadSnapshot reads every source table.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{TakenAt: time.Now().UTC()}
	for _, t := range snapshotTables {
		if err := s.loadTable(ctx, snap, t); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *SQLiteStore) loadTable(ctx context.Context, snap *model.Snapshot, t table) error {
	rows, err := s.db.QueryContext(ctx, t.selectSQL(t.name))
	if err != nil {
		return eris.Wrapf(err, "sqlite: load %s", t.name)
	}
	defer rows.Close() //nolint:errcheck
	return scanInto(snap, t, rows)
}

// SaveSnapshot upserts every source table in a single transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tables, err := snapshotRows(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, tr := range tables {
		if err := insertRows(ctx, tx, tr.table, tr.rows); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

// SaveCycles replaces the stored report row of every cycle's primary instance.
func (s *SQLiteStore) SaveCycles(ctx context.Context, runID string, cycles []model.Cycle) error {
	rows, err := cycleRows(runID, cycles, time.Now().UTC())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRows(ctx, tx, cyclesTable, rows); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit cycles for run %s", runID)
}

// LoadCycles returns the stored report ordered by (created_at, primary id).
func (s *SQLiteStore) LoadCycles(ctx context.Context) ([]model.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM cycles ORDER BY created_at, primary_instance_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load cycles")
	}
	defer rows.Close() //nolint:errcheck
	return scanCycles(rows)
}

func insertRows(ctx context.Context, tx *sql.Tx, t table, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(t.columns, ", "), placeholders,
	))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", t.name)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", t.name)
		}
	}
	return nil
}

// StartRun records the beginning of a run and returns it.
func (s *SQLiteStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

// CompleteRun marks a run complete and stores its stats.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := marshalStats(stats)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cycle_runs SET status = ?, stats = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), nullString(statsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun marks a run failed with msg.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cycle_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, stats, error, started_at, completed_at FROM cycle_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var stats sql.NullString
	var completed sql.NullTime

	err := row.Scan(&r.ID, &r.Source, &r.Status, &stats, &r.Error, &r.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.StartedAt = r.StartedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		r.CompletedAt = &t
	}
	if stats.Valid {
		if r.Stats, err = unmarshalStats([]byte(stats.String)); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
