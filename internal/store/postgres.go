package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/db"
	"github.com/sells-group/salescycle/internal/model"
)

// Schema holds every salescycle table in Postgres.
const Schema = "salescycle"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertRunSQL   = `INSERT INTO salescycle.cycle_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`
	completeRunSQL = `UPDATE salescycle.cycle_runs SET status = $1, stats = $2, completed_at = $3 WHERE id = $4`
	failRunSQL     = `UPDATE salescycle.cycle_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`
	loadCyclesSQL  = `SELECT data FROM salescycle.cycles ORDER BY created_at, primary_instance_id`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":   insertRunSQL,
	"complete_run": completeRunSQL,
	"fail_run":     failRunSQL,
	"load_cycles":  loadCyclesSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Skip until Migrate has created the schema.
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('salescycle.cycle_runs') IS NOT NULL`).Scan(&exists); err != nil || !exists {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS salescycle;

CREATE TABLE IF NOT EXISTS salescycle.stages (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	entity_id  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS salescycle.documents (
	id                TEXT PRIMARY KEY,
	stage_instance_id TEXT NOT NULL,
	doc_type          TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT '',
	attributes        JSONB NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS salescycle.approvals (
	doc_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (doc_id, kind, created_at)
);

CREATE TABLE IF NOT EXISTS salescycle.reference_records (
	reference_id TEXT PRIMARY KEY,
	size         TEXT NOT NULL DEFAULT '',
	attributes   JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS salescycle.contracts (
	id           TEXT PRIMARY KEY,
	reference_id TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS salescycle.prior_states (
	entity_id   TEXT NOT NULL,
	contract_id TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	size        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_id, contract_id, created_at)
);

CREATE TABLE IF NOT EXISTS salescycle.visits (
	owning_instance_id TEXT NOT NULL,
	service_tag        TEXT NOT NULL DEFAULT '',
	start_time         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owning_instance_id, service_tag, start_time)
);

CREATE TABLE IF NOT EXISTS salescycle.owners (
	owner_id   TEXT PRIMARY KEY,
	attributes JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS salescycle.cycles (
	primary_instance_id TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL,
	owner_id            TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	data                JSONB NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS salescycle.cycle_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_stages_owner ON salescycle.stages(owner_id);
CREATE INDEX IF NOT EXISTS idx_documents_stage ON salescycle.documents(stage_instance_id);
CREATE INDEX IF NOT EXISTS idx_cycles_run_id ON salescycle.cycles(run_id);
CREATE INDEX IF NOT EXISTS idx_cycle_runs_status ON salescycle.cycle_runs(status);
CREATE INDEX IF NOT EXISTS idx_cycle_runs_started_at ON salescycle.cycle_runs(started_at DESC);
`

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the salescycle schema and tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func qualified(name string) string {
	return Schema + "." + name
}

// LoadSnapshot reads every source table.
func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{TakenAt: time.Now().UTC()}
	for _, t := range snapshotTables {
		if err := s.loadTable(ctx, snap, t); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *PostgresStore) loadTable(ctx context.Context, snap *model.Snapshot, t table) error {
	rows, err := s.pool.Query(ctx, t.selectSQL(qualified(t.name)))
	if err != nil {
		return eris.Wrapf(err, "postgres: load %s", t.name)
	}
	defer rows.Close()
	return scanInto(snap, t, rows)
}

// SaveSnapshot bulk-upserts every source table.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tables, err := snapshotRows(snap)
	if err != nil {
		return err
	}
	for _, tr := range tables {
		if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        qualified(tr.table.name),
			Columns:      tr.table.columns,
			ConflictKeys: tr.table.keys,
		}, tr.rows); err != nil {
			return eris.Wrapf(err, "postgres: save %s", tr.table.name)
		}
	}
	return nil
}

// SaveCycles upserts the report row of every cycle's primary instance.
func (s *PostgresStore) SaveCycles(ctx context.Context, runID string, cycles []model.Cycle) error {
	rows, err := cycleRows(runID, cycles, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        qualified(cyclesTable.name),
		Columns:      cyclesTable.columns,
		ConflictKeys: cyclesTable.keys,
	}, rows)
	return eris.Wrapf(err, "postgres: save cycles for run %s", runID)
}

// LoadCycles returns the stored report ordered by (created_at, primary id).
func (s *PostgresStore) LoadCycles(ctx context.Context) ([]model.Cycle, error) {
	rows, err := s.pool.Query(ctx, loadCyclesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load cycles")
	}
	defer rows.Close()
	return scanCycles(rows)
}

// StartRun records the beginning of a run and returns it.
func (s *PostgresStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, insertRunSQL, run.ID, run.Source, string(run.Status), run.StartedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// CompleteRun marks a run complete and stores its stats.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := marshalStats(stats)
	if err != nil {
		return err
	}
	var statsArg any
	if statsJSON != "" {
		statsArg = statsJSON
	}
	tag, err := s.pool.Exec(ctx, completeRunSQL, string(model.RunStatusComplete), statsArg, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// FailRun marks a run failed with msg.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx, failRunSQL, string(model.RunStatusFailed), msg, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, stats, error, started_at, completed_at FROM salescycle.cycle_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r         model.Run
			status    string
			stats     []byte
			completed *time.Time
		)
		if err := rows.Scan(&r.ID, &r.Source, &status, &stats, &r.Error, &r.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.StartedAt = r.StartedAt.UTC()
		if completed != nil {
			t := completed.UTC()
			r.CompletedAt = &t
		}
		if r.Stats, err = unmarshalStats(stats); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
