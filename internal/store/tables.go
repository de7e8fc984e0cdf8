package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/model"
)

// table describes one persisted source table. Both backends share the column
// order so row builders and scanners can be reused.
type table struct {
	name    string
	columns []string
	keys    []string
}

var (
	stagesTable = table{
		name:    "stages",
		columns: []string{"id", "owner_id", "entity_id", "type", "created_at"},
		keys:    []string{"id"},
	}
	documentsTable = table{
		name:    "documents",
		columns: []string{"id", "stage_instance_id", "doc_type", "name", "status", "attributes", "created_at"},
		keys:    []string{"id"},
	}
	approvalsTable = table{
		name:    "approvals",
		columns: []string{"doc_id", "kind", "created_at", "owner_id"},
		keys:    []string{"doc_id", "kind", "created_at"},
	}
	referencesTable = table{
		name:    "reference_records",
		columns: []string{"reference_id", "size", "attributes"},
		keys:    []string{"reference_id"},
	}
	contractsTable = table{
		name:    "contracts",
		columns: []string{"id", "reference_id", "owner_id", "active"},
		keys:    []string{"id"},
	}
	priorStatesTable = table{
		name:    "prior_states",
		columns: []string{"entity_id", "contract_id", "created_at", "size"},
		keys:    []string{"entity_id", "contract_id", "created_at"},
	}
	visitsTable = table{
		name:    "visits",
		columns: []string{"owning_instance_id", "service_tag", "start_time"},
		keys:    []string{"owning_instance_id", "service_tag", "start_time"},
	}
	ownersTable = table{
		name:    "owners",
		columns: []string{"owner_id", "attributes"},
		keys:    []string{"owner_id"},
	}
	cyclesTable = table{
		name:    "cycles",
		columns: []string{"primary_instance_id", "run_id", "owner_id", "created_at", "data", "updated_at"},
		keys:    []string{"primary_instance_id"},
	}
)

// snapshotTables lists source tables in load order.
var snapshotTables = []table{
	stagesTable, documentsTable, approvalsTable, referencesTable,
	contractsTable, priorStatesTable, visitsTable, ownersTable,
}

// selectSQL returns a SELECT over all of t's columns, ordered by its keys.
func (t table) selectSQL(qualified string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(t.columns, ", "), qualified, strings.Join(t.keys, ", "))
}

type tableRows struct {
	table table
	rows  [][]any
}

// snapshotRows flattens a snapshot into per-table rows. Rows repeating a key
// collapse to the last occurrence.
func snapshotRows(snap *model.Snapshot) ([]tableRows, error) {
	out := make([]tableRows, 0, len(snapshotTables))
	add := func(t table, rows [][]any) {
		out = append(out, tableRows{table: t, rows: dedupeRows(t, rows)})
	}

	var rows [][]any
	for _, s := range snap.Stages {
		rows = append(rows, []any{s.ID, s.OwnerID, s.EntityID, s.Type, s.CreatedAt.UTC()})
	}
	add(stagesTable, rows)

	rows = nil
	for _, d := range snap.Documents {
		attrs, err := encodeAttributes(d.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "store: encode attributes for document %s", d.ID)
		}
		rows = append(rows, []any{d.ID, d.StageInstanceID, d.DocType, d.Name, d.Status, attrs, d.CreatedAt.UTC()})
	}
	add(documentsTable, rows)

	rows = nil
	for _, a := range snap.Approvals {
		rows = append(rows, []any{a.DocID, a.Kind, a.CreatedAt.UTC(), a.OwnerID})
	}
	add(approvalsTable, rows)

	rows = nil
	for _, r := range snap.References {
		attrs, err := encodeAttributes(r.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "store: encode attributes for reference %s", r.ReferenceID)
		}
		rows = append(rows, []any{r.ReferenceID, r.Size, attrs})
	}
	add(referencesTable, rows)

	rows = nil
	for _, c := range snap.Contracts {
		rows = append(rows, []any{c.ID, c.ReferenceID, c.OwnerID, c.Active})
	}
	add(contractsTable, rows)

	rows = nil
	for _, p := range snap.PriorStates {
		rows = append(rows, []any{p.EntityID, p.ContractID, p.CreatedAt.UTC(), p.Size})
	}
	add(priorStatesTable, rows)

	rows = nil
	for _, v := range snap.Visits {
		rows = append(rows, []any{v.OwningInstanceID, v.ServiceTag, v.StartTime.UTC()})
	}
	add(visitsTable, rows)

	rows = nil
	for _, o := range snap.Owners {
		attrs, err := encodeAttributes(o.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "store: encode attributes for owner %s", o.OwnerID)
		}
		rows = append(rows, []any{o.OwnerID, attrs})
	}
	add(ownersTable, rows)

	return out, nil
}

// cycleRows converts cycles into cycles-table rows.
func cycleRows(runID string, cycles []model.Cycle, now time.Time) ([][]any, error) {
	rows := make([][]any, 0, len(cycles))
	for _, c := range cycles {
		data, err := json.Marshal(c)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal cycle %s", c.PrimaryInstanceID)
		}
		rows = append(rows, []any{c.PrimaryInstanceID, runID, c.OwnerID, c.CreatedAt.UTC(), string(data), now})
	}
	return dedupeRows(cyclesTable, rows), nil
}

func dedupeRows(t table, rows [][]any) [][]any {
	if len(rows) < 2 {
		return rows
	}
	keyIdx := make([]int, 0, len(t.keys))
	for _, k := range t.keys {
		for i, c := range t.columns {
			if c == k {
				keyIdx = append(keyIdx, i)
			}
		}
	}

	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for _, i := range keyIdx {
			fmt.Fprintf(&sb, "%v\x00", row[i])
		}
		key := sb.String()
		if i, ok := pos[key]; ok {
			out[i] = row
			continue
		}
		pos[key] = len(out)
		out = append(out, row)
	}
	return out
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAttributes(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// rowIter is the iteration surface shared by *sql.Rows and pgx.Rows.
type rowIter interface {
	scannable
	Next() bool
	Err() error
}

// scanInto reads every row of t from rows into snap.
func scanInto(snap *model.Snapshot, t table, rows rowIter) error {
	for rows.Next() {
		if err := scanRow(snap, t, rows); err != nil {
			return eris.Wrapf(err, "store: scan %s", t.name)
		}
	}
	return eris.Wrapf(rows.Err(), "store: iterate %s", t.name)
}

func scanRow(snap *model.Snapshot, t table, row scannable) error {
	switch t.name {
	case stagesTable.name:
		var s model.StageInstance
		if err := row.Scan(&s.ID, &s.OwnerID, &s.EntityID, &s.Type, &s.CreatedAt); err != nil {
			return err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		snap.Stages = append(snap.Stages, s)

	case documentsTable.name:
		var d model.Document
		var attrs []byte
		if err := row.Scan(&d.ID, &d.StageInstanceID, &d.DocType, &d.Name, &d.Status, &attrs, &d.CreatedAt); err != nil {
			return err
		}
		var err error
		if d.Attributes, err = decodeAttributes(attrs); err != nil {
			return eris.Wrapf(err, "decode attributes for document %s", d.ID)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		snap.Documents = append(snap.Documents, d)

	case approvalsTable.name:
		var a model.ApprovalEvent
		if err := row.Scan(&a.DocID, &a.Kind, &a.CreatedAt, &a.OwnerID); err != nil {
			return err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		snap.Approvals = append(snap.Approvals, a)

	case referencesTable.name:
		var r model.ReferenceRecord
		var attrs []byte
		if err := row.Scan(&r.ReferenceID, &r.Size, &attrs); err != nil {
			return err
		}
		var err error
		if r.Attributes, err = decodeAttributes(attrs); err != nil {
			return eris.Wrapf(err, "decode attributes for reference %s", r.ReferenceID)
		}
		snap.References = append(snap.References, r)

	case contractsTable.name:
		var c model.Contract
		if err := row.Scan(&c.ID, &c.ReferenceID, &c.OwnerID, &c.Active); err != nil {
			return err
		}
		snap.Contracts = append(snap.Contracts, c)

	case priorStatesTable.name:
		var p model.PriorState
		if err := row.Scan(&p.EntityID, &p.ContractID, &p.CreatedAt, &p.Size); err != nil {
			return err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		snap.PriorStates = append(snap.PriorStates, p)

	case visitsTable.name:
		var v model.VisitRecord
		if err := row.Scan(&v.OwningInstanceID, &v.ServiceTag, &v.StartTime); err != nil {
			return err
		}
		v.StartTime = v.StartTime.UTC()
		snap.Visits = append(snap.Visits, v)

	case ownersTable.name:
		var o model.OwnerContainer
		var attrs []byte
		if err := row.Scan(&o.OwnerID, &attrs); err != nil {
			return err
		}
		var err error
		if o.Attributes, err = decodeAttributes(attrs); err != nil {
			return eris.Wrapf(err, "decode attributes for owner %s", o.OwnerID)
		}
		snap.Owners = append(snap.Owners, o)

	default:
		return eris.Errorf("unknown table %q", t.name)
	}
	return nil
}

// scanCycles decodes the data column of a cycles query.
func scanCycles(rows rowIter) ([]model.Cycle, error) {
	var cycles []model.Cycle
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "store: scan cycle")
		}
		var c model.Cycle
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal cycle")
		}
		cycles = append(cycles, c)
	}
	return cycles, eris.Wrap(rows.Err(), "store: iterate cycles")
}

func marshalStats(stats *model.RunStats) (string, error) {
	if stats == nil {
		return "", nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal run stats")
	}
	return string(b), nil
}

func unmarshalStats(raw []byte) (*model.RunStats, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var stats model.RunStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run stats")
	}
	return &stats, nil
}
