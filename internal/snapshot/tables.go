// Package snapshot reads source-of-record tables from offline exports: a
// directory of CSV files or a single XLSX workbook with one sheet per table.
package snapshot

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/model"
)

// tableDef describes one exported table. Columns not listed in known are
// folded into the Attributes map of tables that carry one.
type tableDef struct {
	name     string
	required bool
	known    []string
	decode   func(rec record, snap *model.Snapshot) error
}

var tables = []tableDef{
	{
		name:     "stages",
		required: true,
		known:    []string{"id", "owner_id", "entity_id", "type", "created_at"},
		decode: func(rec record, snap *model.Snapshot) error {
			created, err := rec.time("created_at")
			if err != nil {
				return err
			}
			id, err := rec.require("id")
			if err != nil {
				return err
			}
			snap.Stages = append(snap.Stages, model.StageInstance{
				ID:        id,
				OwnerID:   rec.get("owner_id"),
				EntityID:  rec.get("entity_id"),
				Type:      rec.get("type"),
				CreatedAt: created,
			})
			return nil
		},
	},
	{
		name:  "documents",
		known: []string{"id", "stage_instance_id", "doc_type", "name", "status", "attributes", "created_at"},
		decode: func(rec record, snap *model.Snapshot) error {
			id, err := rec.require("id")
			if err != nil {
				return err
			}
			created, err := rec.optionalTime("created_at")
			if err != nil {
				return err
			}
			attrs, err := rec.attributes()
			if err != nil {
				return err
			}
			snap.Documents = append(snap.Documents, model.Document{
				ID:              id,
				StageInstanceID: rec.get("stage_instance_id"),
				DocType:         rec.get("doc_type"),
				Name:            rec.get("name"),
				Status:          rec.get("status"),
				Attributes:      attrs,
				CreatedAt:       created,
			})
			return nil
		},
	},
	{
		name:  "approvals",
		known: []string{"doc_id", "owner_id", "kind", "created_at"},
		decode: func(rec record, snap *model.Snapshot) error {
			created, err := rec.time("created_at")
			if err != nil {
				return err
			}
			snap.Approvals = append(snap.Approvals, model.ApprovalEvent{
				DocID:     rec.get("doc_id"),
				OwnerID:   rec.get("owner_id"),
				Kind:      rec.get("kind"),
				CreatedAt: created,
			})
			return nil
		},
	},
	{
		name:  "references",
		known: []string{"reference_id", "size", "attributes"},
		decode: func(rec record, snap *model.Snapshot) error {
			attrs, err := rec.attributes()
			if err != nil {
				return err
			}
			snap.References = append(snap.References, model.ReferenceRecord{
				ReferenceID: strings.TrimSpace(rec.get("reference_id")),
				Size:        rec.get("size"),
				Attributes:  attrs,
			})
			return nil
		},
	},
	{
		name:  "contracts",
		known: []string{"id", "reference_id", "owner_id", "active"},
		decode: func(rec record, snap *model.Snapshot) error {
			active, err := rec.bool("active")
			if err != nil {
				return err
			}
			snap.Contracts = append(snap.Contracts, model.Contract{
				ID:          rec.get("id"),
				ReferenceID: rec.get("reference_id"),
				OwnerID:     rec.get("owner_id"),
				Active:      active,
			})
			return nil
		},
	},
	{
		name:  "prior_states",
		known: []string{"entity_id", "contract_id", "created_at", "size"},
		decode: func(rec record, snap *model.Snapshot) error {
			created, err := rec.time("created_at")
			if err != nil {
				return err
			}
			snap.PriorStates = append(snap.PriorStates, model.PriorState{
				EntityID:   rec.get("entity_id"),
				ContractID: rec.get("contract_id"),
				CreatedAt:  created,
				Size:       rec.get("size"),
			})
			return nil
		},
	},
	{
		name:  "visits",
		known: []string{"owning_instance_id", "service_tag", "start_time"},
		decode: func(rec record, snap *model.Snapshot) error {
			start, err := rec.time("start_time")
			if err != nil {
				return err
			}
			snap.Visits = append(snap.Visits, model.VisitRecord{
				OwningInstanceID: rec.get("owning_instance_id"),
				ServiceTag:       rec.get("service_tag"),
				StartTime:        start,
			})
			return nil
		},
	},
	{
		name:  "owners",
		known: []string{"owner_id", "attributes"},
		decode: func(rec record, snap *model.Snapshot) error {
			attrs, err := rec.attributes()
			if err != nil {
				return err
			}
			snap.Owners = append(snap.Owners, model.OwnerContainer{
				OwnerID:    rec.get("owner_id"),
				Attributes: attrs,
			})
			return nil
		},
	},
}

// timeLayouts are tried in order. Values without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses a timestamp cell and normalizes it to UTC.
func ParseTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized time %q", raw)
}

// record is one data row addressed by header name.
type record struct {
	def    *tableDef
	header map[string]int
	cols   []string
	cells  []string
}

func newRecord(def *tableDef, header []string) record {
	idx := make(map[string]int, len(header))
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		cols[i] = h
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return record{def: def, header: idx, cols: cols}
}

func (r record) with(cells []string) record {
	r.cells = cells
	return r
}

func (r record) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return r.cells[i]
}

func (r record) require(col string) (string, error) {
	v := strings.TrimSpace(r.get(col))
	if v == "" {
		return "", eris.Errorf("missing %s", col)
	}
	return v, nil
}

func (r record) time(col string) (time.Time, error) {
	v, err := r.require(col)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTime(v)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse %s", col)
	}
	return t, nil
}

func (r record) optionalTime(col string) (time.Time, error) {
	if strings.TrimSpace(r.get(col)) == "" {
		return time.Time{}, nil
	}
	return r.time(col)
}

func (r record) bool(col string) (bool, error) {
	v := strings.TrimSpace(r.get(col))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, eris.Wrapf(err, "parse %s", col)
	}
	return b, nil
}

// attributes merges the JSON "attributes" cell with every unknown column.
// Unknown columns win over JSON keys of the same name.
func (r record) attributes() (map[string]string, error) {
	attrs := make(map[string]string)
	if raw := strings.TrimSpace(r.get("attributes")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return nil, eris.Wrap(err, "parse attributes")
		}
	}

	known := make(map[string]bool, len(r.def.known))
	for _, k := range r.def.known {
		known[k] = true
	}
	for i, col := range r.cols {
		if col == "" || known[col] || i >= len(r.cells) {
			continue
		}
		if v := r.cells[i]; v != "" {
			attrs[col] = v
		}
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

// tableDecoder turns raw rows into model values, the first row being the
// header.
type tableDecoder struct {
	def    *tableDef
	source string
	base   record
	line   int
}

func newTableDecoder(def *tableDef, source string) *tableDecoder {
	return &tableDecoder{def: def, source: source}
}

func (d *tableDecoder) add(cells []string, snap *model.Snapshot) error {
	d.line++
	if d.line == 1 {
		d.base = newRecord(d.def, cells)
		return nil
	}
	if blank(cells) {
		return nil
	}
	if err := d.def.decode(d.base.with(cells), snap); err != nil {
		return eris.Wrapf(err, "snapshot: %s line %d", d.source, d.line)
	}
	return nil
}

func (d *tableDecoder) finish() error {
	if d.line == 0 && d.def.required {
		return eris.Errorf("snapshot: %s: missing header row", d.source)
	}
	return nil
}

// decodeRows decodes a fully materialized table.
func decodeRows(def *tableDef, source string, rows [][]string, snap *model.Snapshot) error {
	d := newTableDecoder(def, source)
	for _, cells := range rows {
		if err := d.add(cells, snap); err != nil {
			return err
		}
	}
	return d.finish()
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
