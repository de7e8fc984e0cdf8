// Package report renders cycle rows as CSV, XLSX, JSON or YAML.
package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/salescycle/internal/model"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// TimeLayout is used for every timestamp cell.
const TimeLayout = "2006-01-02 15:04:05"

// ParseFormat validates a format name. "yml" is accepted as yaml.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// FormatFromPath infers a format from a file extension, falling back to def.
func FormatFromPath(path string, def Format) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return def
}

// Options controls rendering.
type Options struct {
	// Location renders timestamps; nil means UTC.
	Location *time.Location
	// Milestones lists milestone columns in order.
	Milestones []string
}

func (o Options) loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Columns returns the header row.
func Columns(opts Options) []string {
	cols := []string{
		"primary_instance_id",
		"owner_id",
		"entity_id",
		"created_at",
		"secondary_instance_id",
		"secondary_created_at",
	}
	for _, m := range opts.Milestones {
		cols = append(cols, m+"_at")
	}
	return append(cols,
		"interested",
		"interest_status",
		"not_interested_at",
		"terminated",
		"terminated_at",
		"reference_id",
		"reference_size",
		"contract_id",
		"contract_active",
		"visit_start",
		"previous_size",
		"new_size",
		"size_delta",
		"assignee",
		"issues",
	)
}

// Row renders one cycle in Columns order. Null values render as "".
func Row(c model.Cycle, opts Options) []string {
	loc := opts.loc()
	ts := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.In(loc).Format(TimeLayout)
	}
	created := c.CreatedAt

	row := []string{
		c.PrimaryInstanceID,
		c.OwnerID,
		c.EntityID,
		ts(&created),
		c.SecondaryInstanceID,
		ts(c.SecondaryCreatedAt),
	}
	for _, m := range opts.Milestones {
		row = append(row, ts(c.Milestones.Get(m)))
	}
	return append(row,
		strconv.FormatBool(c.Interested),
		c.InterestStatus,
		ts(c.NotInterestedAt),
		strconv.FormatBool(c.Terminated),
		ts(c.TerminatedAt),
		c.ReferenceID,
		num(c.ReferenceSize),
		c.ContractID,
		optBool(c.ContractActive),
		ts(c.VisitStart),
		num(c.PreviousSize),
		num(c.NewSize),
		num(c.SizeDelta),
		c.Assignee,
		strings.Join(c.Issues, "; "),
	)
}

func num(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

// Write renders cycles to w.
func Write(w io.Writer, format Format, cycles []model.Cycle, opts Options) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, cycles, opts)
	case FormatJSON:
		return writeJSON(w, cycles, opts)
	case FormatYAML:
		return writeYAML(w, cycles, opts)
	case FormatXLSX:
		f, err := buildWorkbook(cycles, opts)
		if err != nil {
			return err
		}
		return eris.Wrap(f.Write(w), "report: write xlsx")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// WriteFile renders cycles to path, creating or truncating it.
func WriteFile(path string, format Format, cycles []model.Cycle, opts Options) error {
	if format == FormatXLSX {
		return WriteXLSX(path, cycles, opts)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create file")
	}
	if err := Write(f, format, cycles, opts); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "report: close file")
}

func writeCSV(w io.Writer, cycles []model.Cycle, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(opts)); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for _, c := range cycles {
		if err := cw.Write(Row(c, opts)); err != nil {
			return eris.Wrapf(err, "report: write row %s", c.PrimaryInstanceID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// writeJSON emits the model encoding with timestamps moved to opts.Location.
func writeJSON(w io.Writer, cycles []model.Cycle, opts Options) error {
	loc := opts.loc()
	out := make([]model.Cycle, len(cycles))
	for i, c := range cycles {
		out[i] = inLocation(c, loc)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(out), "report: encode json")
}

func inLocation(c model.Cycle, loc *time.Location) model.Cycle {
	move := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := t.In(loc)
		return &v
	}
	c.CreatedAt = c.CreatedAt.In(loc)
	c.SecondaryCreatedAt = move(c.SecondaryCreatedAt)
	c.NotInterestedAt = move(c.NotInterestedAt)
	c.TerminatedAt = move(c.TerminatedAt)
	c.VisitStart = move(c.VisitStart)
	if c.Milestones != nil {
		ms := make(model.MilestoneSet, len(c.Milestones))
		for k, v := range c.Milestones {
			ms[k] = v.In(loc)
		}
		c.Milestones = ms
	}
	return c
}

// writeYAML emits one mapping per cycle, keys in Columns order, nulls as ~.
func writeYAML(w io.Writer, cycles []model.Cycle, opts Options) error {
	cols := Columns(opts)
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, c := range cycles {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for i, v := range Row(c, opts) {
			val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
			if v == "" {
				val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}
			}
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: cols[i]},
				val,
			)
		}
		doc.Content = append(doc.Content, m)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

// WriteXLSX writes a single-sheet workbook to path.
func WriteXLSX(path string, cycles []model.Cycle, opts Options) error {
	f, err := buildWorkbook(cycles, opts)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Save(path), "report: save xlsx")
}

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "cycles"

func buildWorkbook(cycles []model.Cycle, opts Options) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "report: add sheet")
	}
	addRow(sheet, Columns(opts))
	for _, c := range cycles {
		addRow(sheet, Row(c, opts))
	}
	return f, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
