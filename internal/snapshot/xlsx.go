package snapshot

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/model"
)

// LoadWorkbook reads one sheet per table from an XLSX workbook. Sheets are
// named after the tables (stages, documents, ...). Timestamps must be text
// cells in one of the accepted layouts.
func LoadWorkbook(ctx context.Context, path string) (*model.Snapshot, error) {
	log := zap.L().With(zap.String("component", "snapshot"), zap.String("workbook", path))

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	snap := &model.Snapshot{TakenAt: time.Now().UTC()}
	for i := range tables {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "xlsx: context cancelled")
		}
		def := &tables[i]
		sheet, ok := f.Sheet[def.name]
		if !ok {
			if def.required {
				return nil, eris.Errorf("xlsx: sheet %q not found", def.name)
			}
			continue
		}
		if err := decodeRows(def, "sheet "+def.name, sheetRows(sheet), snap); err != nil {
			return nil, err
		}
	}

	logCounts(log, snap)
	return snap, nil
}

func sheetRows(sheet *xlsx.Sheet) [][]string {
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
