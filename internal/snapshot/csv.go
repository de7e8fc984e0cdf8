package snapshot

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/model"
)

// streamCSV reads a CSV file and sends rows to a channel, header included.
// Both channels are closed when processing completes.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1 // allow variable fields
		reader.LazyQuotes = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// LoadDir reads <table>.csv files from dir. stages.csv is required; any other
// missing file yields an empty table.
func LoadDir(ctx context.Context, dir string) (*model.Snapshot, error) {
	log := zap.L().With(zap.String("component", "snapshot"), zap.String("dir", dir))
	snap := &model.Snapshot{TakenAt: time.Now().UTC()}

	for i := range tables {
		def := &tables[i]
		name := def.name + ".csv"
		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) && !def.required {
			log.Debug("snapshot: optional table missing", zap.String("file", name))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "snapshot: open %s", name)
		}

		err = loadCSV(ctx, f, def, name, snap)
		f.Close() //nolint:errcheck
		if err != nil {
			return nil, err
		}
	}

	logCounts(log, snap)
	return snap, nil
}

func loadCSV(ctx context.Context, r io.Reader, def *tableDef, name string, snap *model.Snapshot) error {
	// Cancelling on return stops the reader goroutine if decoding fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := streamCSV(ctx, r)
	d := newTableDecoder(def, name)
	for cells := range rowCh {
		if err := d.add(cells, snap); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil {
		return eris.Wrapf(err, "snapshot: read %s", name)
	}
	return d.finish()
}

func logCounts(log *zap.Logger, snap *model.Snapshot) {
	log.Info("snapshot: loaded",
		zap.Int("stages", len(snap.Stages)),
		zap.Int("documents", len(snap.Documents)),
		zap.Int("approvals", len(snap.Approvals)),
		zap.Int("references", len(snap.References)),
		zap.Int("contracts", len(snap.Contracts)),
		zap.Int("prior_states", len(snap.PriorStates)),
		zap.Int("visits", len(snap.Visits)),
		zap.Int("owners", len(snap.Owners)),
	)
}
