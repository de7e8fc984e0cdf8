package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/cycle"
	"github.com/sells-group/salescycle/internal/model"
	"github.com/sells-group/salescycle/internal/report"
	"github.com/sells-group/salescycle/internal/snapshot"
	"github.com/sells-group/salescycle/internal/store"
	sfpkg "github.com/sells-group/salescycle/pkg/salesforce"
)

var (
	runSource  string
	runInput   string
	runOutput  string
	runFormat  string
	runPersist bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the sales cycle report from a snapshot",
	Long: `Loads a snapshot of the source tables, correlates delivery stages to the
sales stages they continue, resolves milestone dates and writes one row per
sales stage instance.

Examples:
  # Offline run over a directory of CSV exports
  salescycle run --source csv --input ./export --output cycles.xlsx

  # Pull from Salesforce, persist snapshot and cycles, print JSON
  salescycle run --source salesforce --persist --format json --output -`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyRunFlags(cmd)

		if err := cfg.Validate("run"); err != nil {
			return eris.Wrap(err, "config: validation failed")
		}
		if runPersist {
			if err := cfg.Validate("store"); err != nil {
				return eris.Wrap(err, "config: validation failed")
			}
		}

		engine, err := cycle.NewEngine(cycle.RulesFromConfig(cfg.Cycle), cfg.Batch.MaxConcurrentOwners)
		if err != nil {
			return err
		}

		w, err := newReportWriter(cmd, engine.Rules())
		if err != nil {
			return err
		}

		var st store.Store
		if cfg.Source.Driver == "store" || runPersist {
			st, err = openMigratedStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		load, err := snapshotLoader(cfg.Source.Driver, cfg.Source.Path, st, engine.Rules())
		if err != nil {
			return err
		}

		plan := runPlan{
			source:  cfg.Source.Driver,
			load:    load,
			store:   st,
			persist: runPersist,
			engine:  engine,
			write:   w.write,
		}
		cycles, stats, err := plan.execute(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "cycles: %d (open: %d, with issues: %d, correlated: %d, uncorrelated: %d)\n",
			len(cycles), stats.OpenCycles, stats.RecordsWithIssues, stats.Correlated, stats.Uncorrelated)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "snapshot source: store, csv, xlsx or salesforce (default from config)")
	runCmd.Flags().StringVar(&runInput, "input", "", "CSV directory or XLSX workbook for offline sources")
	runCmd.Flags().StringVar(&runOutput, "output", "", "report path, or - for stdout (default from config)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "report format: csv, xlsx, json or yaml (default from config or output extension)")
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "save the snapshot and cycles to the store")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays explicitly set flags on the loaded config.
func applyRunFlags(cmd *cobra.Command) {
	if runSource != "" {
		cfg.Source.Driver = runSource
	}
	if runInput != "" {
		cfg.Source.Path = runInput
	}
	if runOutput != "" {
		cfg.Report.Output = runOutput
	}
	switch {
	case runFormat != "":
		cfg.Report.Format = runFormat
	case runOutput != "" && !cmd.Flags().Changed("format"):
		cfg.Report.Format = string(report.FormatFromPath(runOutput, report.Format(cfg.Report.Format)))
	}
}

// snapshotLoader returns the load step for a source driver.
func snapshotLoader(driver, path string, st store.Store, rules cycle.Rules) (func(context.Context) (*model.Snapshot, error), error) {
	switch driver {
	case "store":
		if st == nil {
			return nil, eris.New("run: store source without a store")
		}
		return st.LoadSnapshot, nil
	case "csv":
		return func(ctx context.Context) (*model.Snapshot, error) {
			return snapshot.LoadDir(ctx, path)
		}, nil
	case "xlsx":
		return func(ctx context.Context) (*model.Snapshot, error) {
			return snapshot.LoadWorkbook(ctx, path)
		}, nil
	case "salesforce":
		return func(ctx context.Context) (*model.Snapshot, error) {
			client, err := openSalesforce()
			if err != nil {
				return nil, err
			}
			return sfpkg.FetchSnapshot(ctx, client, rules.ApprovalKind)
		}, nil
	default:
		return nil, eris.Errorf("run: unknown source %q", driver)
	}
}

// runPlan is one load, correlate, write pass. store may be nil, in which case
// no run log is kept.
type runPlan struct {
	source  string
	load    func(context.Context) (*model.Snapshot, error)
	store   store.Store
	persist bool
	engine  *cycle.Engine
	write   func([]model.Cycle) error
}

func (p runPlan) execute(ctx context.Context) ([]model.Cycle, *model.RunStats, error) {
	log := zap.L().With(zap.String("component", "run"), zap.String("source", p.source))

	var run *model.Run
	if p.store != nil {
		var err error
		run, err = p.store.StartRun(ctx, p.source)
		if err != nil {
			return nil, nil, eris.Wrap(err, "run: start")
		}
		log = log.With(zap.String("run_id", run.ID))
	}
	fail := func(err error) ([]model.Cycle, *model.RunStats, error) {
		if run != nil {
			// The run context may already be cancelled.
			if ferr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
				log.Warn("run: record failure", zap.Error(ferr))
			}
		}
		return nil, nil, err
	}

	snap, err := p.load(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "run: load snapshot"))
	}

	if p.persist && p.source != "store" {
		if err := p.store.SaveSnapshot(ctx, snap); err != nil {
			return fail(eris.Wrap(err, "run: save snapshot"))
		}
	}

	cycles, stats, err := p.engine.Run(ctx, snap)
	if err != nil {
		return fail(err)
	}

	if err := p.write(cycles); err != nil {
		return fail(err)
	}

	if p.persist {
		if err := p.store.SaveCycles(ctx, run.ID, cycles); err != nil {
			return fail(eris.Wrap(err, "run: save cycles"))
		}
	}

	if run != nil {
		if err := p.store.CompleteRun(ctx, run.ID, stats); err != nil {
			return nil, nil, eris.Wrap(err, "run: complete")
		}
	}

	log.Info("run: complete", zap.Int("cycles", len(cycles)))
	return cycles, stats, nil
}

// reportWriter renders cycles to the configured output.
type reportWriter struct {
	output string
	format report.Format
	opts   report.Options
	stdout io.Writer
}

func newReportWriter(cmd *cobra.Command, rules cycle.Rules) (*reportWriter, error) {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load timezone %q", cfg.Report.Timezone)
	}
	return &reportWriter{
		output: cfg.Report.Output,
		format: format,
		opts:   report.Options{Location: loc, Milestones: rules.MilestoneNames()},
		stdout: cmd.OutOrStdout(),
	}, nil
}

func (w *reportWriter) write(cycles []model.Cycle) error {
	if w.output == "" || w.output == "-" {
		return report.Write(w.stdout, w.format, cycles, w.opts)
	}
	if err := report.WriteFile(w.output, w.format, cycles, w.opts); err != nil {
		return err
	}
	zap.L().Info("report written",
		zap.String("path", w.output),
		zap.String("format", string(w.format)),
		zap.Int("rows", len(cycles)),
	)
	return nil
}
