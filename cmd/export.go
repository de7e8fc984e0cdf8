package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/salescycle/internal/cycle"
	"github.com/sells-group/salescycle/internal/report"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the last persisted cycle report",
	Long:  "Renders the cycles saved by the most recent run --persist without recomputing them.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return eris.Wrap(err, "config: validation failed")
		}
		if exportOutput != "" {
			cfg.Report.Output = exportOutput
			if exportFormat == "" {
				cfg.Report.Format = string(report.FormatFromPath(exportOutput, report.Format(cfg.Report.Format)))
			}
		}
		if exportFormat != "" {
			cfg.Report.Format = exportFormat
		}

		w, err := newReportWriter(cmd, cycle.RulesFromConfig(cfg.Cycle))
		if err != nil {
			return err
		}

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cycles, err := st.LoadCycles(ctx)
		if err != nil {
			return eris.Wrap(err, "export: load cycles")
		}
		return w.write(cycles)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "report path, or - for stdout (default from config)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "report format: csv, xlsx, json or yaml")
	rootCmd.AddCommand(exportCmd)
}
