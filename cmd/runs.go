package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/salescycle/internal/model"
	"github.com/sells-group/salescycle/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect correlation run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List correlation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return eris.Wrap(err, "config: validation failed")
		}

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Source: source,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return eris.Wrap(err, "config: validation failed")
		}

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.StartedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 means all runs")
	runsCmd.AddCommand(runsStatsCmd)

	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("source", "", "filter by snapshot source (store, csv, xlsx, salesforce)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tPRIMARIES\tOPEN\tISSUES\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t---------\t----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}

		var primaries, open, issues string
		if r.Stats != nil {
			primaries = fmt.Sprint(r.Stats.Primaries)
			open = fmt.Sprint(r.Stats.OpenCycles)
			issues = fmt.Sprint(r.Stats.RecordsWithIssues)
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			r.Status,
			primaries,
			open,
			issues,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	AvgDurSecs float64
	// Latest is the most recent completed run's stats.
	Latest *model.RunStats
}

// computeRunStats aggregates runs ordered newest first.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
			}
			if s.Latest == nil {
				s.Latest = r.Stats
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if l := s.Latest; l != nil {
		_, _ = fmt.Fprintln(w, "Latest run:\t")
		_, _ = fmt.Fprintf(w, "  Primaries:\t%d\n", l.Primaries)
		_, _ = fmt.Fprintf(w, "  Correlated:\t%d\n", l.Correlated)
		_, _ = fmt.Fprintf(w, "  Uncorrelated:\t%d\n", l.Uncorrelated)
		_, _ = fmt.Fprintf(w, "  Deduplicated:\t%d\n", l.Deduplicated)
		_, _ = fmt.Fprintf(w, "  Open cycles:\t%d\n", l.OpenCycles)
		_, _ = fmt.Fprintf(w, "  With issues:\t%d\n", l.RecordsWithIssues)
	}
	_ = w.Flush()
}
