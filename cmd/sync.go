package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/cycle"
	sfpkg "github.com/sells-group/salescycle/pkg/salesforce"
)

var syncVerify bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull a Salesforce snapshot into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return eris.Wrap(err, "config: validation failed")
		}
		rules := cycle.RulesFromConfig(cfg.Cycle)

		client, err := openSalesforce()
		if err != nil {
			return err
		}
		if syncVerify {
			if err := sfpkg.VerifySchema(ctx, client); err != nil {
				return err
			}
		}

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := sfpkg.FetchSnapshot(ctx, client, rules.ApprovalKind)
		if err != nil {
			return eris.Wrap(err, "sync: fetch snapshot")
		}
		if err := st.SaveSnapshot(ctx, snap); err != nil {
			return eris.Wrap(err, "sync: save snapshot")
		}

		zap.L().Info("sync complete",
			zap.Int("stages", len(snap.Stages)),
			zap.Int("documents", len(snap.Documents)),
			zap.Int("approvals", len(snap.Approvals)),
		)
		fmt.Fprintf(os.Stderr, "synced %d stages, %d documents, %d approvals\n",
			len(snap.Stages), len(snap.Documents), len(snap.Approvals))
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncVerify, "verify", true, "check the org schema before pulling")
	rootCmd.AddCommand(syncCmd)
}
