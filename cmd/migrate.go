package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema",
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

		fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
