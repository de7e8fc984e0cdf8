package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/salescycle/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "salescycle",
	Short: "Sales cycle correlation and milestone reporting",
	Long:  "Correlates sales and delivery stage instances into one sales cycle per sale, resolves milestone dates from document approvals, and writes the cycle report.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
