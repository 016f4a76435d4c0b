package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata-migrate/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "refdata-migrate",
	Short: "Hierarchical reference data migration pipeline",
	Long:  "Migrates administrative locations, organizations and user accounts from a source record system (database or CSV) into a destination platform over its authenticated REST API.",
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
