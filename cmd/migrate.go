package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata-migrate/internal/artifact"
	"github.com/sells-group/refdata-migrate/internal/auth"
	"github.com/sells-group/refdata-migrate/internal/bus"
	"github.com/sells-group/refdata-migrate/internal/engine"
	"github.com/sells-group/refdata-migrate/internal/gateway"
	"github.com/sells-group/refdata-migrate/internal/journal"
	"github.com/sells-group/refdata-migrate/internal/pipeline"
	"github.com/sells-group/refdata-migrate/internal/source"
	"github.com/sells-group/refdata-migrate/internal/tracker"
)

var (
	migrateSourceFile string
	migrateUsersFile  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the full migration pipeline",
	Long:  "Runs the staged migration: locations, organizations, organization-location links, users, user groups. Locations come from the CSV given by --source-file, or from the configured source database when the flag is omitted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Auth.TokenURL == "" {
			return eris.New("auth token URL is required (REFDATA_AUTH_TOKEN_URL)")
		}
		if migrateSourceFile == "" && cfg.Source.DatabaseURL == "" {
			return eris.New("either --source-file or a source database URL is required")
		}

		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close() //nolint:errcheck

		art, err := artifact.NewWriter(cfg.Artifact.Dir, cfg.Worker.PoolSize)
		if err != nil {
			return err
		}

		b := bus.New()
		trk := tracker.New(b)
		eng := engine.New(trk, jnl, cfg.Request.Interval(), cfg.Data.Limit)
		gw := gateway.New(gateway.Options{
			Credentials:  auth.NewClient(auth.Config(cfg.Auth)),
			MaxFailures:  cfg.Request.MaxFailures,
			CallTimeout:  cfg.Request.Timeout(),
			ResetTimeout: cfg.Request.ResetTimeout(),
		})

		opts := pipeline.Options{
			Config:   cfg,
			Bus:      b,
			Tracker:  trk,
			Engine:   eng,
			Gateway:  gw,
			Artifact: art,
		}

		if migrateSourceFile == "" {
			src, err := source.Connect(ctx, cfg.Source.DatabaseURL)
			if err != nil {
				return err
			}
			defer src.Close()
			opts.Source = src
		}

		runErr := pipeline.New(opts).Run(ctx, migrateSourceFile, migrateUsersFile)

		if err := art.Close(ctx); err != nil {
			zap.L().Error("artifact writer close", zap.Error(err))
		}
		if runErr != nil {
			return eris.Wrap(runErr, "migrate")
		}

		zap.L().Info("migration finished",
			zap.String("run_id", jnl.RunID()),
			zap.String("journal", cfg.Journal.Path),
			zap.String("artifacts", cfg.Artifact.Dir),
		)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSourceFile, "source-file", "", "locations CSV path (omit to poll the source database)")
	migrateCmd.Flags().StringVar(&migrateUsersFile, "users-file", "", "users CSV path (optional)")
	rootCmd.AddCommand(migrateCmd)
}
