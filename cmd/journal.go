package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/refdata-migrate/internal/journal"
)

var journalRunID string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List failed batches from the migration journal",
	Long:  "Reads the batch journal and prints every batch that resolved with an error or a non-2xx status. The pipeline is at-least-once; this is how an operator decides whether a re-run is needed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close() //nolint:errcheck

		failures, err := jnl.Failures(cmd.Context(), journalRunID)
		if err != nil {
			return err
		}

		if len(failures) == 0 {
			fmt.Println("no failed batches")
			return nil
		}
		for _, f := range failures {
			fmt.Printf("%s\trun=%s\tstage=%s\tbatch=%d\tsize=%d\tstatus=%d\terr=%s\n",
				f.RecordedAt.Format("2006-01-02 15:04:05"), f.RunID, f.Stage, f.Index, f.Size, f.Status, f.Err)
		}
		return nil
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalRunID, "run", "", "filter by run id (default: all runs)")
	rootCmd.AddCommand(journalCmd)
}
