package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/state"
)

var pruneLogCmd = &cobra.Command{
	Use:   "prune-log",
	Short: "Delete migration log entries older than the retention period",
	Long: `Remove migration_log rows older than migration.log_retention_days. Backup
records are never pruned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		return withLock(eng, cmd.Name(), func() error {
			n, err := eng.PruneLog(ctx, time.Now())
			eng.RecordStep(state.StepCleanup, "", err)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d log entries older than %d days.\n", n, eng.Config.Migration.LogRetentionDays)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pruneLogCmd)
}
