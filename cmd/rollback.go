package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/config"
)

var (
	rollbackRunID     string
	rollbackOutputDir string
	rollbackExecute   bool
	rollbackConfirm   bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback-script",
	Short: "Generate (and optionally run) the undo script of a run",
	Long: `Read the migration and backup logs of a run and write a SQL script that
reverts its renames, newest first, and restores every dropped table from its
backup. Tables dropped without a SUCCESS backup are listed as comments.

With --execute --confirm the statements are also applied; each step is
attempted even if an earlier one fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, logger, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		runID := rollbackRunID
		if runID == "" {
			st, err := eng.LoadState()
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			runID = st.LastRunID
		}
		if runID == "" {
			return fmt.Errorf("no run given and no previous run recorded; use --run")
		}

		plan, err := eng.RollbackPlan(ctx, runID)
		if err != nil {
			return err
		}
		if plan.Empty() {
			fmt.Printf("Run %s changed nothing that can be undone.\n", runID)
			for _, s := range plan.Skipped {
				fmt.Printf("  cannot restore %s: no backup on record\n", s)
			}
			return nil
		}

		dir := rollbackOutputDir
		if dir == "" {
			dir = config.ExpandHome("~/.schemashift/rollback")
		}
		path, err := plan.WriteFile(dir)
		if err != nil {
			return err
		}
		fmt.Printf("Rollback script: %s (%d rename(s), %d restore(s))\n", path, len(plan.Renames), len(plan.Restores))
		for _, s := range plan.Skipped {
			fmt.Printf("  cannot restore %s: no backup on record\n", s)
		}

		if !rollbackExecute {
			return nil
		}
		if !rollbackConfirm {
			fmt.Println("Executing the rollback requires --confirm.")
			return nil
		}

		return withLock(eng, cmd.Name(), func() error {
			result, rbRunID, err := eng.ExecuteRollback(ctx, plan)
			if err != nil {
				return err
			}
			logger.Info("rollback finished", "run_id", rbRunID)
			fmt.Printf("Rollback run %s. Reverted: %d, restored: %d\n", rbRunID, len(result.Reverted), len(result.Restored))
			if len(result.Errors) > 0 {
				fmt.Println("Errors during rollback:")
				for _, e := range result.Errors {
					fmt.Printf("  - %s\n", e)
				}
				return errFailed
			}
			return nil
		})
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackRunID, "run", "", "run id to undo (default: the last recorded run)")
	rollbackCmd.Flags().StringVar(&rollbackOutputDir, "output-dir", "", "script directory (default: ~/.schemashift/rollback)")
	rollbackCmd.Flags().BoolVar(&rollbackExecute, "execute", false, "apply the script after writing it")
	rollbackCmd.Flags().BoolVar(&rollbackConfirm, "confirm", false, "confirm execution")
	rootCmd.AddCommand(rollbackCmd)
}
