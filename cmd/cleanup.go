package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/backup"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/state"
	"github.com/dmeworks/schemashift/internal/tui"
)

var (
	cleanupConfirm bool
	cleanupReport  string
)

var backupAndDropCmd = &cobra.Command{
	Use:   "backup-and-drop",
	Short: "Back up and drop tables superseded by their new-convention twin",
	Long: `Find tables whose target name already exists, copy each into the backup
schema, verify the copy's row count and drop the original. A table is only
dropped when a SUCCESS backup with a matching row count is on record.

Without --confirm you are asked to type a confirmation phrase.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()
		if err := prepareTarget(ctx, eng); err != nil {
			return err
		}

		targets, runID, err := eng.SupersededTargets(ctx)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			fmt.Println("No superseded tables found.")
			return nil
		}

		if !cleanupConfirm && !dryRun {
			items := make([]string, 0, len(targets))
			var cmds []ddl.Command
			for _, t := range targets {
				items = append(items, t.Schema+"."+t.Table)
				cmds = append(cmds, ddl.DropTableCommand{Schema: t.Schema, Table: t.Table, Cascade: true})
			}
			phrase := fmt.Sprintf("drop %d tables", len(targets))
			ok, err := tui.Confirm("Back up and drop superseded tables", items, ddl.Flatten(cmds...), phrase)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled; nothing was dropped.")
				return nil
			}
		}

		return withLock(eng, cmd.Name(), func() error {
			results, err := eng.BackupAndDrop(ctx, runID, targets)
			eng.RecordStep(state.StepBackup, runID, err)
			if err != nil {
				return err
			}

			var entries []audit.Entry
			var backups []audit.BackupRecord
			for _, r := range results {
				entries = append(entries, r.Entries...)
				if r.Backup.BackupTable != "" {
					backups = append(backups, r.Backup)
				}
				printResult(r)
			}
			fmt.Println()
			fmt.Print(tui.Summary("Cleanup "+runID, entries))

			rep := eng.Report(runID, "backup-and-drop", entries, backups, nil)
			if werr := writeRunReport(eng, rep, cleanupReport); werr != nil {
				eng.Logger.Warn("writing report", "error", werr)
			}
			if rep.Status == audit.StatusError {
				return errFailed
			}
			return nil
		})
	},
}

func printResult(r backup.Result) {
	name := r.Target.Schema + "." + r.Target.Table
	if r.Err != nil {
		fmt.Printf("  %s %s: %v\n", tui.Badge(audit.StatusError), name, r.Err)
		return
	}
	fmt.Printf("  %s %s -> %s.%s (%d rows)\n", tui.Badge(r.Status()), name,
		r.Backup.BackupSchema, r.Backup.BackupTable, r.Backup.RowCount)
}

func init() {
	backupAndDropCmd.Flags().BoolVar(&cleanupConfirm, "confirm", false, "skip the interactive confirmation")
	backupAndDropCmd.Flags().StringVar(&cleanupReport, "report", "", "report path (default: ~/.schemashift/reports/)")
	rootCmd.AddCommand(backupAndDropCmd)
}
