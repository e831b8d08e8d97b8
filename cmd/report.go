package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/report"
)

var (
	reportRunID  string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the report of a run from the migration log",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		runID := reportRunID
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

		if err := eng.ConnectTarget(ctx); err != nil {
			return err
		}
		entries, err := eng.Repository().Entries(ctx, runID)
		if err != nil {
			return fmt.Errorf("reading migration log: %w", err)
		}
		backups, err := eng.Repository().Backups(ctx, runID)
		if err != nil {
			return fmt.Errorf("reading backup log: %w", err)
		}
		if len(entries) == 0 && len(backups) == 0 {
			return fmt.Errorf("no log entries for run %s", runID)
		}

		rep := eng.Report(runID, "report", entries, backups, nil)
		fmt.Print(report.FormatText(rep))
		if reportOutput != "" {
			if err := report.WriteJSON(rep, reportOutput); err != nil {
				return err
			}
			fmt.Printf("\nReport: %s\n", reportOutput)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "run id (default: the last recorded run)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "also write the report as JSON")
	rootCmd.AddCommand(reportCmd)
}
