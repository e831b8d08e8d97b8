package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/lock"
	"github.com/dmeworks/schemashift/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := state.Load("")
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		labels := map[state.Step]string{
			state.StepPlan:    "1. Plan renames",
			state.StepBuild:   "2. Build levels",
			state.StepRename:  "3. Execute renames",
			state.StepBackup:  "4. Backup and drop",
			state.StepVerify:  "5. Verify",
			state.StepCleanup: "6. Prune log",
		}

		next := st.Next()
		for _, step := range state.Order {
			status := "  "
			ss, seen := st.Steps[step]
			switch {
			case st.IsStepComplete(step):
				status = "OK"
			case seen && ss.Status == "failed":
				status = "!!"
			case step == next:
				status = ">>"
			}
			line := fmt.Sprintf("  [%s] %s", status, labels[step])
			if seen && !ss.CompletedAt.IsZero() {
				line += "  " + ss.CompletedAt.Format("2006-01-02 15:04")
			}
			if ss.Message != "" {
				line += "  (" + ss.Message + ")"
			}
			fmt.Println(line)
		}

		fmt.Println()
		if st.LastRunID != "" {
			fmt.Printf("Last run: %s\n", st.LastRunID)
		}
		if st.PlanPath != "" {
			fmt.Printf("Plan: %s\n", st.PlanPath)
		}
		if st.ReportPath != "" {
			fmt.Printf("Report: %s\n", st.ReportPath)
		}
		if st.VerifyPath != "" {
			fmt.Printf("Verification: %s\n", st.VerifyPath)
		}
		if h, alive, err := lock.Read(config.ExpandHome(lock.DefaultPath)); err == nil && alive {
			fmt.Printf("Lock: held by %s\n", h)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
