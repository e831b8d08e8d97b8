package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/engine"
	"github.com/dmeworks/schemashift/internal/plan"
	"github.com/dmeworks/schemashift/internal/report"
	"github.com/dmeworks/schemashift/internal/state"
	"github.com/dmeworks/schemashift/internal/tui"
)

var (
	planOutput   string
	renameReport string
)

var planRenameCmd = &cobra.Command{
	Use:   "plan-rename",
	Short: "Show which tables would be renamed",
	Long: `Compute target names for every table in the target schema, check each for
collisions and log the pre-validation result. Nothing is renamed.`,
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

		batch, err := eng.PlanRename(ctx)
		eng.RecordStep(state.StepPlan, runIDOf(batch), err)
		if err != nil {
			return err
		}

		for _, p := range batch.Plans {
			fmt.Printf("  %s %s.%s -> %s\n", tui.Badge(p.Status), p.Schema, p.SourceName, p.TargetName)
		}
		fmt.Println()
		fmt.Print(tui.Summary("Rename plan "+batch.RunID, batch.Entries))
		if len(batch.Superseded) > 0 {
			fmt.Printf("\n%d table(s) have a new-convention twin; see `schemashift backup-and-drop`.\n", len(batch.Superseded))
		}

		if planOutput != "" {
			data, err := yaml.Marshal(batch)
			if err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}
			if err := os.WriteFile(planOutput, data, 0o644); err != nil {
				return fmt.Errorf("writing plan: %w", err)
			}
			fmt.Printf("\nPlan written to %s\n", planOutput)
			if eng.State != nil && !eng.IsDryRun() {
				eng.State.PlanPath = planOutput
				_ = eng.SaveState()
			}
		}
		return nil
	},
}

var executeRenameCmd = &cobra.Command{
	Use:   "execute-rename",
	Short: "Rename every ready table in dependency order",
	Long: `Plan and execute the renames of the target schema. Each rename runs in its
own transaction; a failed rename is logged and the batch continues.`,
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

		return withLock(eng, cmd.Name(), func() error {
			batch, entries, err := eng.ExecuteRename(ctx)
			eng.RecordStep(state.StepRename, runIDOf(batch), err)
			if batch == nil {
				return err
			}
			fmt.Print(tui.Summary("Renames "+batch.RunID, entries))

			rep := eng.Report(batch.RunID, "execute-rename", entries, nil, nil)
			if werr := writeRunReport(eng, rep, renameReport); werr != nil {
				eng.Logger.Warn("writing report", "error", werr)
			}
			if err != nil {
				return err
			}
			if rep.Status == audit.StatusError {
				return errFailed
			}
			return nil
		})
	},
}

func init() {
	planRenameCmd.Flags().StringVarP(&planOutput, "output", "o", "", "write the plan as YAML to this file")
	executeRenameCmd.Flags().StringVar(&renameReport, "report", "", "report path (default: ~/.schemashift/reports/)")
	rootCmd.AddCommand(planRenameCmd)
	rootCmd.AddCommand(executeRenameCmd)
}

func runIDOf(b *plan.Batch) string {
	if b == nil {
		return ""
	}
	return b.RunID
}

// writeRunReport writes rep as JSON to path, or to the reports directory
// when path is empty, and records the location in the state.
func writeRunReport(eng *engine.Engine, rep *report.RunReport, path string) error {
	if path == "" {
		if eng.IsDryRun() {
			return nil
		}
		path = filepath.Join(config.ExpandHome("~/.schemashift/reports"),
			fmt.Sprintf("%s_%s.json", rep.Command, rep.RunID))
	}
	if err := report.WriteJSON(rep, path); err != nil {
		return err
	}
	fmt.Printf("\nReport: %s\n", path)
	if eng.State != nil && !eng.IsDryRun() {
		eng.State.ReportPath = path
		return eng.SaveState()
	}
	return nil
}
