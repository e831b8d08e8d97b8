package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/engine"
	"github.com/dmeworks/schemashift/internal/levels"
	"github.com/dmeworks/schemashift/internal/state"
)

var (
	buildRename    bool
	buildSchema    string
	buildOutputDir string
)

var buildLevelsCmd = &cobra.Command{
	Use:   "build-levels",
	Short: "Create tables in the target in foreign key dependency order",
	Long: `Read the source catalog (from the source database, --catalog or --sql-dir),
group its tables into dependency levels and create them in the target one
level per transaction. Foreign keys that close a nullable cycle are added in
a final step.

With --output-dir the level scripts are written to files instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		cat, err := eng.SourceCatalog(ctx, catalogSource())
		if err != nil {
			return fmt.Errorf("reading source catalog: %w", err)
		}
		lp, err := eng.LevelPlan(cat, engine.BuildOptions{Rename: buildRename, Schema: buildSchema})
		if err != nil {
			var cycle *levels.CycleError
			if errors.As(err, &cycle) {
				fmt.Printf("Dependency cycle through NOT NULL foreign keys: %v\n", cycle.Tables)
			}
			return err
		}

		for _, lv := range lp.Levels {
			fmt.Printf("  Level %d: %d table(s)\n", lv.Number, len(lv.Tables))
		}
		if len(lp.Deferred) > 0 {
			fmt.Printf("  Deferred foreign keys: %d\n", len(lp.Deferred))
		}
		fmt.Println()

		if buildOutputDir != "" {
			paths, err := levels.WriteScripts(lp, buildOutputDir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Printf("  wrote %s\n", p)
			}
			return nil
		}

		if dryRun {
			tgt, err := eng.TargetCatalog(ctx)
			if err != nil {
				return err
			}
			eng.DryRun(tgt)
		}
		return withLock(eng, cmd.Name(), func() error {
			err := eng.BuildLevels(ctx, lp)
			eng.RecordStep(state.StepBuild, "", err)
			if err != nil {
				fmt.Println("Build stopped; levels already created are kept and the build can be rerun.")
				return err
			}
			fmt.Printf("Created %d table(s) in %d level(s).\n", lp.TableCount(), len(lp.Levels))
			return nil
		})
	},
}

func init() {
	buildLevelsCmd.Flags().BoolVar(&buildRename, "rename", false, "apply the naming rules to table names before building")
	buildLevelsCmd.Flags().StringVar(&buildSchema, "schema", "", "build only this schema")
	buildLevelsCmd.Flags().StringVar(&buildOutputDir, "output-dir", "", "write level scripts here instead of executing them")
	rootCmd.AddCommand(buildLevelsCmd)
}
