package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/schema"
)

var (
	discoverSide   string
	discoverOutput string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Dump a database catalog to YAML",
	Long: `Connect to the source or target database and write its tables, columns,
primary keys, foreign keys and row estimates to a YAML file. The file can be
passed back with --catalog or --source-catalog for offline planning and
dry runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		var cat *schema.Catalog
		switch discoverSide {
		case "target":
			cat, err = eng.TargetCatalog(ctx)
		case "source":
			cat, err = eng.SourceCatalog(ctx, catalogSource())
		default:
			return fmt.Errorf("--from must be source or target, got %q", discoverSide)
		}
		if err != nil {
			return fmt.Errorf("discovering %s schema: %w", discoverSide, err)
		}

		fmt.Println(cat.Summary())

		outputPath := discoverOutput
		if outputPath == "" {
			outputPath = filepath.Join("output", discoverSide+"-catalog.yaml")
		}
		if err := cat.WriteYAML(outputPath); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
		fmt.Printf("\nCatalog written to %s\n", outputPath)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverSide, "from", "target", "database to read (source or target)")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "output path (default: output/<from>-catalog.yaml)")
	rootCmd.AddCommand(discoverCmd)
}
