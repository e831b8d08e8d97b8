package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/engine"
	"github.com/dmeworks/schemashift/internal/state"
	"github.com/dmeworks/schemashift/internal/verify"
)

var (
	verifySourceFile string
	verifySourceSQL  string
	verifyRename     bool
	verifyCountRows  bool
	verifyOutput     string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the source catalog with the target",
	Long: `Read the source and target catalogs concurrently and report tables missing
from the target, tables only in the target and, with --count-rows, row count
mismatches. With --rename, source names are mapped through the naming rules
and into the target schema before comparison.

Exits non-zero when the comparison fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		src := engine.CatalogSource{File: verifySourceFile, SQLDir: verifySourceSQL}
		rep, err := eng.Verify(ctx, src, verifyRename, verifyCountRows)
		if err != nil {
			var conn *verify.ConnectivityError
			if errors.As(err, &conn) {
				fmt.Printf("Cannot reach the %s database.\n", conn.Side)
			}
			eng.RecordStep(state.StepVerify, "", err)
			return err
		}

		fmt.Println(rep.Summary())
		for _, m := range rep.Missing {
			fmt.Printf("  missing  %s: %s\n", m.FullName, m.Description)
		}
		for _, x := range rep.Extra {
			fmt.Printf("  extra    %s: %s\n", x.FullName, x.Description)
		}
		for _, r := range rep.RowMismatches {
			fmt.Printf("  rows     %s\n", r.Message)
		}

		if verifyOutput != "" {
			if err := rep.WriteJSON(verifyOutput); err != nil {
				return err
			}
			fmt.Printf("\nVerification report: %s\n", verifyOutput)
		}

		var failure error
		if rep.Status != "PASS" {
			failure = errFailed
		}
		eng.RecordStep(state.StepVerify, "", failure)
		if eng.State != nil && verifyOutput != "" {
			eng.State.VerifyPath = verifyOutput
			_ = eng.SaveState()
		}
		return failure
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifySourceFile, "source-catalog", "", "read the source catalog from a YAML dump")
	verifyCmd.Flags().StringVar(&verifySourceSQL, "source-sql-dir", "", "read the source catalog from .sql scripts")
	verifyCmd.Flags().BoolVar(&verifyRename, "rename", false, "map source names through the naming rules")
	verifyCmd.Flags().BoolVar(&verifyCountRows, "count-rows", false, "compare exact row counts of matched tables")
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "", "write the report as JSON to this file")
	rootCmd.AddCommand(verifyCmd)
}
