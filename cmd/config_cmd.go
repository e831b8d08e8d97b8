package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the schemashift configuration and test its connections.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		printDatabase("Source", cfg.Source)
		printDatabase("Target", cfg.Target)
		m := cfg.Migration
		fmt.Printf("  Migration:\n")
		fmt.Printf("    Target schema:  %s\n", m.TargetSchema)
		fmt.Printf("    Prefix:         %q\n", m.PrefixToRemove)
		fmt.Printf("    Batch size:     %d\n", m.BatchSize)
		fmt.Printf("    Backup schema:  %s\n", m.BackupSchema)
		fmt.Printf("    Log schema:     %s\n", m.LogSchema)
		fmt.Printf("    Log retention:  %d days\n", m.LogRetentionDays)
		fmt.Println()
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level:          %s\n", cfg.Logging.Level)
		fmt.Printf("    Directory:      %s\n", cfg.Logging.Directory)
		return nil
	},
}

func printDatabase(label string, d config.DatabaseConfig) {
	fmt.Printf("  %s:\n", label)
	if !d.Configured() {
		fmt.Println("    (not configured)")
		fmt.Println()
		return
	}
	fmt.Printf("    Host:           %s\n", d.Host)
	fmt.Printf("    Port:           %d\n", d.Port)
	fmt.Printf("    Database:       %s\n", d.Database)
	fmt.Printf("    Username:       %s\n", d.Username)
	fmt.Printf("    Password:       %s\n", maskSecret(d.Password))
	fmt.Printf("    SSL:            %t\n", d.SSL)
	fmt.Printf("    Max Conns:      %d\n", d.MaxConnections)
	fmt.Println()
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		var errors []string
		if !cfg.Target.Configured() {
			errors = append(errors, "target.host and target.database are required")
		}
		if cfg.Target.Username == "" {
			errors = append(errors, "target.username is required")
		}
		if cfg.Migration.TargetSchema == "" {
			errors = append(errors, "migration.target_schema is required")
		}

		if len(errors) > 0 {
			fmt.Println("Validation errors:")
			for _, e := range errors {
				fmt.Printf("  - %s\n", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errors))
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to the configured databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setup()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext()
		defer stop()

		failed := 0
		if err := eng.ConnectTarget(ctx); err != nil {
			fmt.Printf("  Target: %v\n", err)
			failed++
		} else {
			fmt.Printf("  Target: OK (audit tables in schema %s)\n", eng.Config.Migration.LogSchema)
		}
		if eng.Config.Source.Configured() {
			if err := eng.ConnectSource(ctx); err != nil {
				fmt.Printf("  Source: %v\n", err)
				failed++
			} else {
				fmt.Println("  Source: OK")
			}
		}
		if failed > 0 {
			return errFailed
		}
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
