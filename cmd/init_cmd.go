package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through prompts to create a schemashift configuration file at
~/.schemashift/schemashift.yaml. Passwords may be given as ${ENV:NAME},
${VAULT:path#key} or ${AWS_SM:secret#key} references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("schemashift Configuration Setup")
		fmt.Println("===============================")
		fmt.Println()

		fmt.Println("Target Database (renamed in place)")
		fmt.Println("----------------------------------")
		target, err := promptDatabase(reader, "")
		if err != nil {
			return err
		}
		fmt.Println()

		fmt.Println("Source Database (compared by verify; leave host empty to skip)")
		fmt.Println("--------------------------------------------------------------")
		var source config.DatabaseConfig
		if host := prompt(reader, "Host", ""); host != "" {
			source, err = promptDatabase(reader, host)
			if err != nil {
				return err
			}
		}
		fmt.Println()

		fmt.Println("Migration")
		fmt.Println("---------")
		defaults := config.Default().Migration
		migration := config.MigrationConfig{
			TargetSchema:   prompt(reader, "Schema to rename", defaults.TargetSchema),
			PrefixToRemove: prompt(reader, "Prefix to remove", defaults.PrefixToRemove),
			BackupSchema:   prompt(reader, "Backup schema", defaults.BackupSchema),
			LogSchema:      prompt(reader, "Audit log schema", defaults.LogSchema),

			LogRetentionDays: defaults.LogRetentionDays,
		}
		batch, err := strconv.Atoi(prompt(reader, "Batch size", strconv.Itoa(defaults.BatchSize)))
		if err != nil {
			return fmt.Errorf("invalid batch size: %w", err)
		}
		migration.BatchSize = batch
		fmt.Println()

		cfg := &config.Config{
			Version:   config.CurrentVersion,
			Source:    source,
			Target:    target,
			Migration: migration,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}
		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  schemashift config check     - test the connections")
		fmt.Println("  schemashift plan-rename      - see which tables would be renamed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// promptDatabase asks for connection details. A non-empty host skips the
// host prompt.
func promptDatabase(reader *bufio.Reader, host string) (config.DatabaseConfig, error) {
	if host == "" {
		host = prompt(reader, "Host", "localhost")
	}
	portStr := prompt(reader, "Port", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("invalid port: %s", portStr)
	}
	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Database: prompt(reader, "Database name", ""),
		Username: prompt(reader, "Username", ""),
		Password: prompt(reader, "Password", ""),
		SSL:      strings.EqualFold(prompt(reader, "Require SSL (y/n)", "n"), "y"),
	}, nil
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
