package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/engine"
	"github.com/dmeworks/schemashift/internal/lock"
	"github.com/dmeworks/schemashift/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	dryRun      bool
	catalogFile string
	sqlDir      string
	version     = "dev"
	commit      = "none"
	date        = "unknown"
)

// errFailed is returned after a run that produced ERROR entries; the
// details have already been printed.
var errFailed = errors.New("run finished with errors")

var rootCmd = &cobra.Command{
	Use:   "schemashift",
	Short: "schemashift - safe table renames and schema reconciliation for PostgreSQL",
	Long: `schemashift renames legacy tables to the plural, prefix-free convention,
rebuilds schemas in foreign key order, backs up and drops superseded tables,
and verifies the result against the source database.

Every step is recorded in an append-only migration log in the target
database, from which a rollback script can be generated.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.schemashift/schemashift.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "simulate statements against an in-memory copy of the catalog")
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "read the catalog from a YAML dump instead of the database")
	rootCmd.PersistentFlags().StringVar(&sqlDir, "sql-dir", "", "read the catalog from a directory of .sql scripts")
}

func catalogSource() engine.CatalogSource {
	return engine.CatalogSource{File: catalogFile, SQLDir: sqlDir}
}

// setup loads the config, starts logging and returns a new engine.
func setup() (*engine.Engine, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.Setup(level, cfg.Logging.Directory)
	if err != nil {
		return nil, nil, err
	}
	if removed, err := logging.PruneFiles(cfg.Logging.Directory, cfg.Logging.RetentionDays, time.Now()); err != nil {
		logger.Warn("pruning log files", "error", err)
	} else if len(removed) > 0 {
		logger.Debug("pruned log files", "count", len(removed))
	}
	return engine.New(cfg, logger), logger, nil
}

// prepareTarget switches eng to an in-memory target in dry-run mode. The
// catalog comes from --catalog/--sql-dir or, failing that, from one read of
// the live target.
func prepareTarget(ctx context.Context, eng *engine.Engine) error {
	if !dryRun {
		return nil
	}
	src := catalogSource()
	if src.Offline() {
		cat, err := eng.LoadCatalog(src)
		if err != nil {
			return err
		}
		eng.DryRun(cat)
	} else {
		cat, err := eng.TargetCatalog(ctx)
		if err != nil {
			return err
		}
		eng.DryRun(cat)
	}
	fmt.Println("Dry run: statements are simulated, nothing is written to the database.")
	fmt.Println()
	return nil
}

// withLock runs fn while holding the process lock, recorded under command
// and the target database. Dry runs skip the lock.
func withLock(eng *engine.Engine, command string, fn func() error) error {
	if dryRun {
		return fn()
	}
	t := eng.Config.Target
	target := fmt.Sprintf("%s@%s:%d", t.Database, t.Host, t.Port)
	path := config.ExpandHome(lock.DefaultPath)
	if err := lock.Acquire(path, command, target); err != nil {
		return err
	}
	defer lock.Release(path)
	return fn()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
