package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/backup"
	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/database"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/levels"
	"github.com/dmeworks/schemashift/internal/naming"
	"github.com/dmeworks/schemashift/internal/plan"
	"github.com/dmeworks/schemashift/internal/rename"
	"github.com/dmeworks/schemashift/internal/report"
	"github.com/dmeworks/schemashift/internal/rollback"
	"github.com/dmeworks/schemashift/internal/schema"
	"github.com/dmeworks/schemashift/internal/state"
	"github.com/dmeworks/schemashift/internal/verify"
)

// Engine is the core shared by all commands. It owns the database handles
// and the audit repository for one invocation.
type Engine struct {
	Config *config.Config
	State  *state.State
	Naming *naming.Transformer
	Logger *slog.Logger

	statePath string
	source    database.DB
	target    database.DB
	repo      audit.Repository
	dryRun    bool
}

// CatalogSource selects where a catalog is read from. With neither field
// set the catalog is read from a live database.
type CatalogSource struct {
	File   string // YAML dump written by schema.Catalog.WriteYAML
	SQLDir string // directory of .sql scripts
}

// Offline reports whether the catalog comes from a file.
func (c CatalogSource) Offline() bool {
	return c.File != "" || c.SQLDir != ""
}

// New creates a new Engine with the given config and logger.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Config:    cfg,
		Naming:    naming.New(cfg.Migration.PrefixToRemove),
		Logger:    logger,
		statePath: config.ExpandHome(state.DefaultPath),
	}
}

// LoadState loads the run state from disk.
func (e *Engine) LoadState() (*state.State, error) {
	st, err := state.Load(e.statePath)
	if err != nil {
		return nil, err
	}
	e.State = st
	return st, nil
}

// SaveState persists the run state to disk.
func (e *Engine) SaveState() error {
	if e.State == nil {
		return fmt.Errorf("no state to save")
	}
	return e.State.Save(e.statePath)
}

// RecordStep marks step complete or failed for runID and saves the state.
// Dry runs leave the state untouched.
func (e *Engine) RecordStep(step state.Step, runID string, err error) {
	if e.dryRun {
		return
	}
	if e.State == nil {
		if _, lerr := e.LoadState(); lerr != nil {
			e.Logger.Warn("loading state", "error", lerr)
			return
		}
	}
	if err != nil {
		e.State.FailStep(step, runID, err.Error())
	} else {
		e.State.CompleteStep(step, runID)
	}
	if serr := e.SaveState(); serr != nil {
		e.Logger.Warn("saving state", "error", serr)
	}
}

// DryRun switches the engine to an in-memory copy of cat: statements are
// simulated and log entries are kept in memory.
func (e *Engine) DryRun(cat *schema.Catalog) {
	if e.target != nil {
		e.target.Close()
	}
	e.dryRun = true
	e.target = database.NewMemory(cat)
	e.repo = audit.NewMemoryRepository()
}

// IsDryRun reports whether DryRun was called.
func (e *Engine) IsDryRun() bool { return e.dryRun }

// Use installs the target database and repository directly.
func (e *Engine) Use(target database.DB, repo audit.Repository) {
	e.target = target
	e.repo = repo
}

// UseSource installs the source database directly.
func (e *Engine) UseSource(source database.DB) {
	e.source = source
}

// ConnectTarget opens the target database and the audit repository in its
// log schema.
func (e *Engine) ConnectTarget(ctx context.Context) error {
	if e.target != nil {
		return nil
	}
	if !e.Config.Target.Configured() {
		return fmt.Errorf("target database is not configured; run schemashift init or set SCHEMASHIFT_TARGET_HOST")
	}
	pg := database.NewPostgres(e.Config.Target, e.Logger)
	pg.Exclude = []string{e.Config.Migration.BackupSchema, e.Config.Migration.LogSchema}
	if err := pg.Connect(ctx); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	repo := audit.NewPostgresRepository(pg.Pool(), e.Config.Migration.LogSchema)
	if err := repo.EnsureTables(ctx); err != nil {
		pg.Close()
		return fmt.Errorf("preparing audit tables: %w", err)
	}
	e.target = pg
	e.repo = repo
	return nil
}

// ConnectSource opens the source database.
func (e *Engine) ConnectSource(ctx context.Context) error {
	if e.source != nil {
		return nil
	}
	if !e.Config.Source.Configured() {
		return fmt.Errorf("source database is not configured")
	}
	pg := database.NewPostgres(e.Config.Source, e.Logger)
	if err := pg.Connect(ctx); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	e.source = pg
	return nil
}

// Close releases the database handles.
func (e *Engine) Close() {
	if e.target != nil {
		e.target.Close()
	}
	if e.source != nil {
		e.source.Close()
	}
}

// Repository returns the audit repository, or nil before a target is set.
func (e *Engine) Repository() audit.Repository { return e.repo }

// Target returns the target database, or nil before ConnectTarget.
func (e *Engine) Target() database.DB { return e.target }

// LoadCatalog reads a catalog from a file source.
func (e *Engine) LoadCatalog(src CatalogSource) (*schema.Catalog, error) {
	switch {
	case src.File != "":
		return schema.LoadYAML(src.File)
	case src.SQLDir != "":
		return ddl.LoadScripts(src.SQLDir, e.Config.Migration.TargetSchema)
	}
	return nil, fmt.Errorf("no catalog file or script directory given")
}

// TargetCatalog reads the current target catalog.
func (e *Engine) TargetCatalog(ctx context.Context) (*schema.Catalog, error) {
	if err := e.ConnectTarget(ctx); err != nil {
		return nil, err
	}
	return e.target.Inspect(ctx)
}

// SourceCatalog reads the source catalog from src, or from the source
// database when src is not offline.
func (e *Engine) SourceCatalog(ctx context.Context, src CatalogSource) (*schema.Catalog, error) {
	if src.Offline() {
		return e.LoadCatalog(src)
	}
	if err := e.ConnectSource(ctx); err != nil {
		return nil, err
	}
	return e.source.Inspect(ctx)
}

// PlanRename plans the renames of the target schema and records the
// pre-validation entries.
func (e *Engine) PlanRename(ctx context.Context) (*plan.Batch, error) {
	cat, err := e.TargetCatalog(ctx)
	if err != nil {
		return nil, err
	}
	batch, err := plan.NewPlanner(e.Naming, e.Logger).Plan(cat, e.Config.Migration.TargetSchema)
	if err != nil {
		return nil, err
	}
	for _, entry := range batch.Entries {
		if err := e.repo.Append(ctx, entry); err != nil {
			return batch, fmt.Errorf("recording %s entry: %w", entry.ValidationType, err)
		}
	}
	e.Logger.Info("rename plan ready",
		"run_id", batch.RunID,
		"plans", len(batch.Plans),
		"ready", len(batch.Ready()),
		"superseded", len(batch.Superseded))
	return batch, nil
}

// ExecuteRename plans and executes the renames of the target schema. The
// returned entries include the pre-validation entries of the plan.
func (e *Engine) ExecuteRename(ctx context.Context) (*plan.Batch, []audit.Entry, error) {
	batch, err := e.PlanRename(ctx)
	if err != nil {
		return nil, nil, err
	}
	orch := rename.New(e.target, e.repo, batch.RunID, e.Config.Migration.BatchSize, e.Logger)
	entries, err := orch.ExecuteBatch(ctx, batch.Plans)
	all := append(append([]audit.Entry(nil), batch.Entries...), entries...)
	return batch, all, err
}

// BuildOptions controls BuildLevels.
type BuildOptions struct {
	Rename bool   // map names through the naming rules first
	Schema string // build only this schema; empty builds every user schema
}

// LevelPlan computes the dependency levels of a catalog.
func (e *Engine) LevelPlan(cat *schema.Catalog, opts BuildOptions) (*levels.Plan, error) {
	if opts.Rename {
		renamed, err := cat.Renamed(e.Naming.Transform)
		if err != nil {
			return nil, fmt.Errorf("renaming catalog: %w", err)
		}
		seen := make(map[string]string, len(cat.Tables))
		for i, t := range renamed.Tables {
			key := t.QualifiedName()
			if prev, dup := seen[key]; dup {
				return nil, fmt.Errorf("%s and %s both rename to %s", prev, cat.Tables[i].QualifiedName(), key)
			}
			seen[key] = cat.Tables[i].QualifiedName()
		}
		cat = renamed
	}
	tables := cat.UserTables()
	if opts.Schema != "" {
		tables = cat.InSchema(opts.Schema)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("catalog has no tables to build")
	}
	return levels.Compute(tables)
}

// BuildLevels creates the tables of lp in the target, one checkpoint per
// level.
func (e *Engine) BuildLevels(ctx context.Context, lp *levels.Plan) error {
	if err := e.ConnectTarget(ctx); err != nil {
		return err
	}
	return levels.NewBuilder(e.target, e.Logger).Build(ctx, lp)
}

// SupersededTargets plans against the target and returns the tables whose
// new-convention twin already exists.
func (e *Engine) SupersededTargets(ctx context.Context) ([]backup.Target, string, error) {
	batch, err := e.PlanRename(ctx)
	if err != nil {
		return nil, "", err
	}
	targets := make([]backup.Target, 0, len(batch.Superseded))
	for _, s := range batch.Superseded {
		targets = append(targets, backup.Target{Schema: s.Schema, Table: s.Table})
	}
	return targets, batch.RunID, nil
}

// BackupAndDrop backs up and drops each target under runID.
func (e *Engine) BackupAndDrop(ctx context.Context, runID string, targets []backup.Target) ([]backup.Result, error) {
	if err := e.ConnectTarget(ctx); err != nil {
		return nil, err
	}
	p := backup.New(e.target, e.repo, runID, e.Logger)
	return p.Run(ctx, targets, e.Config.Migration.BackupSchema), nil
}

// Verify compares the source catalog with the target.
func (e *Engine) Verify(ctx context.Context, src CatalogSource, rename, countRows bool) (*verify.Report, error) {
	if err := e.ConnectTarget(ctx); err != nil {
		return nil, &verify.ConnectivityError{Side: "target", Err: err}
	}
	var source verify.Inspector
	if src.Offline() {
		cat, err := e.LoadCatalog(src)
		if err != nil {
			return nil, err
		}
		source = database.NewMemory(cat)
	} else {
		if err := e.ConnectSource(ctx); err != nil {
			return nil, &verify.ConnectivityError{Side: "source", Err: err}
		}
		source = e.source
	}

	r := &verify.Reporter{CountRows: countRows, Logger: e.Logger}
	if rename {
		r.Naming = e.Naming
		r.TargetSchema = e.Config.Migration.TargetSchema
	}
	return r.Compare(ctx, source, e.target)
}

// PruneLog removes log entries older than the configured retention.
func (e *Engine) PruneLog(ctx context.Context, now time.Time) (int64, error) {
	if err := e.ConnectTarget(ctx); err != nil {
		return 0, err
	}
	cutoff := now.AddDate(0, 0, -e.Config.Migration.LogRetentionDays)
	n, err := e.repo.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning migration log: %w", err)
	}
	e.Logger.Info("pruned migration log", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// RollbackPlan derives the undo plan of runID from the audit log.
func (e *Engine) RollbackPlan(ctx context.Context, runID string) (*rollback.Plan, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if err := e.ConnectTarget(ctx); err != nil {
		return nil, err
	}
	entries, err := e.repo.Entries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading migration log: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no log entries for run %s", runID)
	}
	backups, err := e.repo.Backups(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading backup log: %w", err)
	}
	return rollback.Build(runID, entries, backups), nil
}

// ExecuteRollback applies p against the target under a new run id, logging
// every reverted rename and restore. It returns the rollback's run id.
func (e *Engine) ExecuteRollback(ctx context.Context, p *rollback.Plan) (*rollback.Result, string, error) {
	if err := e.ConnectTarget(ctx); err != nil {
		return nil, "", err
	}
	runID := uuid.NewString()
	e.Logger.Info("executing rollback", "run_id", runID, "undoing", p.RunID)
	res, err := rollback.Execute(ctx, e.target, e.repo, runID, p, e.Logger)
	return res, runID, err
}

// Report builds the run report for command.
func (e *Engine) Report(runID, command string, entries []audit.Entry, backups []audit.BackupRecord, v *verify.Report) *report.RunReport {
	return report.Generate(runID, command, report.TargetSummary{
		Host:     e.Config.Target.Host,
		Database: e.Config.Target.Database,
		Schema:   e.Config.Migration.TargetSchema,
	}, entries, backups, v)
}
