// Package rollback derives the statements that undo a run from its audit
// log: reverse renames, newest first, and restores of every dropped table
// from its verified backup.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/ddl"
)

// Executor runs statements in one transaction.
type Executor interface {
	ExecInTx(ctx context.Context, stmts []string) error
}

// Plan is the ordered undo of one run.
type Plan struct {
	RunID    string
	Renames  []ddl.RenameCommand
	Restores []ddl.RestoreCommand
	// Skipped lists tables that were dropped without a SUCCESS backup and
	// therefore cannot be restored.
	Skipped []string
}

// Result holds the outcome of an executed rollback.
type Result struct {
	Reverted []string `yaml:"reverted"`
	Restored []string `yaml:"restored"`
	Errors   []string `yaml:"errors,omitempty"`
}

// Build derives the rollback plan for a run from its entries and backups.
func Build(runID string, entries []audit.Entry, backups []audit.BackupRecord) *Plan {
	p := &Plan{RunID: runID}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ValidationType != audit.TypeRename || e.Status != audit.StatusSuccess {
			continue
		}
		p.Renames = append(p.Renames, ddl.RenameCommand{Schema: e.SchemaName, From: e.OldName, To: e.NewName}.Reverse())
	}

	dropped := make(map[string]bool)
	for _, e := range entries {
		if e.ValidationType == audit.TypeCleanupDuplicate && e.Status == audit.StatusSuccess {
			dropped[e.SchemaName+"."+e.OldName] = true
		}
	}
	restored := make(map[string]bool)
	for _, b := range backups {
		key := b.OriginalSchema + "." + b.OriginalTable
		if !dropped[key] || b.Status != audit.StatusSuccess || restored[key] {
			continue
		}
		restored[key] = true
		p.Restores = append(p.Restores, ddl.RestoreCommand{
			BackupSchema: b.BackupSchema,
			BackupTable:  b.BackupTable,
			Schema:       b.OriginalSchema,
			Table:        b.OriginalTable,
		})
	}
	for _, e := range entries {
		key := e.SchemaName + "." + e.OldName
		if dropped[key] && !restored[key] {
			p.Skipped = append(p.Skipped, key)
			restored[key] = true
		}
	}
	return p
}

// Empty reports whether the plan has nothing to undo.
func (p *Plan) Empty() bool {
	return len(p.Renames) == 0 && len(p.Restores) == 0
}

// SQL renders the plan as one transactional script.
func (p *Plan) SQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- rollback of run %s\n", p.RunID)
	for _, s := range p.Skipped {
		fmt.Fprintf(&b, "-- cannot restore %s: no verified backup\n", s)
	}
	b.WriteString("BEGIN;\n")
	for _, c := range p.Renames {
		b.WriteString(c.Statements()[0] + ";\n")
	}
	for _, c := range p.Restores {
		b.WriteString(c.Statements()[0] + ";\n")
	}
	b.WriteString("COMMIT;\n")
	return b.String()
}

// WriteFile writes the script to dir/rollback_<run>.sql and returns the path.
func (p *Plan) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating rollback directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("rollback_%s.sql", p.RunID))
	if err := os.WriteFile(path, []byte(p.SQL()), 0o644); err != nil {
		return "", fmt.Errorf("writing rollback script: %w", err)
	}
	return path, nil
}

// Execute applies the plan one statement group at a time and appends one
// log entry per step to repo under runID, the id of the rollback itself.
// Each step continues even if a prior step fails. The error return is
// reserved for a log entry that could not be written; execution stops there
// and the result so far is returned.
func Execute(ctx context.Context, exec Executor, repo audit.Repository, runID string, p *Plan, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	result := &Result{}

	record := func(e audit.Entry, err error) error {
		e.RunID = runID
		e.CreatedAt = time.Now().UTC()
		if err != nil {
			e.Status = audit.StatusError
			e.Message = err.Error()
		} else {
			e.Status = audit.StatusSuccess
		}
		if aerr := repo.Append(ctx, e); aerr != nil {
			return fmt.Errorf("recording %s of %s.%s: %w", e.ValidationType, e.SchemaName, e.OldName, aerr)
		}
		return nil
	}

	for _, c := range p.Renames {
		entry := audit.Entry{
			SchemaName:     c.Schema,
			OldName:        c.From,
			NewName:        c.To,
			ValidationType: audit.TypeRename,
			Message:        fmt.Sprintf("reverted rename of run %s", p.RunID),
		}
		err := exec.ExecInTx(ctx, c.Statements())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("reverting %s.%s: %v", c.Schema, c.From, err))
			logger.Error("rollback rename failed", "schema", c.Schema, "table", c.From, "error", err)
		} else {
			result.Reverted = append(result.Reverted, c.Schema+"."+c.To)
		}
		if rerr := record(entry, err); rerr != nil {
			return result, rerr
		}
	}

	for _, c := range p.Restores {
		entry := audit.Entry{
			SchemaName:     c.Schema,
			OldName:        c.Table,
			NewName:        c.Table,
			ValidationType: audit.TypeRestore,
			Message:        fmt.Sprintf("restored from %s.%s", c.BackupSchema, c.BackupTable),
		}
		err := exec.ExecInTx(ctx, c.Statements())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("restoring %s.%s: %v", c.Schema, c.Table, err))
			logger.Error("restore failed", "schema", c.Schema, "table", c.Table, "error", err)
		} else {
			result.Restored = append(result.Restored, c.Schema+"."+c.Table)
		}
		if rerr := record(entry, err); rerr != nil {
			return result, rerr
		}
	}
	return result, nil
}
