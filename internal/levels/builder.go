package levels

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
)

// Executor runs a list of statements inside one transaction, rolling back
// on the first failure.
type Executor interface {
	ExecInTx(ctx context.Context, stmts []string) error
}

// CheckpointError reports the level whose transaction failed. Levels below
// Level are committed; Level and everything after it were not applied.
type CheckpointError struct {
	Level int // -1 for the deferred foreign key checkpoint
	Table string
	Err   error
}

func (e *CheckpointError) Error() string {
	if e.Level < 0 {
		return fmt.Sprintf("deferred foreign keys: %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("level %d: %s: %v", e.Level, e.Table, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// Builder creates the tables of a Plan level by level.
type Builder struct {
	exec   Executor
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger uses slog.Default().
func NewBuilder(exec Executor, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{exec: exec, logger: logger}
}

// Build applies each level in its own transaction, in ascending order, and
// stops at the first level that fails. Every statement is idempotent so a
// halted build can be rerun.
func (b *Builder) Build(ctx context.Context, plan *Plan) error {
	for _, lv := range plan.Levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		stmts := levelStatements(plan, lv, lv.Number == 0)
		b.logger.Info("building level", "level", lv.Number, "tables", len(lv.Tables))
		if err := b.exec.ExecInTx(ctx, stmts); err != nil {
			table := ""
			if len(lv.Tables) > 0 {
				table = lv.Tables[0].QualifiedName()
			}
			if len(lv.Tables) > 1 {
				table = fmt.Sprintf("%s (+%d more)", table, len(lv.Tables)-1)
			}
			b.logger.Error("level failed", "level", lv.Number, "error", err)
			return &CheckpointError{Level: lv.Number, Table: table, Err: err}
		}
	}

	if len(plan.Deferred) == 0 {
		return nil
	}
	if err := b.exec.ExecInTx(ctx, deferredStatements(plan)); err != nil {
		b.logger.Error("deferred foreign keys failed", "error", err)
		return &CheckpointError{Level: -1, Table: fmt.Sprintf("%d constraints", len(plan.Deferred)), Err: err}
	}
	b.logger.Info("added deferred foreign keys", "count", len(plan.Deferred))
	return nil
}

// levelStatements renders one level. The first level also creates every
// schema the plan touches.
func levelStatements(plan *Plan, lv Level, withSchemas bool) []string {
	var cmds []ddl.Command
	if withSchemas {
		for _, s := range planSchemas(plan) {
			cmds = append(cmds, ddl.CreateSchemaCommand{Schema: s})
		}
	}
	skip := plan.deferredSet()
	for _, t := range lv.Tables {
		cmds = append(cmds, ddl.CreateTableCommand{Table: t, IfNotExists: true, Skip: skip[t.QualifiedName()]})
	}
	return ddl.Flatten(cmds...)
}

func deferredStatements(plan *Plan) []string {
	var cmds []ddl.Command
	for _, d := range plan.Deferred {
		cmds = append(cmds,
			ddl.DropConstraintCommand{Schema: d.Schema, Table: d.Table, Constraint: d.FK.Name},
			ddl.AddForeignKeyCommand{Schema: d.Schema, Table: d.Table, FK: d.FK},
		)
	}
	return ddl.Flatten(cmds...)
}

func planSchemas(plan *Plan) []string {
	seen := make(map[string]bool)
	var out []string
	for _, lv := range plan.Levels {
		for _, t := range lv.Tables {
			if t.Schema == "" || seen[t.Schema] || schema.IsSystemSchema(t.Schema) {
				continue
			}
			seen[t.Schema] = true
			out = append(out, t.Schema)
		}
	}
	return out
}
