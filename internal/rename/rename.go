// Package rename executes rename plans one table at a time and records the
// outcome of each in the migration log.
package rename

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/plan"
	"github.com/dmeworks/schemashift/internal/schema"
)

// DefaultBatchSize is the number of plans handled between progress reports
// and cancellation checks.
const DefaultBatchSize = 50

// State tracks one plan through execution.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
)

// Executor applies a single rename atomically.
type Executor interface {
	Rename(ctx context.Context, cmd ddl.RenameCommand) error
}

// OperationError wraps a database failure during a rename or drop. The
// message of Err is kept verbatim.
type OperationError struct {
	Op     string
	Schema string
	Table  string
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Schema, e.Table, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Orchestrator runs rename plans against an Executor and appends one log
// entry per plan.
type Orchestrator struct {
	exec      Executor
	repo      audit.Repository
	logger    *slog.Logger
	batchSize int
	runID     string

	// Now is overridable for tests.
	Now func() time.Time

	mu     sync.Mutex
	states map[string]State
}

// New creates an Orchestrator. batchSize <= 0 uses DefaultBatchSize.
func New(exec Executor, repo audit.Repository, runID string, batchSize int, logger *slog.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		exec:      exec,
		repo:      repo,
		logger:    logger,
		batchSize: batchSize,
		runID:     runID,
		Now:       time.Now,
		states:    make(map[string]State),
	}
}

// State returns the execution state of schema.table, PENDING if unseen.
func (o *Orchestrator) State(schemaName, table string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[schema.Qualify(schemaName, table)]; ok {
		return s
	}
	return StatePending
}

func (o *Orchestrator) setState(p plan.RenamePlan, s State) {
	o.mu.Lock()
	o.states[schema.Qualify(p.Schema, p.SourceName)] = s
	o.mu.Unlock()
}

// Execute runs one plan. A plan already marked ERROR is recorded without
// touching the database. The returned error is non-nil only when the log
// entry could not be written.
func (o *Orchestrator) Execute(ctx context.Context, p plan.RenamePlan) (audit.Entry, error) {
	entry := audit.Entry{
		RunID:          o.runID,
		SchemaName:     p.Schema,
		OldName:        p.SourceName,
		NewName:        p.TargetName,
		ValidationType: audit.TypeRename,
	}

	if p.Status != audit.StatusReady {
		o.setState(p, StateError)
		entry.Status = audit.StatusError
		entry.Message = "not executed: " + p.Reason
		o.logger.Warn("skipping rename", "schema", p.Schema, "table", p.SourceName, "reason", p.Reason)
		return o.record(ctx, entry)
	}

	o.setState(p, StateInProgress)
	err := o.exec.Rename(ctx, p.Command())
	if err != nil {
		opErr := &OperationError{Op: "rename", Schema: p.Schema, Table: p.SourceName, Err: err}
		o.setState(p, StateError)
		entry.Status = audit.StatusError
		entry.Message = err.Error()
		o.logger.Error("rename failed", "schema", p.Schema, "table", p.SourceName, "error", opErr)
		return o.record(ctx, entry)
	}

	o.setState(p, StateCompleted)
	entry.Status = audit.StatusSuccess
	entry.Message = fmt.Sprintf("renamed %s to %s", p.SourceName, p.TargetName)
	o.logger.Info("renamed table", "schema", p.Schema, "from", p.SourceName, "to", p.TargetName)
	return o.record(ctx, entry)
}

func (o *Orchestrator) record(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	e.CreatedAt = o.Now().UTC()
	if err := o.repo.Append(ctx, e); err != nil {
		return e, fmt.Errorf("recording %s of %s.%s: %w", e.ValidationType, e.SchemaName, e.OldName, err)
	}
	return e, nil
}

// ExecuteBatch runs every plan in input order, in chunks of the configured
// batch size. A failed rename does not stop the batch. The error return is
// reserved for cancellation and for a log entry that could not be written;
// in both cases the entries produced so far are returned, including the one
// whose write failed.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, plans []plan.RenamePlan) ([]audit.Entry, error) {
	for _, p := range plans {
		o.setState(p, StatePending)
	}

	entries := make([]audit.Entry, 0, len(plans))
	for start := 0; start < len(plans); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		end := start + o.batchSize
		if end > len(plans) {
			end = len(plans)
		}
		for _, p := range plans[start:end] {
			e, err := o.Execute(ctx, p)
			entries = append(entries, e)
			if err != nil {
				return entries, err
			}
		}
		o.logger.Info("rename batch progress", "done", end, "total", len(plans))
	}
	return entries, nil
}
