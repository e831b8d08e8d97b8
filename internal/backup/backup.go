// Package backup snapshots superseded tables into a backup schema and drops
// the originals once the snapshot is verified.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/rename"
)

// DefaultSchema receives snapshots unless configured otherwise.
const DefaultSchema = "backup"

// Database is the subset of database access the pipeline needs.
type Database interface {
	RowCount(ctx context.Context, schemaName, table string) (int64, error)
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	Constraints(ctx context.Context, schemaName, table string) ([]string, error)
	ExecInTx(ctx context.Context, stmts []string) error
}

// BackupVerificationError blocks a drop: the snapshot failed, its row count
// differs from the live table, or no matching SUCCESS record exists.
type BackupVerificationError struct {
	Schema      string
	Table       string
	BackupTable string
	Expected    int64
	Actual      int64
	Reason      string
	Err         error
}

func (e *BackupVerificationError) Error() string {
	msg := fmt.Sprintf("backup of %s.%s", e.Schema, e.Table)
	if e.BackupTable != "" {
		msg += " to " + e.BackupTable
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackupVerificationError) Unwrap() error { return e.Err }

// OperationError is the rename package's error type; drop failures use it
// with Op "drop".
type OperationError = rename.OperationError

// Target is one table to back up and drop.
type Target struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
}

// Result is the outcome for one table.
type Result struct {
	Target  Target             `json:"target"`
	Backup  audit.BackupRecord `json:"backup"`
	Dropped bool               `json:"dropped"`
	Entries []audit.Entry      `json:"entries"`
	Err     error              `json:"-"`
}

// Status is SUCCESS when the table was backed up and dropped, ERROR otherwise.
func (r Result) Status() audit.Status {
	if r.Err != nil || !r.Dropped {
		return audit.StatusError
	}
	return audit.StatusSuccess
}

// Pipeline runs backup-then-drop for superseded tables.
type Pipeline struct {
	db     Database
	repo   audit.Repository
	logger *slog.Logger
	runID  string

	// Now is overridable for tests.
	Now func() time.Time
}

// New creates a Pipeline.
func New(db Database, repo audit.Repository, runID string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{db: db, repo: repo, logger: logger, runID: runID, Now: time.Now}
}

// BackupName returns the snapshot table name for table on date. attempt > 1
// adds a counter so a second run on the same day does not collide. The
// result never exceeds the Postgres identifier limit.
func BackupName(table string, date time.Time, attempt int) string {
	suffix := "_" + date.Format("20060102")
	if attempt > 1 {
		suffix += "_" + strconv.Itoa(attempt)
	}
	if room := ddl.MaxIdentifierLength - len(suffix); len(table) > room {
		// cut on a rune boundary
		for room > 0 && !utf8.RuneStart(table[room]) {
			room--
		}
		table = table[:room]
	}
	return table + suffix
}

// BackupThenDrop snapshots schema.table into backupSchema, verifies the
// snapshot row count, and drops the original only when a SUCCESS backup
// record matching the live row count exists.
func (p *Pipeline) BackupThenDrop(ctx context.Context, schemaName, table, backupSchema string) Result {
	if backupSchema == "" {
		backupSchema = DefaultSchema
	}
	now := p.Now().UTC()
	res := Result{
		Target: Target{Schema: schemaName, Table: table},
		Backup: audit.BackupRecord{
			RunID:          p.runID,
			OriginalSchema: schemaName,
			OriginalTable:  table,
			BackupSchema:   backupSchema,
			Status:         audit.StatusError,
			BackupDate:     now,
		},
	}
	log := p.logger.With("schema", schemaName, "table", table)

	if err := p.backup(ctx, &res, now); err != nil {
		res.Err = err
		res.Backup.ErrorMessage = err.Error()
		log.Error("backup failed", "error", err)
	} else {
		res.Backup.Status = audit.StatusSuccess
		log.Info("backup verified", "backup", res.Backup.BackupSchema+"."+res.Backup.BackupTable, "rows", res.Backup.RowCount)
	}
	if err := p.repo.AppendBackup(ctx, res.Backup); err != nil {
		res.Err = fmt.Errorf("recording backup record: %w", err)
		return p.finish(ctx, res, "not dropped: "+res.Err.Error())
	}
	p.addEntry(ctx, &res, audit.Entry{
		ValidationType: audit.TypeBackup,
		NewName:        res.Backup.BackupTable,
		Status:         res.Backup.Status,
		Message:        backupMessage(res),
	})
	if res.Err != nil {
		return p.finish(ctx, res, "not dropped: "+res.Err.Error())
	}

	if err := p.gate(ctx, schemaName, table); err != nil {
		res.Err = err
		log.Error("drop refused", "error", err)
		return p.finish(ctx, res, "not dropped: "+err.Error())
	}

	if err := p.drop(ctx, schemaName, table); err != nil {
		res.Err = err
		log.Error("drop failed", "error", err)
		msg := err.Error()
		var opErr *OperationError
		if errors.As(err, &opErr) {
			msg = opErr.Err.Error()
		}
		return p.finish(ctx, res, msg)
	}
	res.Dropped = true
	log.Info("dropped superseded table")
	return p.finish(ctx, res, fmt.Sprintf("dropped after backup to %s.%s", res.Backup.BackupSchema, res.Backup.BackupTable))
}

// backup takes and verifies the snapshot, filling in the record.
func (p *Pipeline) backup(ctx context.Context, res *Result, now time.Time) error {
	schemaName, table := res.Target.Schema, res.Target.Table
	bschema := res.Backup.BackupSchema

	live, err := p.db.RowCount(ctx, schemaName, table)
	if err != nil {
		return &BackupVerificationError{Schema: schemaName, Table: table, Reason: "counting live rows", Err: err}
	}

	name := ""
	for attempt := 1; ; attempt++ {
		name = BackupName(table, now, attempt)
		exists, err := p.db.TableExists(ctx, bschema, name)
		if err != nil {
			return &BackupVerificationError{Schema: schemaName, Table: table, BackupTable: name, Reason: "checking backup table", Err: err}
		}
		if !exists {
			break
		}
	}
	res.Backup.BackupTable = name

	snap := ddl.SnapshotCommand{SourceSchema: schemaName, SourceTable: table, BackupSchema: bschema, BackupTable: name}
	if err := p.db.ExecInTx(ctx, snap.Statements()); err != nil {
		return &BackupVerificationError{Schema: schemaName, Table: table, BackupTable: name, Reason: "creating snapshot", Err: err}
	}

	copied, err := p.db.RowCount(ctx, bschema, name)
	if err != nil {
		return &BackupVerificationError{Schema: schemaName, Table: table, BackupTable: name, Reason: "counting snapshot rows", Err: err}
	}
	res.Backup.RowCount = copied
	if copied != live {
		return &BackupVerificationError{
			Schema:      schemaName,
			Table:       table,
			BackupTable: name,
			Expected:    live,
			Actual:      copied,
			Reason:      fmt.Sprintf("row count mismatch: live %d, snapshot %d", live, copied),
		}
	}
	return nil
}

// gate re-reads the latest SUCCESS backup and the live row count; the drop
// may proceed only when they agree.
func (p *Pipeline) gate(ctx context.Context, schemaName, table string) error {
	rec, err := p.repo.LatestBackup(ctx, schemaName, table)
	if err != nil {
		return &BackupVerificationError{Schema: schemaName, Table: table, Reason: "reading backup log", Err: err}
	}
	if rec == nil || rec.Status != audit.StatusSuccess {
		return &BackupVerificationError{Schema: schemaName, Table: table, Reason: "no SUCCESS backup record"}
	}
	live, err := p.db.RowCount(ctx, schemaName, table)
	if err != nil {
		return &BackupVerificationError{Schema: schemaName, Table: table, BackupTable: rec.BackupTable, Reason: "recounting live rows", Err: err}
	}
	if live != rec.RowCount {
		return &BackupVerificationError{
			Schema:      schemaName,
			Table:       table,
			BackupTable: rec.BackupTable,
			Expected:    live,
			Actual:      rec.RowCount,
			Reason:      fmt.Sprintf("live table has %d rows, backup has %d", live, rec.RowCount),
		}
	}
	return nil
}

// drop removes every constraint on the table and the table itself in one
// transaction.
func (p *Pipeline) drop(ctx context.Context, schemaName, table string) error {
	names, err := p.db.Constraints(ctx, schemaName, table)
	if err != nil {
		return &OperationError{Op: "drop", Schema: schemaName, Table: table, Err: err}
	}
	var cmds []ddl.Command
	for _, c := range names {
		cmds = append(cmds, ddl.DropConstraintCommand{Schema: schemaName, Table: table, Constraint: c})
	}
	cmds = append(cmds, ddl.DropTableCommand{Schema: schemaName, Table: table, Cascade: true})
	if err := p.db.ExecInTx(ctx, ddl.Flatten(cmds...)); err != nil {
		return &OperationError{Op: "drop", Schema: schemaName, Table: table, Err: err}
	}
	return nil
}

// finish appends the single cleanup_duplicate entry for the table.
func (p *Pipeline) finish(ctx context.Context, res Result, msg string) Result {
	status := audit.StatusSuccess
	if !res.Dropped {
		status = audit.StatusError
	}
	p.addEntry(ctx, &res, audit.Entry{
		ValidationType: audit.TypeCleanupDuplicate,
		NewName:        res.Backup.BackupTable,
		Status:         status,
		Message:        msg,
	})
	return res
}

func (p *Pipeline) addEntry(ctx context.Context, res *Result, e audit.Entry) {
	e.RunID = p.runID
	e.SchemaName = res.Target.Schema
	e.OldName = res.Target.Table
	e.CreatedAt = p.Now().UTC()
	if err := p.repo.Append(ctx, e); err != nil {
		p.logger.Error("writing migration log", "schema", e.SchemaName, "table", e.OldName, "error", err)
		if res.Err == nil {
			res.Err = fmt.Errorf("recording %s entry: %w", e.ValidationType, err)
		}
	}
	res.Entries = append(res.Entries, e)
}

func backupMessage(res Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return fmt.Sprintf("backed up %d rows to %s.%s", res.Backup.RowCount, res.Backup.BackupSchema, res.Backup.BackupTable)
}

// Run backs up and drops each target independently and returns the results
// with failures first. Targets not reached before cancellation are reported
// with the context error.
func (p *Pipeline) Run(ctx context.Context, targets []Target, backupSchema string) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Target: t, Err: err})
			continue
		}
		results = append(results, p.BackupThenDrop(ctx, t.Schema, t.Table, backupSchema))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Status() == audit.StatusError && results[j].Status() != audit.StatusError
	})
	return results
}
