// Package audit holds the append-only migration log and backup records
// written by every pipeline step.
package audit

import (
	"context"
	"sort"
	"time"
)

// Status is the outcome recorded on a log entry or backup record.
type Status string

const (
	StatusReady   Status = "READY"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusWarning Status = "WARNING"
)

// ValidationType names the pipeline step that produced an entry.
type ValidationType string

const (
	TypePreValidation      ValidationType = "pre_validation"
	TypeRename             ValidationType = "rename"
	TypeCleanupDuplicate   ValidationType = "cleanup_duplicate"
	TypePluralizationCheck ValidationType = "pluralization_check"
	TypeBackup             ValidationType = "backup"
	TypeRestore            ValidationType = "restore"
)

// Entry is one row of the migration log.
type Entry struct {
	RunID          string         `json:"run_id" yaml:"run_id"`
	SchemaName     string         `json:"schema_name" yaml:"schema_name"`
	OldName        string         `json:"old_name" yaml:"old_name"`
	NewName        string         `json:"new_name" yaml:"new_name"`
	ValidationType ValidationType `json:"validation_type" yaml:"validation_type"`
	Message        string         `json:"message" yaml:"message"`
	Status         Status         `json:"status" yaml:"status"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
}

// BackupRecord describes one snapshot taken before a drop.
type BackupRecord struct {
	RunID          string    `json:"run_id" yaml:"run_id"`
	OriginalSchema string    `json:"original_schema" yaml:"original_schema"`
	OriginalTable  string    `json:"original_table" yaml:"original_table"`
	BackupSchema   string    `json:"backup_schema" yaml:"backup_schema"`
	BackupTable    string    `json:"backup_table" yaml:"backup_table"`
	RowCount       int64     `json:"row_count" yaml:"row_count"`
	Status         Status    `json:"status" yaml:"status"`
	ErrorMessage   string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	BackupDate     time.Time `json:"backup_date" yaml:"backup_date"`
}

// Repository stores log entries and backup records. Writes are append-only;
// Prune is the only deletion path and never touches backup records.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	AppendBackup(ctx context.Context, r BackupRecord) error

	// Entries returns the log for a run in insertion order; an empty runID
	// returns every entry.
	Entries(ctx context.Context, runID string) ([]Entry, error)
	Backups(ctx context.Context, runID string) ([]BackupRecord, error)

	// LatestBackup returns the most recent SUCCESS backup of schema.table, or
	// nil when none exists.
	LatestBackup(ctx context.Context, schemaName, table string) (*BackupRecord, error)

	// Prune removes log entries created before cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Summary counts entries by status.
type Summary struct {
	Ready   int `json:"ready"`
	Success int `json:"success"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

// Total is the number of counted entries.
func (s Summary) Total() int {
	return s.Ready + s.Success + s.Warning + s.Error
}

// Add counts one status.
func (s *Summary) Add(st Status) {
	switch st {
	case StatusReady:
		s.Ready++
	case StatusSuccess:
		s.Success++
	case StatusWarning:
		s.Warning++
	case StatusError:
		s.Error++
	}
}

// Summarize counts entries by status.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		s.Add(e.Status)
	}
	return s
}

// statusRank orders statuses for display: ERROR first.
var statusRank = map[Status]int{
	StatusError:   0,
	StatusWarning: 1,
	StatusReady:   2,
	StatusSuccess: 3,
}

// SortForDisplay returns a copy of entries with ERROR first, then WARNING,
// READY and SUCCESS. Order within a status is preserved.
func SortForDisplay(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Status) < rank(out[j].Status)
	})
	return out
}

// SortBackupsForDisplay is SortForDisplay for backup records.
func SortBackupsForDisplay(records []BackupRecord) []BackupRecord {
	out := append([]BackupRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Status) < rank(out[j].Status)
	})
	return out
}

func rank(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}
