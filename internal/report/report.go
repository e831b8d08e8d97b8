package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/verify"
)

// RunReport is the JSON report of one command run.
type RunReport struct {
	Version      string               `json:"version"`
	RunID        string               `json:"run_id"`
	Command      string               `json:"command"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Target       TargetSummary        `json:"target"`
	Status       audit.Status         `json:"status"`
	Summary      audit.Summary        `json:"summary"`
	Entries      []audit.Entry        `json:"entries"`
	Backups      []audit.BackupRecord `json:"backups,omitempty"`
	Verification *verify.Report       `json:"verification,omitempty"`
	NextSteps    []string             `json:"next_steps,omitempty"`
}

// TargetSummary describes the database the run changed.
type TargetSummary struct {
	Host     string `json:"host,omitempty"`
	Database string `json:"database,omitempty"`
	Schema   string `json:"schema"`
}

// Generate builds a report. Entries and backups are sorted ERROR first.
func Generate(runID, command string, target TargetSummary, entries []audit.Entry, backups []audit.BackupRecord, verification *verify.Report) *RunReport {
	r := &RunReport{
		Version:      "1",
		RunID:        runID,
		Command:      command,
		GeneratedAt:  time.Now(),
		Target:       target,
		Summary:      audit.Summarize(entries),
		Entries:      audit.SortForDisplay(entries),
		Backups:      audit.SortBackupsForDisplay(backups),
		Verification: verification,
	}

	failedBackups := 0
	for _, b := range backups {
		if b.Status == audit.StatusError {
			failedBackups++
		}
	}
	verifyFailed := verification != nil && verification.Status != "PASS"

	switch {
	case r.Summary.Error > 0 || failedBackups > 0 || verifyFailed:
		r.Status = audit.StatusError
	case r.Summary.Warning > 0:
		r.Status = audit.StatusWarning
	default:
		r.Status = audit.StatusSuccess
	}

	if r.Summary.Error > 0 {
		r.NextSteps = append(r.NextSteps, fmt.Sprintf("Resolve the %d ERROR entries and re-run %s", r.Summary.Error, command))
	}
	if failedBackups > 0 {
		r.NextSteps = append(r.NextSteps, fmt.Sprintf("%d tables were not dropped because their backup could not be verified", failedBackups))
	}
	if r.Summary.Warning > 0 {
		r.NextSteps = append(r.NextSteps, "Review WARNING entries: irregular plural forms need a manual check")
	}
	if verifyFailed {
		r.NextSteps = append(r.NextSteps, fmt.Sprintf("Create the %d tables missing from the target", len(verification.Missing)))
	}
	if r.Status != audit.StatusError {
		r.NextSteps = append(r.NextSteps, "Run schemashift rollback-script --run "+runID+" and keep the output until the migration is accepted")
	}
	return r
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *RunReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &RunReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// FormatText renders the report as human-readable text.
func FormatText(report *RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== schemashift %s ===\n", report.Command)
	fmt.Fprintf(&b, "Run:       %s\n", report.RunID)
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if report.Target.Database != "" {
		fmt.Fprintf(&b, "Target:    %s/%s (schema %s)\n", report.Target.Host, report.Target.Database, report.Target.Schema)
	}
	fmt.Fprintf(&b, "Status:    %s\n\n", report.Status)

	s := report.Summary
	fmt.Fprintf(&b, "Entries: %d (READY %d, SUCCESS %d, WARNING %d, ERROR %d)\n", s.Total(), s.Ready, s.Success, s.Warning, s.Error)
	for _, e := range report.Entries {
		if e.Status != audit.StatusError && e.Status != audit.StatusWarning {
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s %s.%s: %s\n", e.Status, e.ValidationType, e.SchemaName, e.OldName, e.Message)
	}

	if len(report.Backups) > 0 {
		b.WriteString("\nBackups:\n")
		for _, r := range report.Backups {
			fmt.Fprintf(&b, "  [%s] %s.%s -> %s.%s (%d rows)\n",
				r.Status, r.OriginalSchema, r.OriginalTable, r.BackupSchema, r.BackupTable, r.RowCount)
		}
	}

	if report.Verification != nil {
		b.WriteString("\n")
		b.WriteString(report.Verification.Summary())
	}

	if len(report.NextSteps) > 0 {
		b.WriteString("\nNext Steps:\n")
		for i, step := range report.NextSteps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	return b.String()
}
