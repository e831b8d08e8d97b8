// Package verify compares the table catalogs of a source and a target
// database after migration. It never writes to either side.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/naming"
	"github.com/dmeworks/schemashift/internal/schema"
)

// Inspector reads a catalog of base tables.
type Inspector interface {
	Inspect(ctx context.Context) (*schema.Catalog, error)
}

// RowCounter is implemented by inspectors that can count live rows.
type RowCounter interface {
	RowCount(ctx context.Context, schemaName, table string) (int64, error)
}

// ConnectivityError means one side of the comparison could not be read.
type ConnectivityError struct {
	Side string // "source" or "target"
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s database unreachable: %v", e.Side, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Discrepancy is a table present on only one side.
type Discrepancy struct {
	Schema          string `json:"schema"`
	Table           string `json:"table"`
	FullName        string `json:"full_name"`
	PresentInSource bool   `json:"present_in_source"`
	PresentInTarget bool   `json:"present_in_target"`
	ColumnCount     int    `json:"column_count"`
	Description     string `json:"description"`
	CreateStatement string `json:"create_statement,omitempty"`
}

// RowMismatch is a table present on both sides with different row counts.
type RowMismatch struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	SourceCount int64  `json:"source_count"`
	TargetCount int64  `json:"target_count"`
	Message     string `json:"message"`
}

// Report is the structured comparison result.
type Report struct {
	Status         string        `json:"status"` // PASS, FAIL
	SourceDatabase string        `json:"source_database,omitempty"`
	TargetDatabase string        `json:"target_database,omitempty"`
	SourceTables   int           `json:"source_tables"`
	TargetTables   int           `json:"target_tables"`
	Matched        int           `json:"matched"`
	Missing        []Discrepancy `json:"missing"`
	Extra          []Discrepancy `json:"extra,omitempty"`
	RowMismatches  []RowMismatch `json:"row_mismatches,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// Reporter compares two catalogs. When Naming is set, source names are
// mapped through it before lookup; TargetSchema, when set, replaces the
// source schema name.
type Reporter struct {
	Naming       *naming.Transformer
	TargetSchema string
	CountRows    bool
	Logger       *slog.Logger
}

type pair struct {
	src, dst schema.Table
}

// Compare reads both catalogs concurrently and reports tables missing from
// the target, tables only in the target, and row count mismatches.
func (r *Reporter) Compare(ctx context.Context, source, target Inspector) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report := &Report{StartedAt: time.Now()}

	var srcCat, dstCat *schema.Catalog
	var eg errgroup.Group
	eg.Go(func() error {
		c, err := source.Inspect(ctx)
		if err != nil {
			return &ConnectivityError{Side: "source", Err: err}
		}
		srcCat = c
		return nil
	})
	eg.Go(func() error {
		c, err := target.Inspect(ctx)
		if err != nil {
			return &ConnectivityError{Side: "target", Err: err}
		}
		dstCat = c
		return nil
	})
	if err := eg.Wait(); err != nil {
		logger.Error("verification aborted", "error", err)
		return nil, err
	}

	report.SourceDatabase = srcCat.Database
	report.TargetDatabase = dstCat.Database
	srcTables := srcCat.UserTables()
	dstTables := dstCat.UserTables()
	report.SourceTables = len(srcTables)
	report.TargetTables = len(dstTables)

	dstIndex := make(map[string]schema.Table, len(dstTables))
	for _, t := range dstTables {
		dstIndex[t.QualifiedName()] = t
	}

	seen := make(map[string]bool)
	var matched []pair
	for _, t := range srcTables {
		want := r.targetName(t)
		if dst, ok := dstIndex[want.QualifiedName()]; ok {
			seen[want.QualifiedName()] = true
			matched = append(matched, pair{src: t, dst: dst})
			continue
		}
		report.Missing = append(report.Missing, Discrepancy{
			Schema:          want.Schema,
			Table:           want.Name,
			FullName:        want.QualifiedName(),
			PresentInSource: true,
			ColumnCount:     len(t.Columns),
			Description:     fmt.Sprintf("%s exists in source as %s but not in target", want.QualifiedName(), t.QualifiedName()),
			CreateStatement: ddl.CreateTableCommand{Table: want, IfNotExists: true}.Statements()[0],
		})
	}
	for _, t := range dstTables {
		if seen[t.QualifiedName()] {
			continue
		}
		report.Extra = append(report.Extra, Discrepancy{
			Schema:          t.Schema,
			Table:           t.Name,
			FullName:        t.QualifiedName(),
			PresentInTarget: true,
			ColumnCount:     len(t.Columns),
			Description:     fmt.Sprintf("%s exists only in target", t.QualifiedName()),
		})
	}
	report.Matched = len(matched)

	if r.CountRows {
		mismatches, err := r.compareRows(ctx, source, target, matched)
		if err != nil {
			return nil, err
		}
		report.RowMismatches = mismatches
	}

	sortDiscrepancies(report.Missing)
	sortDiscrepancies(report.Extra)
	report.Status = "PASS"
	if len(report.Missing) > 0 || len(report.RowMismatches) > 0 {
		report.Status = "FAIL"
	}
	report.CompletedAt = time.Now()
	logger.Info("verification complete",
		"status", report.Status,
		"matched", report.Matched,
		"missing", len(report.Missing),
		"extra", len(report.Extra),
		"row_mismatches", len(report.RowMismatches))
	return report, nil
}

// targetName maps a source table to the table expected in the target,
// foreign key references included.
func (r *Reporter) targetName(t schema.Table) schema.Table {
	out := t.Clone()
	if r.TargetSchema != "" {
		// every source table lands in TargetSchema, referenced ones too
		out.Schema = r.TargetSchema
		for i := range out.ForeignKeys {
			if out.ForeignKeys[i].ReferencedSchema != "" {
				out.ForeignKeys[i].ReferencedSchema = r.TargetSchema
			}
		}
	}
	if r.Naming == nil {
		return out
	}
	if n, err := r.Naming.Transform(t.Name); err == nil {
		out.Name = n
	}
	for i, fk := range out.ForeignKeys {
		if n, err := r.Naming.Transform(fk.ReferencedTable); err == nil {
			out.ForeignKeys[i].ReferencedTable = n
		}
	}
	return out
}

func (r *Reporter) compareRows(ctx context.Context, source, target Inspector, matched []pair) ([]RowMismatch, error) {
	srcCounter, ok1 := source.(RowCounter)
	dstCounter, ok2 := target.(RowCounter)
	if !ok1 || !ok2 {
		return nil, nil
	}

	counts := make([][2]int64, len(matched))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, p := range matched {
		eg.Go(func() error {
			n, err := srcCounter.RowCount(gctx, p.src.Schema, p.src.Name)
			if err != nil {
				return &ConnectivityError{Side: "source", Err: err}
			}
			counts[i][0] = n
			return nil
		})
		eg.Go(func() error {
			n, err := dstCounter.RowCount(gctx, p.dst.Schema, p.dst.Name)
			if err != nil {
				return &ConnectivityError{Side: "target", Err: err}
			}
			counts[i][1] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []RowMismatch
	for i, p := range matched {
		s, d := counts[i][0], counts[i][1]
		if s == d {
			continue
		}
		out = append(out, RowMismatch{
			Source:      p.src.QualifiedName(),
			Target:      p.dst.QualifiedName(),
			SourceCount: s,
			TargetCount: d,
			Message:     fmt.Sprintf("count mismatch: source=%d, target=%d (diff=%d)", s, d, s-d),
		})
	}
	return out, nil
}

func sortDiscrepancies(d []Discrepancy) {
	sort.Slice(d, func(i, j int) bool { return d[i].FullName < d[j].FullName })
}

// Summary renders the report as a short text block.
func (rep *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verification %s: %d source tables, %d target tables, %d matched\n",
		rep.Status, rep.SourceTables, rep.TargetTables, rep.Matched)
	for _, m := range rep.Missing {
		fmt.Fprintf(&b, "  MISSING  %s (%d columns)\n", m.FullName, m.ColumnCount)
	}
	for _, m := range rep.RowMismatches {
		fmt.Fprintf(&b, "  ROWS     %s: %s\n", m.Target, m.Message)
	}
	for _, e := range rep.Extra {
		fmt.Fprintf(&b, "  EXTRA    %s\n", e.FullName)
	}
	return b.String()
}

// WriteJSON writes the report to path.
func (rep *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling verification report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing verification report: %w", err)
	}
	return nil
}
