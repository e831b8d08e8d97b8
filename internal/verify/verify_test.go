package verify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dmeworks/schemashift/internal/naming"
	"github.com/dmeworks/schemashift/internal/schema"
)

type fakeInspector struct {
	cat  *schema.Catalog
	err  error
	rows map[string]int64
}

func (f *fakeInspector) Inspect(context.Context) (*schema.Catalog, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cat, nil
}

func (f *fakeInspector) RowCount(_ context.Context, schemaName, table string) (int64, error) {
	return f.rows[schemaName+"."+table], nil
}

// catalogOnly hides RowCount.
type catalogOnly struct{ cat *schema.Catalog }

func (c catalogOnly) Inspect(context.Context) (*schema.Catalog, error) { return c.cat, nil }

func cols(n int) []schema.Column {
	out := make([]schema.Column, n)
	for i := range out {
		out[i] = schema.Column{Name: string(rune('a' + i)), DataType: "integer"}
	}
	return out
}

func sourceCatalog() *schema.Catalog {
	return &schema.Catalog{Database: "legacy", Tables: []schema.Table{
		{Schema: "dmeworks", Name: "tbl_doctortype", Columns: cols(2)},
		{
			Schema:      "dmeworks",
			Name:        "tbl_doctor",
			Columns:     cols(3),
			ForeignKeys: []schema.ForeignKey{{Name: "fk_type", Columns: []string{"b"}, ReferencedTable: "tbl_doctortype", ReferencedColumns: []string{"a"}}},
		},
		{Schema: "repository", Name: "tbl_globals", Columns: cols(1)},
		{Schema: "pg_catalog", Name: "pg_class", Columns: cols(30)},
	}}
}

func targetCatalog() *schema.Catalog {
	return &schema.Catalog{Database: "dmeworks", Tables: []schema.Table{
		{Schema: "dmeworks", Name: "doctortypes", Columns: cols(2)},
		{Schema: "dmeworks", Name: "globals", Columns: cols(1)},
		{Schema: "dmeworks", Name: "audit_notes", Columns: cols(4)},
		{Schema: "information_schema", Name: "tables", Columns: cols(12)},
	}}
}

func TestCompare_MissingAndExtra(t *testing.T) {
	r := &Reporter{Naming: naming.Default(), TargetSchema: "dmeworks"}
	rep, err := r.Compare(context.Background(), &fakeInspector{cat: sourceCatalog()}, &fakeInspector{cat: targetCatalog()})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if rep.Status != "FAIL" {
		t.Errorf("Status = %s", rep.Status)
	}
	if rep.SourceTables != 3 || rep.TargetTables != 3 || rep.Matched != 2 {
		t.Errorf("counts = %d/%d/%d", rep.SourceTables, rep.TargetTables, rep.Matched)
	}
	if len(rep.Missing) != 1 {
		t.Fatalf("Missing = %+v", rep.Missing)
	}
	m := rep.Missing[0]
	if m.FullName != "dmeworks.doctors" || m.ColumnCount != 3 || !m.PresentInSource || m.PresentInTarget {
		t.Errorf("missing entry = %+v", m)
	}
	if !strings.Contains(m.CreateStatement, `CREATE TABLE IF NOT EXISTS "dmeworks"."doctors"`) ||
		!strings.Contains(m.CreateStatement, `REFERENCES "dmeworks"."doctortypes"`) {
		t.Errorf("CreateStatement = %s", m.CreateStatement)
	}

	var extra []string
	for _, e := range rep.Extra {
		extra = append(extra, e.FullName)
	}
	if diff := cmp.Diff([]string{"dmeworks.audit_notes"}, extra); diff != "" {
		t.Errorf("extra mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_IdenticalPasses(t *testing.T) {
	r := &Reporter{}
	rep, err := r.Compare(context.Background(), catalogOnly{cat: targetCatalog()}, catalogOnly{cat: targetCatalog()})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if rep.Status != "PASS" || len(rep.Missing) != 0 || len(rep.Extra) != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestCompare_Unreachable(t *testing.T) {
	r := &Reporter{}
	_, err := r.Compare(context.Background(),
		&fakeInspector{cat: sourceCatalog()},
		&fakeInspector{err: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")})

	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectivityError, got %v", err)
	}
	if connErr.Side != "target" {
		t.Errorf("Side = %s", connErr.Side)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("underlying message lost: %v", err)
	}
}

func TestCompare_RowCounts(t *testing.T) {
	src := &fakeInspector{cat: sourceCatalog(), rows: map[string]int64{
		"dmeworks.tbl_doctortype": 12,
		"repository.tbl_globals":  3,
	}}
	dst := &fakeInspector{cat: targetCatalog(), rows: map[string]int64{
		"dmeworks.doctortypes": 12,
		"dmeworks.globals":     2,
	}}
	r := &Reporter{Naming: naming.Default(), TargetSchema: "dmeworks", CountRows: true}
	rep, err := r.Compare(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	want := []RowMismatch{{
		Source:      "repository.tbl_globals",
		Target:      "dmeworks.globals",
		SourceCount: 3,
		TargetCount: 2,
		Message:     "count mismatch: source=3, target=2 (diff=1)",
	}}
	if diff := cmp.Diff(want, rep.RowMismatches); diff != "" {
		t.Errorf("row mismatches (-want +got):\n%s", diff)
	}
}

func TestCompare_RowCountsSkippedWithoutCounter(t *testing.T) {
	r := &Reporter{CountRows: true}
	rep, err := r.Compare(context.Background(), catalogOnly{cat: targetCatalog()}, catalogOnly{cat: targetCatalog()})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(rep.RowMismatches) != 0 {
		t.Errorf("RowMismatches = %+v", rep.RowMismatches)
	}
}

func TestReport_WriteJSONAndSummary(t *testing.T) {
	r := &Reporter{Naming: naming.Default(), TargetSchema: "dmeworks"}
	rep, err := r.Compare(context.Background(), &fakeInspector{cat: sourceCatalog()}, &fakeInspector{cat: targetCatalog()})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "verify.json")
	if err := rep.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["status"] != "FAIL" {
		t.Errorf("status = %v", decoded["status"])
	}

	s := rep.Summary()
	if !strings.Contains(s, "MISSING  dmeworks.doctors (3 columns)") || !strings.Contains(s, "EXTRA    dmeworks.audit_notes") {
		t.Errorf("Summary:\n%s", s)
	}
}

func TestTargetName_RemapsReferencedSchema(t *testing.T) {
	r := &Reporter{Naming: naming.Default(), TargetSchema: "dmeworks"}
	src := schema.Table{
		Schema: "repository",
		Name:   "tbl_order",
		ForeignKeys: []schema.ForeignKey{
			{Name: "fk_customer", Columns: []string{"customer_id"}, ReferencedSchema: "repository", ReferencedTable: "tbl_customer"},
			{Name: "fk_region", Columns: []string{"region_id"}, ReferencedTable: "tbl_region"},
		},
	}

	got := r.targetName(src)
	want := []schema.ForeignKey{
		{Name: "fk_customer", Columns: []string{"customer_id"}, ReferencedSchema: "dmeworks", ReferencedTable: "customers"},
		{Name: "fk_region", Columns: []string{"region_id"}, ReferencedTable: "regions"},
	}
	if got.Schema != "dmeworks" || got.Name != "orders" {
		t.Errorf("table = %s.%s", got.Schema, got.Name)
	}
	if diff := cmp.Diff(want, got.ForeignKeys); diff != "" {
		t.Errorf("foreign keys mismatch (-want +got):\n%s", diff)
	}
	if src.ForeignKeys[0].ReferencedSchema != "repository" {
		t.Error("source table was modified")
	}
}
