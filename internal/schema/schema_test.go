package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testCatalog() *Catalog {
	return &Catalog{
		Database: "dmeworks",
		Tables: []Table{
			{
				Schema:   "dmeworks",
				Name:     "tbl_doctortype",
				RowCount: 12,
				Columns: []Column{
					{Name: "id", DataType: "integer"},
					{Name: "name", DataType: "character varying(50)"},
				},
				PrimaryKey: &PrimaryKey{Name: "tbl_doctortype_pkey", Columns: []string{"id"}},
			},
			{
				Schema:   "dmeworks",
				Name:     "tbl_doctor",
				RowCount: 340,
				Columns: []Column{
					{Name: "id", DataType: "integer"},
					{Name: "type_id", DataType: "integer"},
					{Name: "referred_by", DataType: "integer", Nullable: true},
				},
				ForeignKeys: []ForeignKey{
					{Name: "fk_doctor_type", Columns: []string{"type_id"}, ReferencedTable: "tbl_doctortype", ReferencedColumns: []string{"id"}},
					{Name: "fk_doctor_referrer", Columns: []string{"referred_by"}, ReferencedTable: "tbl_doctor", ReferencedColumns: []string{"id"}},
					{Name: "fk_doctor_user", Columns: []string{"type_id"}, ReferencedSchema: "repository", ReferencedTable: "tbl_user", ReferencedColumns: []string{"id"}},
				},
			},
			{Schema: "repository", Name: "tbl_globals"},
			{Schema: "pg_catalog", Name: "pg_class"},
		},
	}
}

func TestWriteAndLoadYAML(t *testing.T) {
	c := testCatalog()
	path := filepath.Join(t.TempDir(), "catalog", "catalog.yaml")

	if err := c.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("catalog file not created: %v", err)
	}

	loaded, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if diff := cmp.Diff(c, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAML_Missing(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSchemas_ExcludesSystem(t *testing.T) {
	got := testCatalog().Schemas()
	want := []string{"dmeworks", "repository"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Schemas() mismatch (-want +got):\n%s", diff)
	}
}

func TestLookup(t *testing.T) {
	c := testCatalog()
	if c.Lookup("dmeworks", "tbl_doctor") == nil {
		t.Error("expected dmeworks.tbl_doctor")
	}
	if c.Has("repository", "tbl_doctor") {
		t.Error("tbl_doctor is not in repository")
	}
}

func TestOccupant(t *testing.T) {
	c := testCatalog()
	c.Relations = []Relation{
		{Schema: "dmeworks", Name: "customers", Kind: KindView},
		{Schema: "dmeworks", Name: "customers_id_seq", Kind: KindSequence},
	}

	tests := []struct {
		schema, name string
		want         string
	}{
		{"dmeworks", c.Tables[0].Name, KindTable},
		{"dmeworks", "customers", KindView},
		{"dmeworks", "customers_id_seq", KindSequence},
		{"repository", "customers", ""},
		{"dmeworks", "invoices", ""},
	}
	for _, tt := range tests {
		if got := c.Occupant(tt.schema, tt.name); got != tt.want {
			t.Errorf("Occupant(%s, %s) = %q, want %q", tt.schema, tt.name, got, tt.want)
		}
	}

	clone := c.Clone()
	clone.Relations[0].Name = "changed"
	if c.Relations[0].Name != "customers" {
		t.Error("Clone shares Relations")
	}
}

func TestRequired(t *testing.T) {
	c := testCatalog()
	doc := c.Lookup("dmeworks", "tbl_doctor")
	if !doc.Required(doc.ForeignKeys[0]) {
		t.Error("fk on NOT NULL type_id should be required")
	}
	if doc.Required(doc.ForeignKeys[1]) {
		t.Error("fk on nullable referred_by should not be required")
	}
}

func TestForeignKeyTarget(t *testing.T) {
	doc := testCatalog().Lookup("dmeworks", "tbl_doctor")
	if got := doc.ForeignKeys[0].Target(doc.Schema); got != "dmeworks.tbl_doctortype" {
		t.Errorf("Target = %q", got)
	}
	if got := doc.ForeignKeys[2].Target(doc.Schema); got != "repository.tbl_user" {
		t.Errorf("Target = %q", got)
	}
}

func TestRenamed(t *testing.T) {
	c := testCatalog()
	upper := func(s string) (string, error) { return strings.TrimPrefix(s, "tbl_") + "s", nil }

	out, err := c.Renamed(upper)
	if err != nil {
		t.Fatal(err)
	}
	doc := out.Lookup("dmeworks", "doctors")
	if doc == nil {
		t.Fatal("expected dmeworks.doctors")
	}
	if doc.ForeignKeys[0].ReferencedTable != "doctortypes" {
		t.Errorf("fk target = %q, want doctortypes", doc.ForeignKeys[0].ReferencedTable)
	}
	if doc.ForeignKeys[1].ReferencedTable != "doctors" {
		t.Errorf("self fk target = %q, want doctors", doc.ForeignKeys[1].ReferencedTable)
	}
	// repository.tbl_user is not in the catalog, so the reference is kept.
	if doc.ForeignKeys[2].ReferencedTable != "tbl_user" {
		t.Errorf("external fk target = %q, want tbl_user", doc.ForeignKeys[2].ReferencedTable)
	}
	// The original is untouched.
	if c.Tables[1].ForeignKeys[0].ReferencedTable != "tbl_doctortype" {
		t.Error("Renamed mutated the source catalog")
	}
}

func TestSummary(t *testing.T) {
	s := testCatalog().Summary()
	if !strings.Contains(s, "Found 4 tables in 2 schemas") {
		t.Errorf("unexpected summary: %s", s)
	}
	if !strings.Contains(s, "Total rows: 352") {
		t.Errorf("unexpected summary: %s", s)
	}
}
