package schema

import (
	"fmt"
	"sort"
	"strings"
)

// SystemSchemas are never treated as migration input.
var SystemSchemas = map[string]bool{
	"pg_catalog":         true,
	"information_schema": true,
	"pg_toast":           true,
}

// IsSystemSchema reports whether name is a Postgres system schema.
func IsSystemSchema(name string) bool {
	return SystemSchemas[name] || strings.HasPrefix(name, "pg_temp_") || strings.HasPrefix(name, "pg_toast_temp_")
}

// Catalog is a snapshot of the tables in one database, across schemas.
type Catalog struct {
	Database string  `yaml:"database,omitempty"`
	Host     string  `yaml:"host,omitempty"`
	Tables   []Table `yaml:"tables"`

	// Relations are the other objects sharing a schema's table namespace.
	Relations []Relation `yaml:"relations,omitempty"`
}

// Kinds of object that can hold a relation name.
const (
	KindTable            = "table"
	KindView             = "view"
	KindMaterializedView = "materialized view"
	KindSequence         = "sequence"
	KindIndex            = "index"
	KindForeignTable     = "foreign table"
	KindCompositeType    = "composite type"
	KindPartition        = "partition"
)

// Relation is a non-table object with a name in a schema: a view, sequence,
// index and so on. A table cannot be renamed onto any of them.
type Relation struct {
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Table  string `yaml:"table,omitempty"` // owning table of an index
}

// Table represents a database table.
type Table struct {
	Schema      string       `yaml:"schema"`
	Name        string       `yaml:"name"`
	Columns     []Column     `yaml:"columns,omitempty"`
	PrimaryKey  *PrimaryKey  `yaml:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty"`
	RowCount    int64        `yaml:"row_count,omitempty"`
}

// Column represents a table column.
type Column struct {
	Name         string  `yaml:"name"`
	DataType     string  `yaml:"data_type"`
	Nullable     bool    `yaml:"nullable"`
	DefaultValue *string `yaml:"default_value,omitempty"`
}

// PrimaryKey represents a table's primary key.
type PrimaryKey struct {
	Name    string   `yaml:"name,omitempty"`
	Columns []string `yaml:"columns"`
}

// ForeignKey represents a foreign key relationship. An empty ReferencedSchema
// means the referencing table's own schema.
type ForeignKey struct {
	Name              string   `yaml:"name,omitempty"`
	Columns           []string `yaml:"columns"`
	ReferencedSchema  string   `yaml:"referenced_schema,omitempty"`
	ReferencedTable   string   `yaml:"referenced_table"`
	ReferencedColumns []string `yaml:"referenced_columns,omitempty"`
}

// QualifiedName returns schema.name, unquoted.
func (t *Table) QualifiedName() string {
	return Qualify(t.Schema, t.Name)
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Target returns the qualified name of the referenced table, resolving an
// empty ReferencedSchema against owner.
func (fk ForeignKey) Target(owner string) string {
	s := fk.ReferencedSchema
	if s == "" {
		s = owner
	}
	return Qualify(s, fk.ReferencedTable)
}

// Required reports whether every referencing column of fk is NOT NULL on t,
// i.e. a row cannot exist before the referenced row does. Columns missing
// from t are treated as NOT NULL.
func (t *Table) Required(fk ForeignKey) bool {
	if len(fk.Columns) == 0 {
		return true
	}
	for _, c := range fk.Columns {
		if col := t.Column(c); col != nil && col.Nullable {
			return false
		}
	}
	return true
}

// NameConstraints fills in missing primary and foreign key names with the
// names Postgres would generate (table_pkey, table_col_fkey).
func (t *Table) NameConstraints() {
	if t.PrimaryKey != nil && t.PrimaryKey.Name == "" {
		t.PrimaryKey.Name = t.Name + "_pkey"
	}
	used := make(map[string]bool)
	for _, fk := range t.ForeignKeys {
		if fk.Name != "" {
			used[fk.Name] = true
		}
	}
	for i, fk := range t.ForeignKeys {
		if fk.Name != "" {
			continue
		}
		base := t.Name + "_" + strings.Join(fk.Columns, "_") + "_fkey"
		name := base
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s%d", base, n)
		}
		used[name] = true
		t.ForeignKeys[i].Name = name
	}
}

// Qualify joins a schema and name with a dot.
func Qualify(schemaName, name string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}

// Lookup returns the table with the given schema and name, or nil.
func (c *Catalog) Lookup(schemaName, name string) *Table {
	for i := range c.Tables {
		if c.Tables[i].Schema == schemaName && c.Tables[i].Name == name {
			return &c.Tables[i]
		}
	}
	return nil
}

// Occupant returns the kind of object named schemaName.name, KindTable for a
// table, or "" when the name is free.
func (c *Catalog) Occupant(schemaName, name string) string {
	if c.Has(schemaName, name) {
		return KindTable
	}
	for _, r := range c.Relations {
		if r.Schema == schemaName && r.Name == name {
			return r.Kind
		}
	}
	return ""
}

// Has reports whether the catalog contains schemaName.name.
func (c *Catalog) Has(schemaName, name string) bool {
	return c.Lookup(schemaName, name) != nil
}

// Schemas returns the sorted distinct schema names, system schemas excluded.
func (c *Catalog) Schemas() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.Tables {
		if IsSystemSchema(t.Schema) || seen[t.Schema] {
			continue
		}
		seen[t.Schema] = true
		out = append(out, t.Schema)
	}
	sort.Strings(out)
	return out
}

// InSchema returns the tables of one schema in catalog order.
func (c *Catalog) InSchema(schemaName string) []Table {
	var out []Table
	for _, t := range c.Tables {
		if t.Schema == schemaName {
			out = append(out, t)
		}
	}
	return out
}

// UserTables returns all tables outside system schemas.
func (c *Catalog) UserTables() []Table {
	var out []Table
	for _, t := range c.Tables {
		if !IsSystemSchema(t.Schema) {
			out = append(out, t)
		}
	}
	return out
}

// Renamed returns a deep copy of the catalog with every table name, and every
// foreign key reference to a table in the catalog, mapped through rename.
// References to tables outside the catalog are left untouched.
func (c *Catalog) Renamed(rename func(string) (string, error)) (*Catalog, error) {
	known := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		known[t.QualifiedName()] = true
	}

	out := &Catalog{Database: c.Database, Host: c.Host, Tables: make([]Table, 0, len(c.Tables))}
	for _, t := range c.Tables {
		nt := t.Clone()
		newName, err := rename(t.Name)
		if err != nil {
			return nil, err
		}
		nt.Name = newName
		for i, fk := range nt.ForeignKeys {
			if !known[fk.Target(t.Schema)] {
				continue
			}
			ref, err := rename(fk.ReferencedTable)
			if err != nil {
				return nil, err
			}
			nt.ForeignKeys[i].ReferencedTable = ref
		}
		out.Tables = append(out.Tables, nt)
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	out := t
	out.Columns = append([]Column(nil), t.Columns...)
	if t.PrimaryKey != nil {
		pk := *t.PrimaryKey
		pk.Columns = append([]string(nil), t.PrimaryKey.Columns...)
		out.PrimaryKey = &pk
	}
	out.ForeignKeys = make([]ForeignKey, len(t.ForeignKeys))
	for i, fk := range t.ForeignKeys {
		fk.Columns = append([]string(nil), fk.Columns...)
		fk.ReferencedColumns = append([]string(nil), fk.ReferencedColumns...)
		out.ForeignKeys[i] = fk
	}
	if len(t.ForeignKeys) == 0 {
		out.ForeignKeys = nil
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{Database: c.Database, Host: c.Host, Tables: make([]Table, len(c.Tables))}
	for i, t := range c.Tables {
		out.Tables[i] = t.Clone()
	}
	if len(c.Relations) > 0 {
		out.Relations = append([]Relation(nil), c.Relations...)
	}
	return out
}
