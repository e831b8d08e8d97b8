// Package ddl turns typed schema commands into escaped SQL statements and
// loads table definitions from SQL scripts.
package ddl

import (
	"fmt"
	"strings"

	"github.com/dmeworks/schemashift/internal/schema"
)

// Command is a schema mutation that renders to one or more SQL statements.
type Command interface {
	Statements() []string
}

// RenameCommand renames a table within its schema.
type RenameCommand struct {
	Schema string
	From   string
	To     string
}

func (c RenameCommand) Statements() []string {
	return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", Qualified(c.Schema, c.From), QuoteIdent(c.To))}
}

// Reverse returns the command that undoes c.
func (c RenameCommand) Reverse() RenameCommand {
	return RenameCommand{Schema: c.Schema, From: c.To, To: c.From}
}

// CreateSchemaCommand creates a schema if it is missing.
type CreateSchemaCommand struct {
	Schema string
}

func (c CreateSchemaCommand) Statements() []string {
	return []string{"CREATE SCHEMA IF NOT EXISTS " + QuoteIdent(c.Schema)}
}

// CreateTableCommand creates a table with its columns, primary key and the
// foreign keys not listed in Skip. Skipped foreign keys are added later with
// AddForeignKeyCommand.
type CreateTableCommand struct {
	Table       schema.Table
	IfNotExists bool
	Skip        map[string]bool // foreign key names to leave out
}

func (c CreateTableCommand) Statements() []string {
	t := c.Table
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if c.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(Qualified(t.Schema, t.Name))
	b.WriteString(" (\n")

	var parts []string
	for _, col := range t.Columns {
		parts = append(parts, "    "+columnDef(col))
	}
	if t.PrimaryKey != nil && len(t.PrimaryKey.Columns) > 0 {
		pk := "    "
		if t.PrimaryKey.Name != "" {
			pk += "CONSTRAINT " + QuoteIdent(t.PrimaryKey.Name) + " "
		}
		pk += "PRIMARY KEY (" + quoteList(t.PrimaryKey.Columns) + ")"
		parts = append(parts, pk)
	}
	for _, fk := range t.ForeignKeys {
		if c.Skip[fk.Name] {
			continue
		}
		parts = append(parts, "    "+foreignKeyClause(t.Schema, fk))
	}

	b.WriteString(strings.Join(parts, ",\n"))
	b.WriteString("\n)")
	return []string{b.String()}
}

// AddForeignKeyCommand adds a foreign key to an existing table.
type AddForeignKeyCommand struct {
	Schema string
	Table  string
	FK     schema.ForeignKey
}

func (c AddForeignKeyCommand) Statements() []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", Qualified(c.Schema, c.Table), foreignKeyClause(c.Schema, c.FK))}
}

// SnapshotCommand copies every row of a table into a new backup table.
// The copy is a real table, not a view.
type SnapshotCommand struct {
	SourceSchema string
	SourceTable  string
	BackupSchema string
	BackupTable  string
}

func (c SnapshotCommand) Statements() []string {
	return []string{
		CreateSchemaCommand{Schema: c.BackupSchema}.Statements()[0],
		fmt.Sprintf("CREATE TABLE %s AS TABLE %s", Qualified(c.BackupSchema, c.BackupTable), Qualified(c.SourceSchema, c.SourceTable)),
	}
}

// RestoreCommand recreates a dropped table from its backup.
type RestoreCommand struct {
	BackupSchema string
	BackupTable  string
	Schema       string
	Table        string
}

func (c RestoreCommand) Statements() []string {
	return []string{fmt.Sprintf("CREATE TABLE %s AS TABLE %s", Qualified(c.Schema, c.Table), Qualified(c.BackupSchema, c.BackupTable))}
}

// DropConstraintCommand drops one named constraint.
type DropConstraintCommand struct {
	Schema     string
	Table      string
	Constraint string
}

func (c DropConstraintCommand) Statements() []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s CASCADE", Qualified(c.Schema, c.Table), QuoteIdent(c.Constraint))}
}

// DropTableCommand drops a table.
type DropTableCommand struct {
	Schema  string
	Table   string
	Cascade bool
}

func (c DropTableCommand) Statements() []string {
	stmt := "DROP TABLE " + Qualified(c.Schema, c.Table)
	if c.Cascade {
		stmt += " CASCADE"
	}
	return []string{stmt}
}

// Flatten renders commands to statements in order.
func Flatten(cmds ...Command) []string {
	var out []string
	for _, c := range cmds {
		out = append(out, c.Statements()...)
	}
	return out
}

func columnDef(col schema.Column) string {
	s := QuoteIdent(col.Name) + " " + col.DataType
	if !col.Nullable {
		s += " NOT NULL"
	}
	if col.DefaultValue != nil && *col.DefaultValue != "" {
		s += " DEFAULT " + *col.DefaultValue
	}
	return s
}

func foreignKeyClause(owner string, fk schema.ForeignKey) string {
	var b strings.Builder
	if fk.Name != "" {
		b.WriteString("CONSTRAINT " + QuoteIdent(fk.Name) + " ")
	}
	refSchema := fk.ReferencedSchema
	if refSchema == "" {
		refSchema = owner
	}
	b.WriteString("FOREIGN KEY (" + quoteList(fk.Columns) + ") REFERENCES " + Qualified(refSchema, fk.ReferencedTable))
	if len(fk.ReferencedColumns) > 0 {
		b.WriteString(" (" + quoteList(fk.ReferencedColumns) + ")")
	}
	return b.String()
}
