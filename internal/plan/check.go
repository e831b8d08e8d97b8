// Package plan computes rename plans for a catalog and checks each proposed
// name for collisions before anything is executed.
package plan

import (
	"fmt"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
)

// NameCollisionError reports that another object already holds the proposed
// name.
type NameCollisionError struct {
	Schema   string
	OldName  string
	NewName  string
	Occupant string // the object holding NewName; empty for a batch-internal clash
	Kind     string // schema.Kind* of the occupant
}

func (e *NameCollisionError) Error() string {
	if e.Occupant == "" {
		return fmt.Sprintf("%s.%s: target name %s is already claimed by another table in this batch", e.Schema, e.OldName, e.NewName)
	}
	kind := e.Kind
	if kind == "" {
		kind = schema.KindTable
	}
	return fmt.Sprintf("%s.%s: %s %s already exists", e.Schema, e.OldName, kind, e.NewName)
}

// TableTwin reports whether the occupant is a table, which makes the source
// table a duplicate to back up and drop.
func (e *NameCollisionError) TableTwin() bool {
	return e.Occupant != "" && (e.Kind == "" || e.Kind == schema.KindTable)
}

// IdentifierTooLongError reports a target name Postgres would truncate.
type IdentifierTooLongError struct {
	Name string
}

func (e *IdentifierTooLongError) Error() string {
	return fmt.Sprintf("identifier %q is %d bytes, limit is %d", e.Name, len(e.Name), ddl.MaxIdentifierLength)
}

// Verdict is the outcome of a collision check.
type Verdict struct {
	Status audit.Status
	Err    error
}

// Ready reports whether the rename may run.
func (v Verdict) Ready() bool {
	return v.Status == audit.StatusReady
}

// Reason is the error text, or empty for READY.
func (v Verdict) Reason() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Check decides whether oldName can be renamed to newName in schemaName
// against a catalog snapshot. It never reads the database.
func Check(schemaName, oldName, newName string, cat *schema.Catalog) Verdict {
	if len(newName) > ddl.MaxIdentifierLength {
		return Verdict{Status: audit.StatusError, Err: &IdentifierTooLongError{Name: newName}}
	}
	if newName == oldName {
		return Verdict{Status: audit.StatusReady}
	}
	if cat != nil {
		if kind := cat.Occupant(schemaName, newName); kind != "" {
			return Verdict{Status: audit.StatusError, Err: &NameCollisionError{
				Schema:   schemaName,
				OldName:  oldName,
				NewName:  newName,
				Occupant: schema.Qualify(schemaName, newName),
				Kind:     kind,
			}}
		}
	}
	return Verdict{Status: audit.StatusReady}
}
