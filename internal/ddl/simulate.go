package ddl

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/dmeworks/schemashift/internal/schema"
)

// Simulate applies statements to a copy of cat and returns the result. It
// understands the statements this package renders: CREATE SCHEMA, CREATE
// TABLE, CREATE TABLE ... AS TABLE, ALTER TABLE ... RENAME TO, ADD and DROP
// CONSTRAINT, and DROP TABLE. Views, sequences and indexes only claim names. Errors mirror what Postgres would report, so a
// dry run fails where the real run would. Row counts follow snapshots.
func Simulate(cat *schema.Catalog, stmts []string, defaultSchema string) (*schema.Catalog, error) {
	l := newLoader(defaultSchema)
	for _, t := range cat.Tables {
		nt := t.Clone()
		key := nt.QualifiedName()
		l.tables[key] = &nt
		l.order = append(l.order, key)
	}
	l.relations = append(l.relations, cat.Relations...)

	for _, stmt := range stmts {
		result, err := pg_query.Parse(stmt)
		if err != nil {
			return nil, fmt.Errorf("pg_query parse error: %w", err)
		}
		for _, raw := range result.Stmts {
			if err := l.apply(raw.Stmt); err != nil {
				return nil, err
			}
		}
	}

	out := l.catalog()
	out.Database = cat.Database
	out.Host = cat.Host
	return out, nil
}

func (l *loader) apply(n *pg_query.Node) error {
	if r, tolerant, ok := l.relationStmt(n); ok {
		return l.addRelation(r, tolerant)
	}
	switch node := n.Node.(type) {
	case *pg_query.Node_CreateStmt:
		s, name := l.relation(node.CreateStmt.Relation)
		switch kind := l.occupant(s, name); {
		case kind == schema.KindTable && node.CreateStmt.IfNotExists:
		case kind != "":
			return fmt.Errorf("relation %q already exists", name)
		}
		l.createTable(node.CreateStmt)
	case *pg_query.Node_CreateTableAsStmt:
		return l.createTableAs(node.CreateTableAsStmt)
	case *pg_query.Node_RenameStmt:
		return l.rename(node.RenameStmt)
	case *pg_query.Node_AlterTableStmt:
		return l.alterTableStrict(node.AlterTableStmt)
	case *pg_query.Node_DropStmt:
		return l.drop(node.DropStmt)
	case *pg_query.Node_CreateSchemaStmt:
		// schemas are implied by their tables
	}
	return nil
}

func (l *loader) lookup(rv *pg_query.RangeVar) (*schema.Table, error) {
	s, name := l.relation(rv)
	t, ok := l.tables[schema.Qualify(s, name)]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", schema.Qualify(s, name))
	}
	return t, nil
}

func (l *loader) createTableAs(stmt *pg_query.CreateTableAsStmt) error {
	if stmt.Into == nil || stmt.Into.Rel == nil {
		return nil
	}
	from := stmt.Query.GetSelectStmt().GetFromClause()
	if len(from) != 1 || from[0].GetRangeVar() == nil {
		return fmt.Errorf("unsupported CREATE TABLE AS source")
	}
	src, err := l.lookup(from[0].GetRangeVar())
	if err != nil {
		return err
	}
	s, name := l.relation(stmt.Into.Rel)
	key := schema.Qualify(s, name)
	if l.occupant(s, name) != "" {
		if stmt.IfNotExists {
			return nil
		}
		return fmt.Errorf("relation %q already exists", name)
	}
	// CREATE TABLE AS copies columns and rows, never constraints
	t := &schema.Table{Schema: s, Name: name, RowCount: src.RowCount}
	for _, c := range src.Columns {
		c.Nullable = true
		t.Columns = append(t.Columns, c)
	}
	l.tables[key] = t
	l.order = append(l.order, key)
	return nil
}

func (l *loader) rename(stmt *pg_query.RenameStmt) error {
	if stmt.RenameType != pg_query.ObjectType_OBJECT_TABLE || stmt.Relation == nil {
		return nil
	}
	t, err := l.lookup(stmt.Relation)
	if err != nil {
		return err
	}
	oldKey := t.QualifiedName()
	newKey := schema.Qualify(t.Schema, stmt.Newname)
	if l.occupant(t.Schema, stmt.Newname) != "" {
		return fmt.Errorf("relation %q already exists", stmt.Newname)
	}

	for _, other := range l.tables {
		for i, fk := range other.ForeignKeys {
			if fk.Target(other.Schema) == oldKey {
				other.ForeignKeys[i].ReferencedTable = stmt.Newname
			}
		}
	}
	for i := range l.relations {
		if l.relations[i].Schema == t.Schema && l.relations[i].Table == t.Name {
			l.relations[i].Table = stmt.Newname
		}
	}
	t.Name = stmt.Newname
	delete(l.tables, oldKey)
	l.tables[newKey] = t
	for i, k := range l.order {
		if k == oldKey {
			l.order[i] = newKey
		}
	}
	return nil
}

func (l *loader) alterTableStrict(stmt *pg_query.AlterTableStmt) error {
	if stmt.Relation == nil {
		return nil
	}
	t, err := l.lookup(stmt.Relation)
	if err != nil {
		return err
	}
	for _, n := range stmt.Cmds {
		cmd := n.GetAlterTableCmd()
		if cmd == nil {
			continue
		}
		switch cmd.Subtype {
		case pg_query.AlterTableType_AT_AddConstraint:
			if cons := cmd.Def.GetConstraint(); cons != nil {
				if cons.Conname != "" && hasConstraint(t, cons.Conname) {
					return fmt.Errorf("constraint %q for relation %q already exists", cons.Conname, t.Name)
				}
				l.tableConstraint(t, cons)
			}
		case pg_query.AlterTableType_AT_DropConstraint:
			if !dropConstraint(t, cmd.Name) && !cmd.MissingOk {
				return fmt.Errorf("constraint %q of relation %q does not exist", cmd.Name, t.Name)
			}
		}
	}
	return nil
}

func (l *loader) drop(stmt *pg_query.DropStmt) error {
	if stmt.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}
	cascade := stmt.Behavior == pg_query.DropBehavior_DROP_CASCADE
	for _, obj := range stmt.Objects {
		parts := nodeStrings(obj.GetList().GetItems())
		rv := &pg_query.RangeVar{}
		switch len(parts) {
		case 1:
			rv.Relname = parts[0]
		case 2:
			rv.Schemaname, rv.Relname = parts[0], parts[1]
		default:
			continue
		}
		t, err := l.lookup(rv)
		if err != nil {
			if stmt.MissingOk {
				continue
			}
			return err
		}
		key := t.QualifiedName()
		for _, other := range l.tables {
			if other == t {
				continue
			}
			kept := other.ForeignKeys[:0]
			for _, fk := range other.ForeignKeys {
				if fk.Target(other.Schema) != key {
					kept = append(kept, fk)
					continue
				}
				if !cascade {
					return fmt.Errorf("cannot drop table %s because other objects depend on it", t.Name)
				}
			}
			other.ForeignKeys = kept
		}
		kept := l.relations[:0]
		for _, r := range l.relations {
			if r.Schema != t.Schema || r.Table != t.Name {
				kept = append(kept, r)
			}
		}
		l.relations = kept
		delete(l.tables, key)
		for i, k := range l.order {
			if k == key {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func hasConstraint(t *schema.Table, name string) bool {
	if t.PrimaryKey != nil && t.PrimaryKey.Name == name {
		return true
	}
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return true
		}
	}
	return false
}

func dropConstraint(t *schema.Table, name string) bool {
	if t.PrimaryKey != nil && t.PrimaryKey.Name == name {
		t.PrimaryKey = nil
		return true
	}
	for i, fk := range t.ForeignKeys {
		if fk.Name == name {
			t.ForeignKeys = append(t.ForeignKeys[:i], t.ForeignKeys[i+1:]...)
			return true
		}
	}
	return false
}
