package ddl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/dmeworks/schemashift/internal/schema"
)

// LoadScripts parses every .sql file in dir, in filename order, and returns
// the tables they create as a catalog. Views, materialized views, sequences
// and named indexes are kept as relations. Other statements except ALTER
// TABLE ... ADD CONSTRAINT are ignored.
func LoadScripts(dir, defaultSchema string) (*schema.Catalog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	sort.Strings(matches)

	l := newLoader(defaultSchema)
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := l.load(string(data)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	}
	return l.catalog(), nil
}

// ParseScript parses one SQL script into a catalog.
func ParseScript(sql, defaultSchema string) (*schema.Catalog, error) {
	l := newLoader(defaultSchema)
	if err := l.load(sql); err != nil {
		return nil, err
	}
	return l.catalog(), nil
}

type loader struct {
	defaultSchema string
	tables        map[string]*schema.Table
	order         []string
	relations     []schema.Relation
}

func newLoader(defaultSchema string) *loader {
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return &loader{defaultSchema: defaultSchema, tables: make(map[string]*schema.Table)}
}

func (l *loader) catalog() *schema.Catalog {
	c := &schema.Catalog{}
	for _, key := range l.order {
		t := l.tables[key]
		t.NameConstraints()
		c.Tables = append(c.Tables, *t)
	}
	if len(l.relations) > 0 {
		c.Relations = append([]schema.Relation(nil), l.relations...)
	}
	return c
}

// occupant returns the kind of object named schemaName.name, or "".
func (l *loader) occupant(schemaName, name string) string {
	if _, ok := l.tables[schema.Qualify(schemaName, name)]; ok {
		return schema.KindTable
	}
	for _, r := range l.relations {
		if r.Schema == schemaName && r.Name == name {
			return r.Kind
		}
	}
	return ""
}

// relationStmt returns the relation a view, materialized view, sequence or
// named index statement creates, and whether the statement tolerates an
// existing name. ok is false for any other statement.
func (l *loader) relationStmt(n *pg_query.Node) (r schema.Relation, tolerant, ok bool) {
	switch node := n.Node.(type) {
	case *pg_query.Node_ViewStmt:
		r.Schema, r.Name = l.relation(node.ViewStmt.View)
		r.Kind = schema.KindView
		return r, node.ViewStmt.Replace, true
	case *pg_query.Node_CreateSeqStmt:
		r.Schema, r.Name = l.relation(node.CreateSeqStmt.Sequence)
		r.Kind = schema.KindSequence
		return r, node.CreateSeqStmt.IfNotExists, true
	case *pg_query.Node_IndexStmt:
		stmt := node.IndexStmt
		if stmt.Idxname == "" || stmt.Relation == nil {
			return r, false, false
		}
		r.Schema, r.Table = l.relation(stmt.Relation)
		r.Name = stmt.Idxname
		r.Kind = schema.KindIndex
		return r, stmt.IfNotExists, true
	case *pg_query.Node_CreateTableAsStmt:
		stmt := node.CreateTableAsStmt
		if stmt.Objtype != pg_query.ObjectType_OBJECT_MATVIEW || stmt.Into == nil || stmt.Into.Rel == nil {
			return r, false, false
		}
		r.Schema, r.Name = l.relation(stmt.Into.Rel)
		r.Kind = schema.KindMaterializedView
		return r, stmt.IfNotExists, true
	}
	return r, false, false
}

// addRelation records r. An occupied name is an error unless tolerant.
func (l *loader) addRelation(r schema.Relation, tolerant bool) error {
	if kind := l.occupant(r.Schema, r.Name); kind != "" {
		if tolerant {
			return nil
		}
		return fmt.Errorf("relation %q already exists", r.Name)
	}
	l.relations = append(l.relations, r)
	return nil
}

func (l *loader) load(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("pg_query parse error: %w", err)
	}
	for _, raw := range result.Stmts {
		if r, _, ok := l.relationStmt(raw.Stmt); ok {
			_ = l.addRelation(r, true)
			continue
		}
		switch node := raw.Stmt.Node.(type) {
		case *pg_query.Node_CreateStmt:
			l.createTable(node.CreateStmt)
		case *pg_query.Node_AlterTableStmt:
			l.alterTable(node.AlterTableStmt)
		}
	}
	return nil
}

func (l *loader) relation(rv *pg_query.RangeVar) (string, string) {
	s := rv.Schemaname
	if s == "" {
		s = l.defaultSchema
	}
	return s, rv.Relname
}

func (l *loader) createTable(stmt *pg_query.CreateStmt) {
	schemaName, name := l.relation(stmt.Relation)
	key := schema.Qualify(schemaName, name)
	if _, exists := l.tables[key]; exists {
		// CREATE TABLE IF NOT EXISTS repeated across level scripts
		return
	}
	t := &schema.Table{Schema: schemaName, Name: name}

	for _, elt := range stmt.TableElts {
		switch e := elt.Node.(type) {
		case *pg_query.Node_ColumnDef:
			l.columnDef(t, e.ColumnDef)
		case *pg_query.Node_Constraint:
			l.tableConstraint(t, e.Constraint)
		}
	}

	l.tables[key] = t
	l.order = append(l.order, key)
}

func (l *loader) columnDef(t *schema.Table, def *pg_query.ColumnDef) {
	col := schema.Column{Name: def.Colname, Nullable: true}
	if def.TypeName != nil {
		col.DataType = typeName(def.TypeName)
	}

	for _, n := range def.Constraints {
		cons := n.GetConstraint()
		if cons == nil {
			continue
		}
		switch cons.Contype {
		case pg_query.ConstrType_CONSTR_NOTNULL:
			col.Nullable = false
		case pg_query.ConstrType_CONSTR_NULL:
			col.Nullable = true
		case pg_query.ConstrType_CONSTR_DEFAULT:
			if v := constValue(cons.RawExpr); v != "" {
				col.DefaultValue = &v
			}
		case pg_query.ConstrType_CONSTR_PRIMARY:
			col.Nullable = false
			t.PrimaryKey = &schema.PrimaryKey{Name: cons.Conname, Columns: []string{def.Colname}}
		case pg_query.ConstrType_CONSTR_FOREIGN:
			fk := l.foreignKey(t.Schema, cons)
			fk.Columns = []string{def.Colname}
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}
	t.Columns = append(t.Columns, col)
}

func (l *loader) tableConstraint(t *schema.Table, cons *pg_query.Constraint) {
	switch cons.Contype {
	case pg_query.ConstrType_CONSTR_PRIMARY:
		pk := &schema.PrimaryKey{Name: cons.Conname, Columns: nodeStrings(cons.Keys)}
		for _, c := range pk.Columns {
			if col := t.Column(c); col != nil {
				col.Nullable = false
			}
		}
		t.PrimaryKey = pk
	case pg_query.ConstrType_CONSTR_FOREIGN:
		fk := l.foreignKey(t.Schema, cons)
		fk.Columns = nodeStrings(cons.FkAttrs)
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
}

func (l *loader) alterTable(stmt *pg_query.AlterTableStmt) {
	if stmt.Relation == nil {
		return
	}
	schemaName, name := l.relation(stmt.Relation)
	t, ok := l.tables[schema.Qualify(schemaName, name)]
	if !ok {
		return
	}
	for _, n := range stmt.Cmds {
		cmd := n.GetAlterTableCmd()
		if cmd == nil || cmd.Subtype != pg_query.AlterTableType_AT_AddConstraint || cmd.Def == nil {
			continue
		}
		if cons := cmd.Def.GetConstraint(); cons != nil {
			l.tableConstraint(t, cons)
		}
	}
}

func (l *loader) foreignKey(owner string, cons *pg_query.Constraint) schema.ForeignKey {
	fk := schema.ForeignKey{Name: cons.Conname}
	if cons.Pktable != nil {
		refSchema, refTable := l.relation(cons.Pktable)
		if refSchema != owner {
			fk.ReferencedSchema = refSchema
		}
		fk.ReferencedTable = refTable
	}
	fk.ReferencedColumns = nodeStrings(cons.PkAttrs)
	return fk
}

func nodeStrings(nodes []*pg_query.Node) []string {
	var out []string
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			out = append(out, s.Sval)
		}
	}
	return out
}

var internalTypes = map[string]string{
	"pg_catalog.int2":        "smallint",
	"pg_catalog.int4":        "integer",
	"pg_catalog.int8":        "bigint",
	"pg_catalog.float4":      "real",
	"pg_catalog.float8":      "double precision",
	"pg_catalog.numeric":     "numeric",
	"pg_catalog.bool":        "boolean",
	"pg_catalog.varchar":     "character varying",
	"pg_catalog.bpchar":      "character",
	"pg_catalog.timestamp":   "timestamp without time zone",
	"pg_catalog.timestamptz": "timestamp with time zone",
	"pg_catalog.time":        "time without time zone",
	"pg_catalog.interval":    "interval",
}

func typeName(tn *pg_query.TypeName) string {
	name := strings.Join(nodeStrings(tn.Names), ".")
	if mapped, ok := internalTypes[name]; ok {
		name = mapped
	}
	name = strings.TrimPrefix(name, "pg_catalog.")

	var mods []string
	for _, m := range tn.Typmods {
		if c := m.GetAConst(); c != nil {
			if iv := c.GetIval(); iv != nil {
				mods = append(mods, strconv.FormatInt(int64(iv.Ival), 10))
			}
		}
	}
	if len(mods) > 0 {
		name += "(" + strings.Join(mods, ",") + ")"
	}
	if len(tn.ArrayBounds) > 0 {
		name += "[]"
	}
	return name
}

// constValue renders simple constant defaults; anything else is dropped.
func constValue(n *pg_query.Node) string {
	if n == nil {
		return ""
	}
	switch e := n.Node.(type) {
	case *pg_query.Node_AConst:
		switch v := e.AConst.Val.(type) {
		case *pg_query.A_Const_Sval:
			return QuoteLiteral(v.Sval.Sval)
		case *pg_query.A_Const_Ival:
			return strconv.FormatInt(int64(v.Ival.Ival), 10)
		case *pg_query.A_Const_Fval:
			return v.Fval.Fval
		case *pg_query.A_Const_Boolval:
			return strconv.FormatBool(v.Boolval.Boolval)
		}
	case *pg_query.Node_TypeCast:
		return constValue(e.TypeCast.Arg)
	case *pg_query.Node_FuncCall:
		// only argument-less calls such as now()
		if len(e.FuncCall.Args) == 0 {
			if name := strings.Join(nodeStrings(e.FuncCall.Funcname), "."); name != "" {
				return name + "()"
			}
		}
	}
	return ""
}
