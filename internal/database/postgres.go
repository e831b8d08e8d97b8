// Package database provides catalog inspection and transactional DDL
// execution against Postgres, plus an in-memory stand-in for dry runs and
// tests.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
)

// DB is everything the pipeline needs from a database.
type DB interface {
	Inspect(ctx context.Context) (*schema.Catalog, error)
	RowCount(ctx context.Context, schemaName, table string) (int64, error)
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	Constraints(ctx context.Context, schemaName, table string) ([]string, error)
	ExecInTx(ctx context.Context, stmts []string) error
	Rename(ctx context.Context, cmd ddl.RenameCommand) error
	Close()
}

// Postgres implements DB with a pgx pool.
type Postgres struct {
	cfg    config.DatabaseConfig
	pool   *pgxpool.Pool
	logger *slog.Logger

	// Exclude lists schemas Inspect skips in addition to system schemas,
	// e.g. the backup and audit schemas.
	Exclude []string
}

// NewPostgres creates an unconnected Postgres handle.
func NewPostgres(cfg config.DatabaseConfig, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{cfg: cfg, logger: logger}
}

// Connect opens the pool and pings the server.
func (p *Postgres) Connect(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(p.cfg.ConnString())
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	if p.cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(p.cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging PostgreSQL at %s:%d: %w", p.cfg.Host, p.cfg.Port, err)
	}
	p.pool = pool
	p.logger.Debug("connected", "host", p.cfg.Host, "database", p.cfg.Database, "max_conns", poolCfg.MaxConns)
	return nil
}

// Pool returns the underlying pool, or nil before Connect.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

func (p *Postgres) excluded() []string {
	out := []string{"pg_catalog", "information_schema", "pg_toast"}
	return append(out, p.Exclude...)
}

// Inspect reads every base table outside the system and excluded schemas,
// with columns, primary keys, foreign keys and row estimates, plus the names
// held by views, sequences, indexes and other relations.
func (p *Postgres) Inspect(ctx context.Context) (*schema.Catalog, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("not connected; call Connect first")
	}

	tables, err := p.inspectTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting tables: %w", err)
	}
	byName := make(map[string]*schema.Table, len(tables))
	for i := range tables {
		byName[tables[i].QualifiedName()] = &tables[i]
	}

	if err := p.inspectColumns(ctx, byName); err != nil {
		return nil, fmt.Errorf("inspecting columns: %w", err)
	}
	if err := p.inspectKeys(ctx, byName); err != nil {
		return nil, fmt.Errorf("inspecting keys: %w", err)
	}

	relations, err := p.inspectRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting relations: %w", err)
	}

	return &schema.Catalog{Database: p.cfg.Database, Host: p.cfg.Host, Tables: tables, Relations: relations}, nil
}

// relationKinds maps pg_class.relkind to the name used in collision messages.
var relationKinds = map[string]string{
	"v": schema.KindView,
	"m": schema.KindMaterializedView,
	"S": schema.KindSequence,
	"i": schema.KindIndex,
	"I": schema.KindIndex,
	"f": schema.KindForeignTable,
	"c": schema.KindCompositeType,
	"r": schema.KindPartition,
	"p": schema.KindPartition,
}

// inspectRelations reads every other pg_class entry that holds a name in a
// user schema. Partitions are reported here since inspectTables skips them.
func (p *Postgres) inspectRelations(ctx context.Context) ([]schema.Relation, error) {
	query := `
		SELECT n.nspname, c.relname, c.relkind::text, COALESCE(t.relname, '')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_index ix ON ix.indexrelid = c.oid
		LEFT JOIN pg_class t ON t.oid = ix.indrelid
		WHERE (c.relkind IN ('v', 'm', 'S', 'i', 'I', 'f', 'c')
		       OR (c.relkind IN ('r', 'p') AND c.relispartition))
		  AND n.nspname <> ALL($1)
		  AND n.nspname NOT LIKE 'pg_temp_%'
		  AND n.nspname NOT LIKE 'pg_toast_temp_%'
		ORDER BY n.nspname, c.relname`

	rows, err := p.pool.Query(ctx, query, p.excluded())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.Relation
	for rows.Next() {
		var r schema.Relation
		var kind string
		if err := rows.Scan(&r.Schema, &r.Name, &kind, &r.Table); err != nil {
			return nil, err
		}
		r.Kind = relationKinds[kind]
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) inspectTables(ctx context.Context) ([]schema.Table, error) {
	query := `
		SELECT n.nspname, c.relname, c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		  AND n.nspname <> ALL($1)
		  AND n.nspname NOT LIKE 'pg_temp_%'
		  AND n.nspname NOT LIKE 'pg_toast_temp_%'
		ORDER BY n.nspname, c.relname`

	rows, err := p.pool.Query(ctx, query, p.excluded())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var t schema.Table
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowCount); err != nil {
			return nil, err
		}
		// reltuples is -1 for never-analyzed tables
		if t.RowCount < 0 {
			t.RowCount = 0
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (p *Postgres) inspectColumns(ctx context.Context, byName map[string]*schema.Table) error {
	query := `
		SELECT table_schema, table_name, column_name,
		       CASE WHEN data_type = 'USER-DEFINED' THEN udt_name
		            WHEN data_type = 'ARRAY' THEN substr(udt_name, 2) || '[]'
		            WHEN character_maximum_length IS NOT NULL THEN data_type || '(' || character_maximum_length || ')'
		            ELSE data_type END,
		       is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema <> ALL($1)
		ORDER BY table_schema, table_name, ordinal_position`

	rows, err := p.pool.Query(ctx, query, p.excluded())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName, colName, dataType, nullable string
			defaultVal                                         *string
		)
		if err := rows.Scan(&schemaName, &tableName, &colName, &dataType, &nullable, &defaultVal); err != nil {
			return err
		}
		t, ok := byName[schema.Qualify(schemaName, tableName)]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:         colName,
			DataType:     dataType,
			Nullable:     nullable == "YES",
			DefaultValue: defaultVal,
		})
	}
	return rows.Err()
}

// inspectKeys reads primary and foreign keys from pg_constraint, which keeps
// composite key columns in declaration order and reports the referenced
// schema of cross-schema keys.
func (p *Postgres) inspectKeys(ctx context.Context, byName map[string]*schema.Table) error {
	query := `
		SELECT n.nspname, c.relname, con.conname, con.contype::text,
		       ARRAY(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
		             JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		             ORDER BY k.ord)::text[],
		       rn.nspname, rc.relname,
		       ARRAY(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
		             JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
		             ORDER BY k.ord)::text[]
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_class rc ON rc.oid = con.confrelid
		LEFT JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		WHERE con.contype IN ('p', 'f')
		  AND n.nspname <> ALL($1)
		ORDER BY n.nspname, c.relname, con.contype DESC, con.conname`

	rows, err := p.pool.Query(ctx, query, p.excluded())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName, conName, conType string
			cols, refCols                           []string
			refSchema, refTable                     *string
		)
		if err := rows.Scan(&schemaName, &tableName, &conName, &conType, &cols, &refSchema, &refTable, &refCols); err != nil {
			return err
		}
		t, ok := byName[schema.Qualify(schemaName, tableName)]
		if !ok {
			continue
		}
		switch conType {
		case "p":
			t.PrimaryKey = &schema.PrimaryKey{Name: conName, Columns: cols}
		case "f":
			if refTable == nil {
				continue
			}
			fk := schema.ForeignKey{
				Name:              conName,
				Columns:           cols,
				ReferencedTable:   *refTable,
				ReferencedColumns: refCols,
			}
			if refSchema != nil && *refSchema != schemaName {
				fk.ReferencedSchema = *refSchema
			}
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}
	return rows.Err()
}

// RowCount returns the exact number of rows in schemaName.table.
func (p *Postgres) RowCount(ctx context.Context, schemaName, table string) (int64, error) {
	var count int64
	sql := "SELECT COUNT(*) FROM " + ddl.Qualified(schemaName, table)
	if err := p.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s.%s: %w", schemaName, table, err)
	}
	return count, nil
}

// TableExists reports whether schemaName.table is a table.
func (p *Postgres) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2)`,
		schemaName, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking %s.%s: %w", schemaName, table, err)
	}
	return exists, nil
}

// Constraints lists the named constraints on schemaName.table, foreign keys
// first.
func (p *Postgres) Constraints(ctx context.Context, schemaName, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT con.conname
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
		  AND con.contype IN ('f', 'p', 'u', 'c', 'x')
		ORDER BY con.contype <> 'f', con.conname`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("listing constraints of %s.%s: %w", schemaName, table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing constraints of %s.%s: %w", schemaName, table, err)
	}
	return names, nil
}

// ExecInTx runs stmts in one transaction. The first failing statement rolls
// the transaction back and its error is returned unwrapped, so callers can
// record the server's message verbatim.
func (p *Postgres) ExecInTx(ctx context.Context, stmts []string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, s := range stmts {
			p.logger.Debug("exec", "sql", s)
			if _, err := tx.Exec(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rename renames one table in its own transaction.
func (p *Postgres) Rename(ctx context.Context, cmd ddl.RenameCommand) error {
	return p.ExecInTx(ctx, cmd.Statements())
}

var _ DB = (*Postgres)(nil)
