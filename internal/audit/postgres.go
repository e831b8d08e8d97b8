package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmeworks/schemashift/internal/ddl"
)

// DefaultSchema holds migration_log and backup_log unless configured
// otherwise.
const DefaultSchema = "migration_audit"

// PostgresRepository stores the log in two tables of the target database:
// <schema>.migration_log and <schema>.backup_log.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresRepository creates a repository on an open pool.
func NewPostgresRepository(pool *pgxpool.Pool, schemaName string) *PostgresRepository {
	if schemaName == "" {
		schemaName = DefaultSchema
	}
	return &PostgresRepository{pool: pool, schema: schemaName}
}

func (r *PostgresRepository) logTable() string    { return ddl.Qualified(r.schema, "migration_log") }
func (r *PostgresRepository) backupTable() string { return ddl.Qualified(r.schema, "backup_log") }

// EnsureTables creates the log schema and tables if they are missing.
func (r *PostgresRepository) EnsureTables(ctx context.Context) error {
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + ddl.QuoteIdent(r.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id bigserial PRIMARY KEY,
    run_id text NOT NULL,
    schema_name text NOT NULL,
    old_name text NOT NULL,
    new_name text NOT NULL,
    validation_type text NOT NULL,
    message text NOT NULL DEFAULT '',
    status text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now()
)`, r.logTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id bigserial PRIMARY KEY,
    run_id text NOT NULL,
    original_schema text NOT NULL,
    original_table text NOT NULL,
    backup_schema text NOT NULL,
    backup_table text NOT NULL,
    row_count bigint NOT NULL,
    status text NOT NULL,
    error_message text NOT NULL DEFAULT '',
    backup_date timestamptz NOT NULL DEFAULT now()
)`, r.backupTable()),
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating audit tables: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	sql := fmt.Sprintf(`INSERT INTO %s
    (run_id, schema_name, old_name, new_name, validation_type, message, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.logTable())
	_, err := r.pool.Exec(ctx, sql,
		e.RunID, e.SchemaName, e.OldName, e.NewName, string(e.ValidationType), e.Message, string(e.Status), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending log entry for %s.%s: %w", e.SchemaName, e.OldName, err)
	}
	return nil
}

func (r *PostgresRepository) AppendBackup(ctx context.Context, rec BackupRecord) error {
	if rec.BackupDate.IsZero() {
		rec.BackupDate = time.Now().UTC()
	}
	sql := fmt.Sprintf(`INSERT INTO %s
    (run_id, original_schema, original_table, backup_schema, backup_table, row_count, status, error_message, backup_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, r.backupTable())
	_, err := r.pool.Exec(ctx, sql,
		rec.RunID, rec.OriginalSchema, rec.OriginalTable, rec.BackupSchema, rec.BackupTable,
		rec.RowCount, string(rec.Status), rec.ErrorMessage, rec.BackupDate)
	if err != nil {
		return fmt.Errorf("appending backup record for %s.%s: %w", rec.OriginalSchema, rec.OriginalTable, err)
	}
	return nil
}

func (r *PostgresRepository) Entries(ctx context.Context, runID string) ([]Entry, error) {
	sql := fmt.Sprintf(`SELECT run_id, schema_name, old_name, new_name, validation_type, message, status, created_at
FROM %s
WHERE $1 = '' OR run_id = $1
ORDER BY id`, r.logTable())
	rows, err := r.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, fmt.Errorf("querying migration log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var vt, st string
		if err := rows.Scan(&e.RunID, &e.SchemaName, &e.OldName, &e.NewName, &vt, &e.Message, &st, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		e.ValidationType = ValidationType(vt)
		e.Status = Status(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

const backupColumns = `run_id, original_schema, original_table, backup_schema, backup_table, row_count, status, error_message, backup_date`

func scanBackup(row pgx.Row) (BackupRecord, error) {
	var rec BackupRecord
	var st string
	err := row.Scan(&rec.RunID, &rec.OriginalSchema, &rec.OriginalTable, &rec.BackupSchema, &rec.BackupTable,
		&rec.RowCount, &st, &rec.ErrorMessage, &rec.BackupDate)
	rec.Status = Status(st)
	return rec, err
}

func (r *PostgresRepository) Backups(ctx context.Context, runID string) ([]BackupRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE $1 = '' OR run_id = $1 ORDER BY id`, backupColumns, r.backupTable())
	rows, err := r.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, fmt.Errorf("querying backup log: %w", err)
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LatestBackup(ctx context.Context, schemaName, table string) (*BackupRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
WHERE original_schema = $1 AND original_table = $2 AND status = $3
ORDER BY id DESC
LIMIT 1`, backupColumns, r.backupTable())
	rec, err := scanBackup(r.pool.QueryRow(ctx, sql, schemaName, table, string(StatusSuccess)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest backup of %s.%s: %w", schemaName, table, err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE created_at < $1", r.logTable()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning migration log: %w", err)
	}
	return tag.RowsAffected(), nil
}
