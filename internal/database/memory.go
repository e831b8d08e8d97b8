package database

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
)

// Memory is a DB held entirely in memory. Statements are applied with
// ddl.Simulate, so a dry run against a loaded catalog fails where the live
// run would. Row counts come from Table.RowCount.
type Memory struct {
	mu  sync.Mutex
	cat *schema.Catalog

	// FailOn makes any statement containing the key fail with the value.
	FailOn map[string]error
	// InspectErr, when set, is returned by Inspect.
	InspectErr error

	executed []string
}

// NewMemory wraps a copy of cat.
func NewMemory(cat *schema.Catalog) *Memory {
	if cat == nil {
		cat = &schema.Catalog{}
	}
	return &Memory{cat: cat.Clone(), FailOn: make(map[string]error)}
}

func (m *Memory) Inspect(context.Context) (*schema.Catalog, error) {
	if m.InspectErr != nil {
		return nil, m.InspectErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cat.Clone(), nil
}

func (m *Memory) RowCount(_ context.Context, schemaName, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.cat.Lookup(schemaName, table)
	if t == nil {
		return 0, fmt.Errorf("counting rows in %s.%s: relation %q does not exist", schemaName, table, schema.Qualify(schemaName, table))
	}
	return t.RowCount, nil
}

// SetRowCount changes the live row count of a table.
func (m *Memory) SetRowCount(schemaName, table string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.cat.Lookup(schemaName, table); t != nil {
		t.RowCount = n
	}
}

func (m *Memory) TableExists(_ context.Context, schemaName, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cat.Has(schemaName, table), nil
}

func (m *Memory) Constraints(_ context.Context, schemaName, table string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.cat.Lookup(schemaName, table)
	if t == nil {
		return nil, nil
	}
	var names []string
	for _, fk := range t.ForeignKeys {
		names = append(names, fk.Name)
	}
	if t.PrimaryKey != nil {
		names = append(names, t.PrimaryKey.Name)
	}
	return names, nil
}

// ExecInTx applies stmts atomically: on any failure the catalog is unchanged.
func (m *Memory) ExecInTx(_ context.Context, stmts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stmts {
		for key, err := range m.FailOn {
			if strings.Contains(s, key) {
				return err
			}
		}
	}
	next, err := ddl.Simulate(m.cat, stmts, "public")
	if err != nil {
		return err
	}
	m.cat = next
	m.executed = append(m.executed, stmts...)
	return nil
}

func (m *Memory) Rename(ctx context.Context, cmd ddl.RenameCommand) error {
	return m.ExecInTx(ctx, cmd.Statements())
}

// Executed returns every statement committed so far.
func (m *Memory) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executed...)
}

func (m *Memory) Close() {}

var _ DB = (*Memory)(nil)
