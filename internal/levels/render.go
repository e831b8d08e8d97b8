package levels

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmeworks/schemashift/internal/schema"
)

// Script is one generated SQL file.
type Script struct {
	Name string
	SQL  string
}

// Render produces one idempotent script per level, plus deferred_fks.sql
// when the plan defers any foreign keys. Self-referencing tables are noted
// in the level header.
func Render(plan *Plan) []Script {
	var all []schema.Table
	for _, lv := range plan.Levels {
		all = append(all, lv.Tables...)
	}
	selfRefs := make(map[string][]string)
	for _, e := range NewFKGraph(all).SelfReferences() {
		selfRefs[e.ChildTable] = append(selfRefs[e.ChildTable], e.FK.Name)
	}

	var out []Script
	for _, lv := range plan.Levels {
		var b strings.Builder
		fmt.Fprintf(&b, "-- Level %d: %d tables\n", lv.Number, len(lv.Tables))
		for _, t := range lv.Tables {
			fmt.Fprintf(&b, "--   %s\n", t.QualifiedName())
			if names := selfRefs[t.QualifiedName()]; len(names) > 0 {
				fmt.Fprintf(&b, "--     self-referencing: %s\n", strings.Join(names, ", "))
			}
		}
		b.WriteString("\nBEGIN;\n\n")
		for _, stmt := range levelStatements(plan, lv, lv.Number == 0) {
			b.WriteString(stmt + ";\n\n")
		}
		b.WriteString("COMMIT;\n")
		out = append(out, Script{Name: fmt.Sprintf("level_%02d.sql", lv.Number), SQL: b.String()})
	}

	if len(plan.Deferred) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "-- Deferred foreign keys: %d\n\nBEGIN;\n\n", len(plan.Deferred))
		for _, stmt := range deferredStatements(plan) {
			b.WriteString(stmt + ";\n")
		}
		b.WriteString("\nCOMMIT;\n")
		out = append(out, Script{Name: "deferred_fks.sql", SQL: b.String()})
	}
	return out
}

// WriteScripts renders plan into dir and returns the written paths.
func WriteScripts(plan *Plan, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating script directory: %w", err)
	}
	var paths []string
	for _, s := range Render(plan) {
		path := filepath.Join(dir, s.Name)
		if err := os.WriteFile(path, []byte(s.SQL), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", s.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
