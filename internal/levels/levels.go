// Package levels orders table creation by foreign key dependency. Level 0
// holds tables that reference nothing in the set; a table's level is one more
// than the highest level it references.
package levels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dmeworks/schemashift/internal/schema"
)

// Level is a batch of tables that can be created together once every lower
// level exists.
type Level struct {
	Number int            `yaml:"number" json:"number"`
	Tables []schema.Table `yaml:"tables" json:"tables"`
}

// DeferredForeignKey is a nullable foreign key that closes a cycle. It is
// left out of CREATE TABLE and added after the last level.
type DeferredForeignKey struct {
	Schema string            `yaml:"schema" json:"schema"`
	Table  string            `yaml:"table" json:"table"`
	FK     schema.ForeignKey `yaml:"foreign_key" json:"foreign_key"`
}

// Plan is the computed creation order. Immutable once built.
type Plan struct {
	Levels   []Level              `yaml:"levels" json:"levels"`
	Deferred []DeferredForeignKey `yaml:"deferred,omitempty" json:"deferred,omitempty"`
}

// LevelOf returns the level number of schema.table, or -1.
func (p *Plan) LevelOf(qualified string) int {
	for _, lv := range p.Levels {
		for _, t := range lv.Tables {
			if t.QualifiedName() == qualified {
				return lv.Number
			}
		}
	}
	return -1
}

// TableCount is the number of tables across all levels.
func (p *Plan) TableCount() int {
	n := 0
	for _, lv := range p.Levels {
		n += len(lv.Tables)
	}
	return n
}

// deferredSet returns the names of deferred foreign keys per table.
func (p *Plan) deferredSet() map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, d := range p.Deferred {
		key := schema.Qualify(d.Schema, d.Table)
		if out[key] == nil {
			out[key] = make(map[string]bool)
		}
		out[key][d.FK.Name] = true
	}
	return out
}

// CycleError indicates the foreign key graph has a cycle that cannot be
// broken by deferring nullable foreign keys.
type CycleError struct {
	Tables []string
}

func (e *CycleError) Error() string {
	if len(e.Tables) == 2 {
		return fmt.Sprintf("dependency cycle between %s and %s", e.Tables[0], e.Tables[1])
	}
	return "dependency cycle: " + strings.Join(append(append([]string(nil), e.Tables...), e.Tables[0]), " -> ")
}

// Compute assigns every table a level with Kahn's algorithm. Self references
// are allowed at a table's own level. When a cycle remains, nullable foreign
// keys inside the cycle are deferred and the sort is retried; a cycle made
// only of NOT NULL foreign keys returns *CycleError.
func Compute(tables []schema.Table) (*Plan, error) {
	named := make([]schema.Table, len(tables))
	for i, t := range tables {
		named[i] = t.Clone()
		named[i].NameConstraints()
	}
	g := NewFKGraph(named)
	skip := make(map[int]bool)

	level, remaining := g.assign(skip)
	if len(remaining) > 0 {
		core := g.core(remaining, skip)
		for idx, e := range g.edges {
			if !e.Required && !e.SelfReference() && core[e.ChildTable] && core[e.ParentTable] {
				skip[idx] = true
			}
		}
		level, remaining = g.assign(skip)
	}
	if len(remaining) > 0 {
		cycles := g.DetectCycles(remaining, skip)
		if len(cycles) == 0 {
			return nil, &CycleError{Tables: sortedKeys(remaining)}
		}
		return nil, &CycleError{Tables: cycles[0]}
	}

	plan := &Plan{}
	top := -1
	for _, l := range level {
		if l > top {
			top = l
		}
	}
	plan.Levels = make([]Level, top+1)
	for i := range plan.Levels {
		plan.Levels[i].Number = i
	}
	for _, key := range g.order {
		l := level[key]
		plan.Levels[l].Tables = append(plan.Levels[l].Tables, *g.tables[key])
	}

	var deferred []int
	for idx := range skip {
		deferred = append(deferred, idx)
	}
	sort.Ints(deferred)
	for _, idx := range deferred {
		e := g.edges[idx]
		t := g.tables[e.ChildTable]
		plan.Deferred = append(plan.Deferred, DeferredForeignKey{Schema: t.Schema, Table: t.Name, FK: e.FK})
	}

	return plan, nil
}

// assign runs Kahn's algorithm over the non-skipped edges and returns the
// level of every sorted table plus the set of tables left on or behind a
// cycle.
func (g *FKGraph) assign(skip map[int]bool) (map[string]int, map[string]bool) {
	inDegree := make(map[string]int, len(g.order))
	for _, key := range g.order {
		inDegree[key] = 0
	}
	for idx, e := range g.edges {
		if skip[idx] || e.SelfReference() {
			continue
		}
		inDegree[e.ChildTable]++
	}

	level := make(map[string]int, len(g.order))
	var queue []string
	for _, key := range g.order {
		if inDegree[key] == 0 {
			queue = append(queue, key)
			level[key] = 0
		}
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, idx := range g.children[node] {
			e := g.edges[idx]
			if skip[idx] || e.SelfReference() {
				continue
			}
			child := e.ChildTable
			if level[node]+1 > level[child] {
				level[child] = level[node] + 1
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	remaining := make(map[string]bool)
	for _, key := range g.order {
		if inDegree[key] > 0 {
			remaining[key] = true
			delete(level, key)
		}
	}
	return level, remaining
}
