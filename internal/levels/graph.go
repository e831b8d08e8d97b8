package levels

import (
	"sort"

	"github.com/dmeworks/schemashift/internal/schema"
)

// FKEdge represents a foreign key relationship in the graph. Table names are
// schema-qualified.
type FKEdge struct {
	ChildTable  string
	ParentTable string
	FK          schema.ForeignKey
	// Required is true when the referencing columns are all NOT NULL.
	Required bool
}

// SelfReference reports whether the edge points back at its own table.
func (e FKEdge) SelfReference() bool {
	return e.ChildTable == e.ParentTable
}

// FKGraph represents the foreign key relationships between a set of tables.
type FKGraph struct {
	tables map[string]*schema.Table
	order  []string // input order, for deterministic output
	index  map[string]int
	edges  []FKEdge
	// adjacency: parent -> children
	children map[string][]int
	// adjacency: child -> parents
	parents map[string][]int
}

// NewFKGraph builds a FK relationship graph from a set of tables. Foreign
// keys pointing outside the set are ignored; those tables are assumed to exist.
func NewFKGraph(tables []schema.Table) *FKGraph {
	g := &FKGraph{
		tables:   make(map[string]*schema.Table, len(tables)),
		index:    make(map[string]int, len(tables)),
		children: make(map[string][]int),
		parents:  make(map[string][]int),
	}

	for i := range tables {
		t := &tables[i]
		key := t.QualifiedName()
		if _, dup := g.tables[key]; dup {
			continue
		}
		g.tables[key] = t
		g.index[key] = len(g.order)
		g.order = append(g.order, key)
	}

	for _, key := range g.order {
		t := g.tables[key]
		for _, fk := range t.ForeignKeys {
			parent := fk.Target(t.Schema)
			if _, ok := g.tables[parent]; !ok {
				continue
			}
			g.edges = append(g.edges, FKEdge{
				ChildTable:  key,
				ParentTable: parent,
				FK:          fk,
				Required:    t.Required(fk),
			})
			idx := len(g.edges) - 1
			g.children[parent] = append(g.children[parent], idx)
			g.parents[key] = append(g.parents[key], idx)
		}
	}

	return g
}

// SelfReferences returns all FK edges where a table references itself.
func (g *FKGraph) SelfReferences() []FKEdge {
	var result []FKEdge
	for _, e := range g.edges {
		if e.SelfReference() {
			result = append(result, e)
		}
	}
	return result
}

// DetectCycles finds cycles among the given tables (all tables when nodes is
// nil) using DFS, ignoring self references and skipped edges. Each cycle is
// returned as the list of tables forming it, starting from the table first
// reached in input order.
func (g *FKGraph) DetectCycles(nodes map[string]bool, skip map[int]bool) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	include := func(n string) bool { return nodes == nil || nodes[n] }

	var path []string
	var dfs func(node string)
	dfs = func(node string) {
		visited[node] = true
		inStack[node] = true
		path = append(path, node)

		for _, idx := range g.parents[node] {
			e := g.edges[idx]
			if skip[idx] || e.SelfReference() || !include(e.ParentTable) {
				continue
			}
			neighbor := e.ParentTable
			if !visited[neighbor] {
				dfs(neighbor)
			} else if inStack[neighbor] {
				start := -1
				for i, n := range path {
					if n == neighbor {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := make([]string, len(path)-start)
					copy(cycle, path[start:])
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		inStack[node] = false
	}

	for _, name := range g.order {
		if include(name) && !visited[name] {
			dfs(name)
		}
	}

	return cycles
}

// core trims nodes that cannot lie on a cycle: repeatedly drop nodes with no
// remaining parent or no remaining child inside the set.
func (g *FKGraph) core(nodes map[string]bool, skip map[int]bool) map[string]bool {
	set := make(map[string]bool, len(nodes))
	for n := range nodes {
		set[n] = true
	}

	has := func(list []int, end func(FKEdge) string) bool {
		for _, idx := range list {
			e := g.edges[idx]
			if skip[idx] || e.SelfReference() {
				continue
			}
			if set[end(e)] {
				return true
			}
		}
		return false
	}

	for changed := true; changed; {
		changed = false
		for _, n := range sortedKeys(set) {
			hasParent := has(g.parents[n], func(e FKEdge) string { return e.ParentTable })
			hasChild := has(g.children[n], func(e FKEdge) string { return e.ChildTable })
			if !hasParent || !hasChild {
				delete(set, n)
				changed = true
			}
		}
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
