// Package graph stores the stat dependency graph and provides deterministic
// topological ordering and cycle detection over it. Edges point from a stat
// to the stats it depends on.
package graph

import (
	"sort"

	"zzstat/pkg/stat"
)

// DepFunc enumerates the direct dependencies of a stat in ascending order.
// Topological ordering and cycle detection run against a DepFunc so overlay
// resolvers can present a merged view without copying the base graph.
type DepFunc func(id stat.ID) []stat.ID

// Graph holds forward and reverse adjacency between stats.
type Graph struct {
	nodes map[stat.ID]struct{}
	fwd   map[stat.ID]map[stat.ID]struct{} // stat -> its dependencies
	rev   map[stat.ID]map[stat.ID]struct{} // stat -> its dependents
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[stat.ID]struct{}),
		fwd:   make(map[stat.ID]map[stat.ID]struct{}),
		rev:   make(map[stat.ID]map[stat.ID]struct{}),
	}
}

// EnsureNode registers a stat with no edges. Idempotent.
func (g *Graph) EnsureNode(id stat.ID) {
	g.nodes[id] = struct{}{}
}

// HasNode reports whether the stat is known to the graph.
func (g *Graph) HasNode(id stat.ID) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddEdge records that from depends on to. Both endpoints become nodes.
// Idempotent.
func (g *Graph) AddEdge(from, to stat.ID) {
	g.EnsureNode(from)
	g.EnsureNode(to)
	if g.fwd[from] == nil {
		g.fwd[from] = make(map[stat.ID]struct{})
	}
	g.fwd[from][to] = struct{}{}
	if g.rev[to] == nil {
		g.rev[to] = make(map[stat.ID]struct{})
	}
	g.rev[to][from] = struct{}{}
}

// RemoveEdgesFrom drops every outgoing edge of the stat, keeping the node.
func (g *Graph) RemoveEdgesFrom(from stat.ID) {
	for to := range g.fwd[from] {
		delete(g.rev[to], from)
	}
	delete(g.fwd, from)
}

// DependenciesOf returns the direct dependencies of the stat, ascending.
func (g *Graph) DependenciesOf(id stat.ID) []stat.ID {
	return sortedKeys(g.fwd[id])
}

// DependentsOf returns the direct dependents of the stat, ascending.
func (g *Graph) DependentsOf(id stat.ID) []stat.ID {
	return sortedKeys(g.rev[id])
}

// Descendants returns every transitive dependent of the stat, excluding the
// stat itself. Used to scope cache invalidation.
func (g *Graph) Descendants(id stat.ID) map[stat.ID]struct{} {
	return DescendantsFunc(id, g.DependentsOf)
}

// DescendantsFunc is Descendants over an arbitrary dependents enumerator.
func DescendantsFunc(id stat.ID, dependents func(stat.ID) []stat.ID) map[stat.ID]struct{} {
	seen := make(map[stat.ID]struct{})
	queue := dependents(id)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		queue = append(queue, dependents(next)...)
	}
	return seen
}

// TopoOrder returns the transitive closure of targets in dependency order:
// every stat appears after all of its dependencies. Ties are broken by
// ascending stat ID, so the order is fully deterministic. When the closure
// contains a cycle the returned path is non-nil and the order is nil.
func (g *Graph) TopoOrder(targets []stat.ID) (order []stat.ID, cycle []stat.ID) {
	return TopoOrderFunc(targets, g.DependenciesOf)
}

// Traversal colors for the depth-first walk.
const (
	white = 0 // unvisited
	gray  = 1 // on the current path
	black = 2 // finished
)

// TopoOrderFunc computes a deterministic topological order over a DepFunc
// using depth-first post-order with white/gray/black marking. Hitting a gray
// node means the current path loops; the cycle is returned as traversed.
func TopoOrderFunc(targets []stat.ID, deps DepFunc) (order []stat.ID, cycle []stat.ID) {
	color := make(map[stat.ID]int)
	var path []stat.ID

	sorted := make([]stat.ID, len(targets))
	copy(sorted, targets)
	stat.SortIDs(sorted)

	var visit func(id stat.ID) []stat.ID
	visit = func(id stat.ID) []stat.ID {
		switch color[id] {
		case black:
			return nil
		case gray:
			// The cycle runs from the previous occurrence of id to here.
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			loop := make([]stat.ID, 0, len(path)-start+1)
			loop = append(loop, path[start:]...)
			loop = append(loop, id)
			return loop
		}
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps(id) {
			if loop := visit(dep); loop != nil {
				return loop
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		order = append(order, id)
		return nil
	}

	for _, t := range sorted {
		if loop := visit(t); loop != nil {
			return nil, loop
		}
	}
	return order, nil
}

// DetectCycle returns the path of a cycle reachable from the stat, or nil
// when none exists. Resolution runs the same check through TopoOrderFunc;
// registration uses WouldCycle for the eager check.
func (g *Graph) DetectCycle(from stat.ID) []stat.ID {
	_, cycle := TopoOrderFunc([]stat.ID{from}, g.DependenciesOf)
	return cycle
}

// PathBetween returns a dependency path [from, ..., to] following dep edges,
// or nil when to is unreachable from from. Deterministic: children are
// explored in ascending order.
func PathBetween(from, to stat.ID, deps DepFunc) []stat.ID {
	if from == to {
		return []stat.ID{from}
	}
	seen := map[stat.ID]struct{}{from: {}}
	var walk func(id stat.ID, trail []stat.ID) []stat.ID
	walk = func(id stat.ID, trail []stat.ID) []stat.ID {
		for _, dep := range deps(id) {
			next := append(trail[:len(trail):len(trail)], dep)
			if dep == to {
				return next
			}
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			if p := walk(dep, next); p != nil {
				return p
			}
		}
		return nil
	}
	return walk(from, []stat.ID{from})
}

// WouldCycle reports whether adding the edge from -> to would create a
// cycle, returning the would-be cycle path [from, to, ..., from]. Adding the
// edge cycles exactly when from is already reachable from to.
func WouldCycle(from, to stat.ID, deps DepFunc) []stat.ID {
	if from == to {
		return []stat.ID{from, from}
	}
	back := PathBetween(to, from, deps)
	if back == nil {
		return nil
	}
	return append([]stat.ID{from}, back...)
}

func sortedKeys(set map[stat.ID]struct{}) []stat.ID {
	if len(set) == 0 {
		return nil
	}
	out := make([]stat.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
