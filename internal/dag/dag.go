// Package dag provides directed graph operations over lineage edges.
// Lineage graphs may contain cycles (a table can be both read and written
// by the same pipeline), so traversal is bounded by depth and a visited set
// rather than by topological order.
package dag

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Graph is an adjacency view of a lineage graph.
type Graph struct {
	nodes    map[string]core.Node
	edges    map[core.EdgeKey]core.Edge
	children map[string][]string // source -> targets
	parents  map[string][]string // target -> sources
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]core.Node),
		edges:    make(map[core.EdgeKey]core.Edge),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// FromResponse builds a graph from a computed response. Edges whose
// endpoints are missing from the node list are skipped.
func FromResponse(resp *core.GraphResponse) *Graph {
	g := NewGraph()
	for _, n := range resp.Nodes {
		g.AddNode(n)
	}
	for _, e := range resp.Edges {
		_ = g.AddEdge(e)
	}
	return g
}

// AddNode adds or replaces a node.
func (g *Graph) AddNode(n core.Node) {
	g.nodes[n.ID] = n
}

// AddEdge adds a directed edge. Both endpoints must exist; a repeated
// (source, target) pair replaces the stored edge.
func (g *Graph) AddEdge(e core.Edge) error {
	if _, exists := g.nodes[e.Source]; !exists {
		return fmt.Errorf("source node %q does not exist", e.Source)
	}
	if _, exists := g.nodes[e.Target]; !exists {
		return fmt.Errorf("target node %q does not exist", e.Target)
	}
	if e.Source == e.Target {
		return fmt.Errorf("self-loop detected: %s", e.Source)
	}

	if _, exists := g.edges[e.Key()]; !exists {
		g.children[e.Source] = append(g.children[e.Source], e.Target)
		g.parents[e.Target] = append(g.parents[e.Target], e.Source)
	}
	g.edges[e.Key()] = e
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (core.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the direct upstream nodes of id.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the direct downstream nodes of id.
func (g *Graph) GetChildren(id string) []string {
	return g.children[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Upstream returns the edges reachable against edge direction from id,
// breadth first, up to depth hops. A depth of 0 or less is unbounded.
func (g *Graph) Upstream(id string, depth int) []core.Edge {
	return g.walk(id, depth, g.parents, func(from, to string) core.EdgeKey {
		return core.EdgeKey{Source: to, Target: from}
	})
}

// Downstream returns the edges reachable along edge direction from id,
// breadth first, up to depth hops. A depth of 0 or less is unbounded.
func (g *Graph) Downstream(id string, depth int) []core.Edge {
	return g.walk(id, depth, g.children, func(from, to string) core.EdgeKey {
		return core.EdgeKey{Source: from, Target: to}
	})
}

func (g *Graph) walk(start string, depth int, next map[string][]string, keyOf func(from, to string) core.EdgeKey) []core.Edge {
	var out []core.Edge
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for hop := 1; len(frontier) > 0 && (depth <= 0 || hop <= depth); hop++ {
		var upcoming []string
		for _, id := range frontier {
			neighbours := append([]string(nil), next[id]...)
			sort.Strings(neighbours)
			for _, n := range neighbours {
				out = append(out, g.edges[keyOf(id, n)])
				if !visited[n] {
					visited[n] = true
					upcoming = append(upcoming, n)
				}
			}
		}
		frontier = upcoming
	}
	return out
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.children[id] {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// GetRoots returns nodes with no upstream edges.
func (g *Graph) GetRoots() []string {
	var roots []string
	for _, id := range g.sortedIDs() {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeaves returns nodes with no downstream edges.
func (g *Graph) GetLeaves() []string {
	var leaves []string
	for _, id := range g.sortedIDs() {
		if len(g.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
