package routing

import (
	"github.com/railrun/railrun/internal/model"
)

// Graph is a directed multigraph over conversion nodes. Parallel edges are
// expected: several providers quote the same corridor and the solver picks
// between them. Built once per solve from an immutable edge snapshot and
// never mutated afterwards.
type Graph struct {
	adj   map[model.Node][]model.RouteSegment
	nodes []model.Node
}

// NewGraph indexes a snapshot of edges by source node. Invalid edges are
// assumed to have been dropped at ingestion; the builder does not
// re-validate.
func NewGraph(edges []model.RouteSegment) *Graph {
	g := &Graph{adj: make(map[model.Node][]model.RouteSegment)}
	seen := make(map[model.Node]bool)

	note := func(n model.Node) {
		if !seen[n] {
			seen[n] = true
			g.nodes = append(g.nodes, n)
		}
	}
	for _, e := range edges {
		from := e.From()
		g.adj[from] = append(g.adj[from], e)
		note(from)
		note(e.To())
	}
	return g
}

// OutEdges returns the edges leaving a node. The returned slice is shared;
// callers must not mutate it.
func (g *Graph) OutEdges(n model.Node) []model.RouteSegment {
	return g.adj[n]
}

// HasNode reports whether the node appears in the graph at all
func (g *Graph) HasNode(n model.Node) bool {
	if _, ok := g.adj[n]; ok {
		return true
	}
	for _, node := range g.nodes {
		if node == n {
			return true
		}
	}
	return false
}

// Nodes returns every node in insertion order
func (g *Graph) Nodes() []model.Node {
	return g.nodes
}

// EdgeCount returns the total number of directed edges
func (g *Graph) EdgeCount() int {
	total := 0
	for _, out := range g.adj {
		total += len(out)
	}
	return total
}
