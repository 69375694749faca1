package correlate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

// Edge is a known cascade from one failure category to another.
type Edge struct {
	From domain.Category `yaml:"from" json:"from"`
	To   domain.Category `yaml:"to" json:"to"`
}

func (e Edge) String() string { return string(e.From) + "->" + string(e.To) }

// DefaultEdges is the built-in propagation graph.
func DefaultEdges() []Edge {
	return []Edge{
		{domain.CategorySecurity, domain.CategoryProgramming},
		{domain.CategoryProgramming, domain.CategoryDataIntegrity},
		{domain.CategoryCommunication, domain.CategoryBusyPending},
		{domain.CategoryPowerVoltage, domain.CategoryProgramming},
		{domain.CategoryCANBus, domain.CategoryCommunication},
	}
}

// ParseEdges reads "from->to" pairs, as written in configuration.
func ParseEdges(specs []string) ([]Edge, error) {
	edges := make([]Edge, 0, len(specs))
	for _, s := range specs {
		from, to, ok := strings.Cut(s, "->")
		if !ok {
			return nil, fmt.Errorf("correlate: edge %q: want from->to", s)
		}
		f, err := domain.ParseCategory(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("correlate: edge %q: %w", s, err)
		}
		t, err := domain.ParseCategory(strings.TrimSpace(to))
		if err != nil {
			return nil, fmt.Errorf("correlate: edge %q: %w", s, err)
		}
		edges = append(edges, Edge{From: f, To: t})
	}
	return edges, nil
}

// Graph is an immutable directed graph over categories with precomputed
// reachability.
type Graph struct {
	edges     []Edge
	reachable map[domain.Category]map[domain.Category]bool
}

// NewGraph builds a Graph from edges. Duplicate edges are ignored.
func NewGraph(edges []Edge) *Graph {
	adj := map[domain.Category][]domain.Category{}
	seen := map[Edge]bool{}
	var kept []Edge
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		kept = append(kept, e)
		adj[e.From] = append(adj[e.From], e.To)
	}

	g := &Graph{edges: kept, reachable: map[domain.Category]map[domain.Category]bool{}}
	for from := range adj {
		g.reachable[from] = walk(adj, from)
	}
	return g
}

// walk returns every node at least one edge away from start.
func walk(adj map[domain.Category][]domain.Category, start domain.Category) map[domain.Category]bool {
	out := map[domain.Category]bool{}
	queue := append([]domain.Category(nil), adj[start]...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if out[c] {
			continue
		}
		out[c] = true
		queue = append(queue, adj[c]...)
	}
	return out
}

// HasOutgoing reports whether c has at least one edge.
func (g *Graph) HasOutgoing(c domain.Category) bool {
	return len(g.reachable[c]) > 0
}

// Reachable reports whether to can be reached from from via one or more edges.
func (g *Graph) Reachable(from, to domain.Category) bool {
	return g.reachable[from][to]
}

// Downstream lists categories reachable from c, sorted.
func (g *Graph) Downstream(c domain.Category) []domain.Category {
	out := make([]domain.Category, 0, len(g.reachable[c]))
	for d := range g.reachable[c] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns the graph's edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}
