// Package correlate partitions a session's classified errors into a root
// cause, its downstream symptoms and unrelated errors.
package correlate

import (
	"sort"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
)

// Window bounds how far after the root a symptom may occur.
type Window struct {
	Lines    int
	Duration time.Duration
}

// DefaultWindow is 30 lines, or 10 seconds when timestamps exist.
func DefaultWindow() Window {
	return Window{Lines: 30, Duration: 10 * time.Second}
}

// Correlator is stateless beyond its graph and window and is safe for
// concurrent use.
type Correlator struct {
	graph  *Graph
	window Window
}

// New creates a Correlator. A nil graph uses DefaultEdges.
func New(g *Graph, w Window) *Correlator {
	if g == nil {
		g = NewGraph(DefaultEdges())
	}
	return &Correlator{graph: g, window: w}
}

// Graph returns the propagation graph in use.
func (c *Correlator) Graph() *Graph { return c.graph }

// Correlate walks the ordered errors once. The first error with an outgoing
// edge and at least one reachable later error inside the window becomes the
// root. Without such a pattern the heaviest error is the root and has no
// symptoms. Every input error lands in exactly one partition.
func (c *Correlator) Correlate(errs []domain.ClassifiedError) domain.CausalChain {
	chain := domain.CausalChain{
		Symptoms:  []domain.ClassifiedError{},
		Unrelated: []domain.ClassifiedError{},
	}
	if len(errs) == 0 {
		return chain
	}

	ordered := Order(errs)
	for i, cand := range ordered {
		if !c.graph.HasOutgoing(cand.Category) {
			continue
		}
		var linked []int
		for j := i + 1; j < len(ordered); j++ {
			e := ordered[j]
			if c.within(cand.Event, e.Event) && c.graph.Reachable(cand.Category, e.Category) {
				linked = append(linked, j)
			}
		}
		if len(linked) == 0 {
			continue
		}
		return partition(ordered, i, linked, true)
	}

	return partition(ordered, heaviest(ordered), nil, false)
}

func partition(ordered []domain.ClassifiedError, root int, symptoms []int, patterned bool) domain.CausalChain {
	chain := domain.CausalChain{
		Symptoms:  make([]domain.ClassifiedError, 0, len(symptoms)),
		Unrelated: make([]domain.ClassifiedError, 0, len(ordered)-len(symptoms)-1),
		Patterned: patterned,
	}
	r := ordered[root]
	chain.Root = &r

	isSymptom := make(map[int]bool, len(symptoms))
	for _, j := range symptoms {
		isSymptom[j] = true
	}
	for i, e := range ordered {
		switch {
		case i == root:
		case isSymptom[i]:
			chain.Symptoms = append(chain.Symptoms, e)
		default:
			chain.Unrelated = append(chain.Unrelated, e)
		}
	}
	return chain
}

// heaviest returns the index of the highest-weight error, earliest on ties.
func heaviest(ordered []domain.ClassifiedError) int {
	best := 0
	for i, e := range ordered[1:] {
		if e.Weight > ordered[best].Weight {
			best = i + 1
		}
	}
	return best
}

func (c *Correlator) within(root, e domain.DiagnosticEvent) bool {
	if root.Timestamp != nil && e.Timestamp != nil {
		d := e.Timestamp.Sub(*root.Timestamp)
		return d >= 0 && d <= c.window.Duration
	}
	n := e.LineNumber - root.LineNumber
	return n >= 0 && n <= c.window.Lines
}

// Order returns errs sorted chronologically: by timestamp when every error
// carries one, otherwise by line number. The input is not modified.
func Order(errs []domain.ClassifiedError) []domain.ClassifiedError {
	out := append([]domain.ClassifiedError(nil), errs...)
	allStamped := true
	for _, e := range out {
		if e.Event.Timestamp == nil {
			allStamped = false
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Event, out[j].Event
		if allStamped && !a.Timestamp.Equal(*b.Timestamp) {
			return a.Timestamp.Before(*b.Timestamp)
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		return a.Index < b.Index
	})
	return out
}
