// Package graph reads plan sources and builds executable plans from them.
//
// A source is a directed graph of concepts. Every edge feeds its source
// concept into the inference that produces its target, either as a perception
// or as the single cognition. Sources come as annotated DOT or as YAML.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/c360studio/semplan/concept"
)

// EdgeKind is the role a source concept plays in the target's inference.
type EdgeKind string

const (
	EdgePerception EdgeKind = "perc"
	EdgeCognition  EdgeKind = "cog"
)

var (
	// ErrUnknownNode indicates an edge naming an undeclared concept.
	ErrUnknownNode = errors.New("graph: unknown node")

	// ErrDuplicateNode indicates a concept declared twice.
	ErrDuplicateNode = errors.New("graph: duplicate node")

	// ErrInvalidEdge indicates an edge with an unknown kind or a self loop.
	ErrInvalidEdge = errors.New("graph: invalid edge")

	// ErrMissingCognition indicates a target with perceptions but no cognition.
	ErrMissingCognition = errors.New("graph: missing cognition")

	// ErrDuplicateCognition indicates a target fed by two cognitions.
	ErrDuplicateCognition = errors.New("graph: duplicate cognition")

	// ErrCycle indicates a graph whose edges loop back.
	ErrCycle = errors.New("graph: cycle")

	// ErrUnsupportedFormat indicates a file extension with no parser.
	ErrUnsupportedFormat = errors.New("graph: unsupported format")
)

// Node declares a concept.
type Node struct {
	Name    string       `yaml:"name"`
	Type    concept.Type `yaml:"type"`
	Context string       `yaml:"context,omitempty"`
	// View lists the axes the concept's inference result is projected onto.
	View []string `yaml:"view,omitempty"`
}

// Edge feeds From into the inference producing To.
type Edge struct {
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
	Kind EdgeKind `yaml:"kind"`
}

// Spec is a parsed plan source.
type Spec struct {
	Context string
	Nodes   []Node
	Edges   []Edge
}

// Node returns the declared node with the given name.
func (s *Spec) Node(name string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].Name == name {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// Validate checks names, types and edges.
func (s *Spec) Validate() error {
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Name == "" {
			return concept.ErrEmptyName
		}
		if seen[n.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateNode, n.Name)
		}
		seen[n.Name] = true
		if n.Type != "" && !n.Type.Valid() {
			return fmt.Errorf("node %q: %w: %q", n.Name, concept.ErrInvalidType, n.Type)
		}
	}
	for _, e := range s.Edges {
		for _, name := range []string{e.From, e.To} {
			if !seen[name] {
				return fmt.Errorf("%w: %q in edge %s -> %s", ErrUnknownNode, name, e.From, e.To)
			}
		}
		if e.Kind != EdgePerception && e.Kind != EdgeCognition {
			return fmt.Errorf("%w: %s -> %s has kind %q", ErrInvalidEdge, e.From, e.To, e.Kind)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: %s feeds itself", ErrInvalidEdge, e.From)
		}
	}
	return nil
}

// parents returns the sources of the edges entering name, in edge order and
// without repeats.
func (s *Spec) parents(name string) []string {
	var out []string
	for _, e := range s.Edges {
		if e.To == name && !slices.Contains(out, e.From) {
			out = append(out, e.From)
		}
	}
	return out
}

// topological orders the node names so every edge points forward. Nodes that
// become ready at the same time keep their declaration order.
func (s *Spec) topological() ([]string, error) {
	inDegree := make(map[string]int, len(s.Nodes))
	children := make(map[string][]string)
	for _, n := range s.Nodes {
		for _, p := range s.parents(n.Name) {
			inDegree[n.Name]++
			children[p] = append(children[p], n.Name)
		}
	}

	var queue, order []string
	for _, n := range s.Nodes {
		if inDegree[n.Name] == 0 {
			queue = append(queue, n.Name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, c := range children[name] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) != len(s.Nodes) {
		var stuck []string
		for _, n := range s.Nodes {
			if !slices.Contains(order, n.Name) {
				stuck = append(stuck, n.Name)
			}
		}
		return nil, fmt.Errorf("%w through %v", ErrCycle, stuck)
	}
	return order, nil
}
