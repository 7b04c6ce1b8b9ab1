package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/inference"
	"github.com/c360studio/semplan/plan"
)

// Build creates a plan from spec: one concept per node, one inference per
// node with incoming edges, then the I/O inferred from the graph.
func Build(spec *Spec, opts ...plan.Option) (*plan.Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	p := plan.New(opts...)
	for _, n := range spec.Nodes {
		c, err := concept.New(n.Name, n.Context, n.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		if err := p.AddConcept(c); err != nil {
			return nil, err
		}
	}

	for _, n := range spec.Nodes {
		var (
			perceptions []string
			cognition   string
		)
		for _, e := range spec.Edges {
			if e.To != n.Name {
				continue
			}
			switch e.Kind {
			case EdgePerception:
				if !slices.Contains(perceptions, e.From) {
					perceptions = append(perceptions, e.From)
				}
			case EdgeCognition:
				if cognition != "" && cognition != e.From {
					return nil, fmt.Errorf("%w: %q is fed by %q and %q", ErrDuplicateCognition, n.Name, cognition, e.From)
				}
				cognition = e.From
			}
		}
		if len(perceptions) == 0 && cognition == "" {
			continue
		}
		if cognition == "" {
			return nil, fmt.Errorf("%w: %q has perceptions %v", ErrMissingCognition, n.Name, perceptions)
		}
		inf, err := inference.New(n.Name, perceptions, cognition, n.View...)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		if err := p.AddInference(inf); err != nil {
			return nil, err
		}
	}

	if err := p.InferIO(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a plan source, choosing the parser by file extension: .dot and
// .gv for DOT, .yaml and .yml for YAML.
func Load(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan source: %w", err)
	}
	defer f.Close()

	var spec *Spec
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".dot", ".gv":
		spec, err = ParseDOT(f)
	case ".yaml", ".yml":
		spec, err = ParseYAML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Glob expands a pattern, including ** segments, to the plan sources it
// matches, sorted.
func Glob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	var out []string
	for _, m := range matches {
		switch strings.ToLower(filepath.Ext(m)) {
		case ".dot", ".gv", ".yaml", ".yml":
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
