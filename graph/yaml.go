package graph

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semplan/concept"
)

// yamlSource is the YAML plan format:
//
//	context: Metaphors in news headlines.
//	concepts:
//	  - name: headline
//	    type: object
//	  - name: metaphor?
//	    type: classification
//	    context: A figure of speech.
//	  - name: metaphors
//	    type: object
//	inferences:
//	  - target: metaphors
//	    perceptions: [headline]
//	    cognition: metaphor?
//	    view: [headline, metaphors]
type yamlSource struct {
	Context    string          `yaml:"context"`
	Concepts   []Node          `yaml:"concepts"`
	Inferences []yamlInference `yaml:"inferences"`
}

type yamlInference struct {
	Target      string   `yaml:"target"`
	Perceptions []string `yaml:"perceptions"`
	Cognition   string   `yaml:"cognition"`
	View        []string `yaml:"view"`
}

// ParseYAML reads a YAML plan source. Concept types are spelled by name or by
// marker; an omitted type is object. An inference view is set on its target
// node.
func ParseYAML(r io.Reader) (*Spec, error) {
	var src yamlSource
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	spec := &Spec{Context: src.Context, Nodes: src.Concepts}
	for i := range spec.Nodes {
		if spec.Nodes[i].Type == "" {
			spec.Nodes[i].Type = concept.TypeObject
		}
	}
	for _, inf := range src.Inferences {
		for _, p := range inf.Perceptions {
			spec.Edges = append(spec.Edges, Edge{From: p, To: inf.Target, Kind: EdgePerception})
		}
		if inf.Cognition != "" {
			spec.Edges = append(spec.Edges, Edge{From: inf.Cognition, To: inf.Target, Kind: EdgeCognition})
		}
		if len(inf.View) > 0 {
			n, ok := spec.Node(inf.Target)
			if !ok {
				return nil, fmt.Errorf("%w: inference target %q", ErrUnknownNode, inf.Target)
			}
			n.View = inf.View
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
