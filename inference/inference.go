// Package inference executes one step of a plan: it combines the perception
// concepts of a target, lets an agent resolve and reason over them, and writes
// the result back as the target's reference.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/reference"
)

var (
	// ErrUnknownConcept indicates an inference names a concept the registry
	// does not hold.
	ErrUnknownConcept = errors.New("inference: unknown concept")

	// ErrMissingReference indicates an operand concept has no reference.
	ErrMissingReference = errors.New("inference: missing reference")

	// ErrInvalid indicates an inference without a target, perception or cognition.
	ErrInvalid = errors.New("inference: invalid inference")
)

// Agent resolves concepts into references. Perceive turns the combined
// perception concept into values, Cognize turns the cognition concept into
// cell functions and Actuate normalizes and persists the raw result.
type Agent interface {
	Perceive(ctx context.Context, c *concept.Concept) (*reference.Reference, error)
	Cognize(ctx context.Context, cognition, perception *concept.Concept) (*reference.Reference, error)
	Actuate(ctx context.Context, target *concept.Concept) (*reference.Reference, error)
}

// Registry is the concept store an inference reads from and writes to.
type Registry interface {
	Concept(name string) (*concept.Concept, bool)
	Replace(c *concept.Concept) error
}

// Inference derives Target from Perceptions using Cognition. It holds concept
// names only; the concepts are resolved through a Registry on every run.
type Inference struct {
	Target      string   `json:"target" yaml:"target"`
	Perceptions []string `json:"perceptions" yaml:"perceptions"`
	Cognition   string   `json:"cognition" yaml:"cognition"`

	// View lists the axes the result is projected onto. Empty keeps every axis.
	View []string `json:"view,omitempty" yaml:"view,omitempty"`
}

// New creates an inference and checks it names every operand.
func New(target string, perceptions []string, cognition string, view ...string) (*Inference, error) {
	inf := &Inference{
		Target:      target,
		Perceptions: slices.Clone(perceptions),
		Cognition:   cognition,
		View:        slices.Clone(view),
	}
	if err := inf.Validate(); err != nil {
		return nil, err
	}
	return inf, nil
}

// Validate checks that the inference names a target, a cognition and at least
// one perception.
func (inf *Inference) Validate() error {
	switch {
	case inf.Target == "":
		return fmt.Errorf("%w: empty target", ErrInvalid)
	case inf.Cognition == "":
		return fmt.Errorf("%w: %s has no cognition", ErrInvalid, inf.Target)
	case len(inf.Perceptions) == 0:
		return fmt.Errorf("%w: %s has no perceptions", ErrInvalid, inf.Target)
	case slices.Contains(inf.Perceptions, ""):
		return fmt.Errorf("%w: %s has an empty perception name", ErrInvalid, inf.Target)
	}
	return nil
}

// Key identifies the inference by its sorted perceptions, cognition and
// target. Two inferences with the same key are the same step.
func (inf *Inference) Key() string {
	perceptions := slices.Clone(inf.Perceptions)
	slices.Sort(perceptions)
	raw, _ := json.Marshal(struct {
		Perceptions []string `json:"perceptions"`
		Cognition   string   `json:"cognition"`
		Target      string   `json:"target"`
	}{perceptions, inf.Cognition, inf.Target})
	return string(raw)
}

// Requires returns the concept names the inference reads: its perceptions in
// order, then the cognition. Duplicates are dropped.
func (inf *Inference) Requires() []string {
	out := make([]string, 0, len(inf.Perceptions)+1)
	for _, name := range append(slices.Clone(inf.Perceptions), inf.Cognition) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// Touches reports whether the inference reads or writes name.
func (inf *Inference) Touches(name string) bool {
	return inf.Target == name || inf.Cognition == name || slices.Contains(inf.Perceptions, name)
}

// String returns a readable form such as "C <= [A B] via F".
func (inf *Inference) String() string {
	return fmt.Sprintf("%s <= %v via %s", inf.Target, inf.Perceptions, inf.Cognition)
}

// Option configures Execute.
type Option func(*options)

type options struct {
	cellOpts []reference.Option
}

// WithCellErrorHandler observes cells the cross action turned Absent.
func WithCellErrorHandler(fn func(reference.Index, error)) Option {
	return func(o *options) {
		o.cellOpts = append(o.cellOpts, reference.WithCellErrorHandler(fn))
	}
}

// Execute runs the inference against reg and returns the updated target.
//
// Only structural problems are returned as errors. A cell whose cognition
// fails is Absent in the result.
func (inf *Inference) Execute(ctx context.Context, reg Registry, agent Agent, opts ...Option) (*concept.Concept, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	target, err := lookup(reg, inf.Target)
	if err != nil {
		return nil, err
	}
	cognition, err := lookup(reg, inf.Cognition)
	if err != nil {
		return nil, err
	}
	if !cognition.HasReference() {
		return nil, fmt.Errorf("%w: cognition %s of %s", ErrMissingReference, cognition.Name, inf.Target)
	}
	perceptions := make([]*concept.Concept, len(inf.Perceptions))
	for i, name := range inf.Perceptions {
		c, err := lookup(reg, name)
		if err != nil {
			return nil, err
		}
		if !c.HasReference() {
			return nil, fmt.Errorf("%w: perception %s of %s", ErrMissingReference, name, inf.Target)
		}
		perceptions[i] = c
	}

	combined, err := Combine(perceptions)
	if err != nil {
		return nil, fmt.Errorf("combine perceptions of %s: %w", inf.Target, err)
	}

	perceived, err := agent.Perceive(ctx, combined)
	if err != nil {
		return nil, fmt.Errorf("perceive %s: %w", combined.Name, err)
	}
	if perceived == nil {
		return nil, fmt.Errorf("%w: perception of %s", ErrMissingReference, combined.Name)
	}
	cognized, err := agent.Cognize(ctx, cognition, combined)
	if err != nil {
		return nil, fmt.Errorf("cognize %s: %w", cognition.Name, err)
	}
	if cognized == nil {
		return nil, fmt.Errorf("%w: cognition of %s", ErrMissingReference, cognition.Name)
	}

	raw, err := reference.CrossAction(cognized, perceived, target.Name, o.cellOpts...)
	if err != nil {
		return nil, fmt.Errorf("infer %s: %w", target.Name, err)
	}

	actuated, err := agent.Actuate(ctx, target.WithReference(raw))
	if err != nil {
		return nil, fmt.Errorf("actuate %s: %w", target.Name, err)
	}
	if actuated == nil {
		actuated = raw
	}

	if len(inf.View) > 0 {
		actuated, err = actuated.Project(inf.View...)
		if err != nil {
			return nil, fmt.Errorf("view of %s: %w", target.Name, err)
		}
	}

	out := target.WithReference(actuated)
	if err := reg.Replace(out); err != nil {
		return nil, fmt.Errorf("store %s: %w", target.Name, err)
	}
	return out, nil
}

func lookup(reg Registry, name string) (*concept.Concept, error) {
	c, ok := reg.Concept(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConcept, name)
	}
	return c, nil
}

// Combine merges perception concepts into one. A single concept passes
// through unchanged. Several concepts become a relation named by the JSON
// list of their names, whose reference is the cross product of theirs and
// whose Components are the member names.
func Combine(concepts []*concept.Concept) (*concept.Concept, error) {
	switch len(concepts) {
	case 0:
		return nil, reference.ErrNoOperands
	case 1:
		return concepts[0], nil
	}

	names := make([]string, len(concepts))
	refs := make([]*reference.Reference, len(concepts))
	for i, c := range concepts {
		names[i] = c.Name
		refs[i] = c.Reference
	}
	ref, err := reference.CrossProduct(refs)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	return &concept.Concept{
		Name:       string(raw),
		Type:       concept.TypeRelation,
		Reference:  ref,
		Components: names,
	}, nil
}
