package agent

import (
	"context"
	"fmt"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/memory"
	"github.com/c360studio/semplan/metric"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/prompt"
	"github.com/c360studio/semplan/reference"
)

// Cognition configures how a cognition concept prompts its oracle.
type Cognition struct {
	Role        model.Role
	Template    string
	Definitions prompt.Definitions
}

// DefaultCognition returns the cognition for a concept type. Classifications
// ask the structured oracle for instances; every other type asks the bullet
// oracle for a judgement.
func DefaultCognition(t concept.Type) Cognition {
	if t == concept.TypeClassification {
		return Cognition{
			Role:        model.RoleStructured,
			Template:    prompt.ClassificationTemplate,
			Definitions: prompt.DefaultDefinitions(),
		}
	}
	return Cognition{
		Role:        model.RoleBullet,
		Template:    prompt.JudgementTemplate,
		Definitions: prompt.DefaultDefinitions(),
	}
}

func (c Cognition) withDefaults(t concept.Type) Cognition {
	def := DefaultCognition(t)
	if c.Role == "" {
		c.Role = def.Role
	}
	if c.Template == "" {
		c.Template = def.Template
	}
	if c.Definitions == nil {
		c.Definitions = def.Definitions
	}
	return c
}

// Cognize turns every cell of cognition's reference into a function over a
// Percept. The function renders the cognition's template with the cell's
// remembered value and the percept, asks the oracle and decodes the reply as
// a JSON list. A value with no memory is its own name.
//
// The returned functions call the oracle with ctx; they must run before ctx
// ends.
func (f *Frame) Cognize(ctx context.Context, cognition, perception *concept.Concept) (*reference.Reference, error) {
	if !cognition.HasReference() {
		return nil, fmt.Errorf("cognize %s: no reference", cognition.Name)
	}
	cfg := f.CognitionFor(cognition)
	oracle, err := f.oracle(cfg.Role)
	if err != nil {
		return nil, fmt.Errorf("cognize %s: %w", cognition.Name, err)
	}

	var perceptionConcept any = perception.Name
	if len(perception.Components) > 0 {
		perceptionConcept = toAny(perception.Components)
	}

	absent := 0
	ref, err := reference.ElementActionIndexed(func(idx reference.Index, values ...any) (any, error) {
		name := prompt.Text(values[0])
		value, ok, err := f.store.Recollect(ctx, memory.Query{Concepts: []string{cognition.Name}, Name: name, Index: idx})
		if err != nil {
			return nil, err
		}
		if !ok {
			value = name
		}

		return reference.Action(func(input any) ([]any, error) {
			p, ok := input.(Percept)
			if !ok {
				return nil, fmt.Errorf("cognition %s: expected a percept, got %T", cognition.Name, input)
			}
			env := prompt.Env{
				prompt.CognitionName:     name,
				prompt.CognitionValue:    value,
				prompt.CognitionConcept:  cognition.Name,
				prompt.PerceptionConcept: perceptionConcept,
				prompt.PerceptionName:    cleanNames(p.Names),
				prompt.PerceptionValue:   p.Values,
			}
			reply, err := f.invoke(ctx, cfg.Role, oracle, prompt.Render(cfg.Template, cfg.Definitions, env))
			if err != nil {
				return nil, err
			}
			return llm.DecodeList(reply)
		}), nil
	}, []*reference.Reference{cognition.Reference}, reference.WithCellErrorHandler(func(idx reference.Index, err error) {
		absent++
		f.logger.Debug("Cognition failed", "concept", cognition.Name, "index", idx, "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("cognize %s: %w", cognition.Name, err)
	}
	f.metrics.AddAbsent(metric.StageCognition, absent)
	return ref, nil
}

func cleanNames(names []any) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = prompt.CleanParentheses(prompt.Text(n))
	}
	return out
}

func toAny(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
