// Package concept defines the named, typed handles that flow between inferences.
// A Concept owns an optional reference; plans replace concepts wholesale rather
// than mutating them in place.
package concept

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semplan/reference"
)

// Type is the closed set of concept kinds. The type selects the default
// cognition template used for a concept.
type Type string

const (
	// TypeClassification names a set of instances found in a perception.
	TypeClassification Type = "classification"

	// TypeJudgement is a true/false statement about its perceptions.
	TypeJudgement Type = "judgement"

	// TypeRelation relates several concepts.
	TypeRelation Type = "relation"

	// TypeObject is a plain entity. It is the default type.
	TypeObject Type = "object"

	// TypeSentence is a statement built from its perceptions.
	TypeSentence Type = "sentence"

	// TypeAssignment binds a value to a concept.
	TypeAssignment Type = "assignment"
)

var markers = map[Type]string{
	TypeClassification: "?",
	TypeJudgement:      "<>",
	TypeRelation:       "[]",
	TypeObject:         "{}",
	TypeSentence:       "^",
	TypeAssignment:     "@",
}

// Types returns every valid Type in declaration order.
func Types() []Type {
	return []Type{TypeClassification, TypeJudgement, TypeRelation, TypeObject, TypeSentence, TypeAssignment}
}

// Valid checks if t is one of the known types.
func (t Type) Valid() bool {
	_, ok := markers[t]
	return ok
}

// Marker returns the legacy short marker for t, such as "?" or "<>".
func (t Type) Marker() string {
	return markers[t]
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType accepts a type name or its legacy marker. The empty string parses
// as TypeObject.
func ParseType(s string) (Type, error) {
	if s == "" {
		return TypeObject, nil
	}
	if t := Type(s); t.Valid() {
		return t, nil
	}
	for t, m := range markers {
		if m == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// UnmarshalYAML lets plan sources spell types by name or marker.
func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

var (
	// ErrInvalidType indicates an unknown concept type.
	ErrInvalidType = errors.New("concept: invalid type")

	// ErrEmptyName indicates a concept without a name.
	ErrEmptyName = errors.New("concept: empty name")

	// ErrReferenceFile indicates a reference file that is not a JSON array.
	ErrReferenceFile = errors.New("concept: invalid reference file")
)

// Concept is a named, typed handle over an optional reference.
type Concept struct {
	Name      string
	Context   string
	Type      Type
	Reference *reference.Reference

	// Components lists the member concept names when this concept is the
	// combination of several perceptions. It is empty for plain concepts.
	Components []string
}

// New creates a concept without a reference.
func New(name, context string, typ Type) (*Concept, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if typ == "" {
		typ = TypeObject
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return &Concept{Name: name, Context: context, Type: typ}, nil
}

// HasReference reports whether the concept carries a reference.
func (c *Concept) HasReference() bool {
	return c != nil && c.Reference != nil
}

// WithReference returns a copy of c holding ref.
func (c *Concept) WithReference(ref *reference.Reference) *Concept {
	out := c.clone()
	out.Reference = ref
	return out
}

// MemberNames returns the names perception values are looked up under: the
// components of a combined concept, or the concept's own name.
func (c *Concept) MemberNames() []string {
	if len(c.Components) > 0 {
		return slices.Clone(c.Components)
	}
	return []string{c.Name}
}

func (c *Concept) clone() *Concept {
	out := *c
	out.Components = slices.Clone(c.Components)
	return &out
}

// LoadReference reads a JSON array from path and returns a copy of c whose
// reference is a one-axis tensor named after the concept.
func (c *Concept) LoadReference(path string) (*Concept, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference for %s: %w", c.Name, err)
	}
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReferenceFile, path, err)
	}
	for i, v := range values {
		if v == nil {
			values[i] = reference.Absent
		}
	}
	ref, err := reference.FromNested([]string{c.Name}, values)
	if err != nil {
		return nil, fmt.Errorf("reference for %s: %w", c.Name, err)
	}
	return c.WithReference(ref), nil
}
