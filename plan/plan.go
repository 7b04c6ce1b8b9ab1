// Package plan compiles inferences into a dependency order and executes them.
//
// A Plan owns the concept and inference registries. Inferences refer to
// concepts by name, so replacing a concept in the registry is all it takes for
// every later inference to see the new value. All registry access goes through
// one mutex; each write replaces a single entry.
package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/inference"
	"github.com/c360studio/semplan/metric"
)

// Structural errors. They are returned before any oracle call where possible.
var (
	// ErrUnregisteredConcept indicates a name that is not in the concept registry.
	ErrUnregisteredConcept = errors.New("plan: unregistered concept")

	// ErrDuplicateProducer indicates two inferences with the same target.
	ErrDuplicateProducer = errors.New("plan: duplicate producer")

	// ErrUnresolvableDependency indicates a required concept that is neither
	// initial nor produced by any inference.
	ErrUnresolvableDependency = errors.New("plan: unresolvable dependency")

	// ErrCyclicDependency indicates inferences that wait on each other.
	ErrCyclicDependency = errors.New("plan: cyclic dependency")

	// ErrIONotConfigured indicates Execute was called before SetIO.
	ErrIONotConfigured = errors.New("plan: inputs and output not configured")

	// ErrMissingInput indicates a configured input without a value.
	ErrMissingInput = errors.New("plan: missing input")

	// ErrMissingOutput indicates the output concept holds no value after a run.
	ErrMissingOutput = errors.New("plan: missing output")

	// ErrInvalidInput indicates an input value the input mode cannot bind.
	ErrInvalidInput = errors.New("plan: invalid input")
)

// Plan is an executable set of concepts and inferences.
type Plan struct {
	mu sync.Mutex

	concepts     map[string]*concept.Concept
	conceptNames []string

	inferences    map[string]*inference.Inference
	inferenceKeys []string

	inputs    []string
	output    string
	constants []string

	// order caches the last computed execution order. Structural changes
	// clear it; replacing concept values does not.
	order []*inference.Inference

	parallelism int
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// Option configures a Plan.
type Option func(*Plan)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Plan) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithParallelism runs up to n independent inferences of the same level at
// once. Values below 2 run strictly in order.
func WithParallelism(n int) Option {
	return func(p *Plan) {
		p.parallelism = n
	}
}

// WithMetrics records inference durations.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Plan) {
		p.metrics = m
	}
}

// New creates an empty plan.
func New(opts ...Option) *Plan {
	p := &Plan{
		concepts:    make(map[string]*concept.Concept),
		inferences:  make(map[string]*inference.Inference),
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddConcept registers c. A concept with the same name is replaced in place.
func (p *Plan) AddConcept(c *concept.Concept) error {
	if c == nil || c.Name == "" {
		return concept.ErrEmptyName
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.concepts[c.Name]; !ok {
		p.conceptNames = append(p.conceptNames, c.Name)
	}
	p.concepts[c.Name] = c
	p.order = nil
	return nil
}

// Concept returns the registered concept called name.
func (p *Plan) Concept(name string) (*concept.Concept, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.concepts[name]
	return c, ok
}

// Replace swaps the registered concept with the same name for c.
func (p *Plan) Replace(c *concept.Concept) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.concepts[c.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredConcept, c.Name)
	}
	p.concepts[c.Name] = c
	return nil
}

// Concepts returns the registered concepts in registration order.
func (p *Plan) Concepts() []*concept.Concept {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*concept.Concept, len(p.conceptNames))
	for i, name := range p.conceptNames {
		out[i] = p.concepts[name]
	}
	return out
}

// AddInference registers inf. Every concept it names must be registered. An
// inference with the same key replaces the earlier one in place.
func (p *Plan) AddInference(inf *inference.Inference) error {
	if err := inf.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range append(inf.Requires(), inf.Target) {
		if _, ok := p.concepts[name]; !ok {
			return fmt.Errorf("%w: %s (used by %s)", ErrUnregisteredConcept, name, inf)
		}
	}
	key := inf.Key()
	if _, ok := p.inferences[key]; !ok {
		p.inferenceKeys = append(p.inferenceKeys, key)
	}
	p.inferences[key] = inf
	p.order = nil
	return nil
}

// Inferences returns the registered inferences in registration order.
func (p *Plan) Inferences() []*inference.Inference {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inferenceList()
}

func (p *Plan) inferenceList() []*inference.Inference {
	out := make([]*inference.Inference, len(p.inferenceKeys))
	for i, key := range p.inferenceKeys {
		out[i] = p.inferences[key]
	}
	return out
}

// SetIO declares the input concepts and the output concept.
func (p *Plan) SetIO(inputs []string, output string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range append(slices.Clone(inputs), output) {
		if _, ok := p.concepts[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnregisteredConcept, name)
		}
	}
	p.inputs = slices.Clone(inputs)
	p.output = output
	p.order = nil
	return nil
}

// IO returns the declared inputs and output.
func (p *Plan) IO() (inputs []string, output string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.inputs), p.output
}

// Constants returns the names bound with BindConstants.
func (p *Plan) Constants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.constants)
}

// BaseConcepts returns the concepts no inference produces, in registration
// order.
func (p *Plan) BaseConcepts() []*concept.Concept {
	p.mu.Lock()
	defer p.mu.Unlock()

	produced := p.producedLocked()
	var out []*concept.Concept
	for _, name := range p.conceptNames {
		if !produced[name] {
			out = append(out, p.concepts[name])
		}
	}
	return out
}

// UnboundConstants returns the base concepts that are not inputs and hold no
// reference, in registration order. They must be bound with BindConstants
// before the plan runs.
func (p *Plan) UnboundConstants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unboundConstantsLocked()
}

func (p *Plan) unboundConstantsLocked() []string {
	produced := p.producedLocked()
	var out []string
	for _, name := range p.conceptNames {
		if !produced[name] && !p.concepts[name].HasReference() && !slices.Contains(p.inputs, name) {
			out = append(out, name)
		}
	}
	return out
}

// InferIO derives the I/O from the graph: inputs are the base concepts of
// object type without a reference, the output is the first produced concept
// no inference consumes.
func (p *Plan) InferIO() error {
	p.mu.Lock()
	produced := p.producedLocked()
	consumed := make(map[string]bool)
	for _, inf := range p.inferences {
		for _, name := range inf.Requires() {
			consumed[name] = true
		}
	}

	var inputs []string
	output := ""
	for _, name := range p.conceptNames {
		c := p.concepts[name]
		switch {
		case !produced[name]:
			if c.Type == concept.TypeObject && !c.HasReference() {
				inputs = append(inputs, name)
			}
		case !consumed[name] && output == "":
			output = name
		}
	}
	p.mu.Unlock()

	if len(inputs) == 0 || output == "" {
		return fmt.Errorf("%w: inferred inputs %v, output %q", ErrIONotConfigured, inputs, output)
	}
	return p.SetIO(inputs, output)
}

func (p *Plan) producedLocked() map[string]bool {
	produced := make(map[string]bool, len(p.inferences))
	for _, inf := range p.inferences {
		produced[inf.Target] = true
	}
	return produced
}
