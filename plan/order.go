package plan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/c360studio/semplan/inference"
)

// Stranded is an inference Order could not place, with the concepts it was
// still waiting for.
type Stranded struct {
	Target   string
	Requires []string
}

// CycleError lists the inferences left over after ordering. It wraps
// ErrCyclicDependency.
type CycleError struct {
	Stranded []Stranded
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Stranded))
	for i, s := range e.Stranded {
		parts[i] = fmt.Sprintf("%s requires %s", s.Target, strings.Join(s.Requires, ", "))
	}
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(parts, "; "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// Targets returns the stranded target names.
func (e *CycleError) Targets() []string {
	out := make([]string, len(e.Stranded))
	for i, s := range e.Stranded {
		out[i] = s.Target
	}
	return out
}

// dependencyGraph links producer inferences to their consumers. Nodes are
// inference keys in registration order.
type dependencyGraph struct {
	keys       []string
	inferences map[string]*inference.Inference
	producers  map[string]string   // concept name -> producing inference key
	deps       map[string][]string // inference key -> concepts it waits for
	inDegree   map[string]int      // number of unmet dependencies
	dependents map[string][]string // inference keys that consume this one's target
}

// Order returns the inferences in execution order and caches it.
//
// Initial concepts are the declared inputs plus every concept that already
// holds a reference. Inferences are placed with Kahn's algorithm over a FIFO
// queue seeded in registration order, so siblings keep their registration
// order and the result does not depend on map iteration.
func (p *Plan) Order() ([]*inference.Inference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.order != nil {
		return append([]*inference.Inference(nil), p.order...), nil
	}
	g, err := p.buildGraphLocked()
	if err != nil {
		return nil, err
	}
	order, err := g.sort()
	if err != nil {
		return nil, err
	}
	p.order = order
	return append([]*inference.Inference(nil), order...), nil
}

// ExpectedOrder returns the order the plan will run in once every unbound
// constant is bound. It neither needs nor caches bound constants.
func (p *Plan) ExpectedOrder() ([]*inference.Inference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.buildGraphLocked(p.unboundConstantsLocked()...)
	if err != nil {
		return nil, err
	}
	return g.sort()
}

// Levels groups the execution order into levels. Every inference depends only
// on inferences of earlier levels, so the members of one level can run
// concurrently.
func (p *Plan) Levels() ([][]*inference.Inference, error) {
	order, err := p.Order()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	g, err := p.buildGraphLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	var levels [][]*inference.Inference
	for _, inf := range order {
		key := inf.Key()
		n := 0
		for _, dep := range g.deps[key] {
			n = max(n, level[g.producers[dep]]+1)
		}
		level[key] = n
		if n == len(levels) {
			levels = append(levels, nil)
		}
		levels[n] = append(levels[n], inf)
	}
	return levels, nil
}

func (p *Plan) buildGraphLocked(assumed ...string) (*dependencyGraph, error) {
	initial := make(map[string]bool)
	for _, name := range append(slices.Clone(p.inputs), assumed...) {
		initial[name] = true
	}
	for name, c := range p.concepts {
		if c.HasReference() {
			initial[name] = true
		}
	}

	g := &dependencyGraph{
		keys:       append([]string(nil), p.inferenceKeys...),
		inferences: p.inferences,
		producers:  make(map[string]string),
		deps:       make(map[string][]string),
		inDegree:   make(map[string]int),
		dependents: make(map[string][]string),
	}

	for _, key := range g.keys {
		target := g.inferences[key].Target
		if other, dup := g.producers[target]; dup {
			return nil, fmt.Errorf("%w: %s is produced by %s and %s",
				ErrDuplicateProducer, target, g.inferences[other], g.inferences[key])
		}
		g.producers[target] = key
	}

	for _, key := range g.keys {
		inf := g.inferences[key]
		for _, name := range inf.Requires() {
			if initial[name] {
				continue
			}
			producer, ok := g.producers[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s requires %s, which no inference produces and no input provides",
					ErrUnresolvableDependency, inf.Target, name)
			}
			g.deps[key] = append(g.deps[key], name)
			g.inDegree[key]++
			g.dependents[producer] = append(g.dependents[producer], key)
		}
	}
	return g, nil
}

func (g *dependencyGraph) sort() ([]*inference.Inference, error) {
	degree := make(map[string]int, len(g.inDegree))
	for key, n := range g.inDegree {
		degree[key] = n
	}

	var queue []string
	for _, key := range g.keys {
		if degree[key] == 0 {
			queue = append(queue, key)
		}
	}

	placed := make(map[string]bool, len(g.keys))
	order := make([]*inference.Inference, 0, len(g.keys))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		placed[key] = true
		order = append(order, g.inferences[key])

		for _, next := range g.dependents[key] {
			degree[next]--
			if degree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) == len(g.keys) {
		return order, nil
	}

	cycle := &CycleError{}
	for _, key := range g.keys {
		if placed[key] {
			continue
		}
		var waiting []string
		for _, dep := range g.deps[key] {
			if !placed[g.producers[dep]] {
				waiting = append(waiting, dep)
			}
		}
		cycle.Stranded = append(cycle.Stranded, Stranded{Target: g.inferences[key].Target, Requires: waiting})
	}
	return nil, cycle
}
