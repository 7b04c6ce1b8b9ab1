// Package agent implements the perception, cognition and actuation stages a
// plan runs for every inference.
//
// A Frame reads and writes a memory store and asks oracles, one per role, to
// answer rendered prompts. Perception recollects the explanation behind every
// name a concept holds. Cognition turns each cognition value into a cell
// function that prompts an oracle. Actuation parses the oracle's bullets,
// remembers their explanations and leaves the summary keys in the reference.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/memory"
	"github.com/c360studio/semplan/metric"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/plan"
	"github.com/c360studio/semplan/prompt"
	"github.com/c360studio/semplan/reference"
)

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 2 * time.Minute

// ErrNoOracle indicates the frame has no oracle for a role it needs.
var ErrNoOracle = errors.New("agent: no oracle for role")

// Oracle answers a prompt.
type Oracle interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Body maps roles to the oracles that serve them.
type Body map[model.Role]Oracle

// Percept is the perceived value of one cell: the names it holds and the
// explanation remembered for each.
type Percept struct {
	Names  []any
	Values []any
}

// Frame is a memory-backed agent. It is safe for concurrent use when its
// store and oracles are.
type Frame struct {
	body    Body
	store   memory.Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	cognition map[string]Cognition
}

// Option configures a Frame.
type Option func(*Frame)

// WithTimeout bounds every oracle call. A call that times out leaves its cell
// Absent.
func WithTimeout(d time.Duration) Option {
	return func(f *Frame) {
		f.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Frame) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMetrics records oracle calls and Absent cells.
func WithMetrics(m *metric.Metrics) Option {
	return func(f *Frame) {
		f.metrics = m
	}
}

// WithCognition overrides the cognition of the named concept.
func WithCognition(conceptName string, c Cognition) Option {
	return func(f *Frame) {
		f.cognition[conceptName] = c
	}
}

// New creates a frame over store and the oracles in body.
func New(body Body, store memory.Store, opts ...Option) (*Frame, error) {
	if store == nil {
		return nil, errors.New("agent: memory store is required")
	}
	f := &Frame{
		body:      body,
		store:     store,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		cognition: make(map[string]Cognition),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// SetCognition overrides the cognition of the named concept after creation.
func (f *Frame) SetCognition(conceptName string, c Cognition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cognition[conceptName] = c
}

// CognitionFor returns the cognition used for c: its override, or the default
// for its type.
func (f *Frame) CognitionFor(c *concept.Concept) Cognition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if cog, ok := f.cognition[c.Name]; ok {
		return cog.withDefaults(c.Type)
	}
	return DefaultCognition(c.Type)
}

func (f *Frame) oracle(role model.Role) (Oracle, error) {
	o, ok := f.body[role]
	if !ok || o == nil {
		return nil, fmt.Errorf("%w %s", ErrNoOracle, role)
	}
	return o, nil
}

// invoke calls the oracle for role under the frame's timeout.
func (f *Frame) invoke(ctx context.Context, role model.Role, o Oracle, q string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := o.Invoke(ctx, q)
	elapsed := time.Since(start)

	outcome := metric.OutcomeOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metric.OutcomeTimeout
	case err != nil:
		outcome = metric.OutcomeError
	}
	f.metrics.ObserveOracleCall(string(role), outcome, elapsed)
	if err != nil {
		f.logger.Warn("Oracle call failed", "role", role, "outcome", outcome, "duration", elapsed, "error", err)
		return "", err
	}
	f.logger.Debug("Oracle call completed", "role", role, "duration", elapsed)
	return reply, nil
}

// Explain asks the explanation oracle a free-form question.
func (f *Frame) Explain(ctx context.Context, q string) (string, error) {
	o, err := f.oracle(model.RoleExplain)
	if err != nil {
		return "", err
	}
	return f.invoke(ctx, model.RoleExplain, o, q)
}

// Perceive replaces every name in c's reference with a Percept holding the
// names and their remembered explanations. A combined concept looks names up
// under each of its components. A name with no memory is its own value.
func (f *Frame) Perceive(ctx context.Context, c *concept.Concept) (*reference.Reference, error) {
	if !c.HasReference() {
		return nil, fmt.Errorf("perceive %s: no reference", c.Name)
	}
	concepts := c.MemberNames()

	absent := 0
	ref, err := reference.ElementActionIndexed(func(idx reference.Index, values ...any) (any, error) {
		names, ok := values[0].([]any)
		if !ok {
			names = []any{values[0]}
		}
		recalled, err := f.recollectNested(ctx, names, concepts, idx)
		if err != nil {
			return nil, err
		}
		return Percept{Names: names, Values: recalled.([]any)}, nil
	}, []*reference.Reference{c.Reference}, reference.WithCellErrorHandler(func(idx reference.Index, err error) {
		absent++
		f.logger.Debug("Perception failed", "concept", c.Name, "index", idx, "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("perceive %s: %w", c.Name, err)
	}
	f.metrics.AddAbsent(metric.StagePerception, absent)
	return ref, nil
}

func (f *Frame) recollectNested(ctx context.Context, name any, concepts []string, idx reference.Index) (any, error) {
	if list, ok := name.([]any); ok {
		out := make([]any, len(list))
		for i, n := range list {
			v, err := f.recollectNested(ctx, n, concepts, idx)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	key := prompt.Text(name)
	v, ok, err := f.store.Recollect(ctx, memory.Query{Concepts: concepts, Name: key, Index: idx})
	if err != nil {
		return nil, err
	}
	if !ok {
		return key, nil
	}
	return v, nil
}

// Actuate parses the bullet in every cell of target's reference, remembers
// its explanation under the summary key and leaves the key in the cell.
// Malformed bullets become Absent. A failed write aborts with an error.
func (f *Frame) Actuate(ctx context.Context, target *concept.Concept) (*reference.Reference, error) {
	if !target.HasReference() {
		return nil, fmt.Errorf("actuate %s: no reference", target.Name)
	}

	var (
		absent   int
		writeErr error
	)
	ref, err := reference.ElementActionIndexed(func(idx reference.Index, values ...any) (any, error) {
		explanation, key, err := ParseBullet(values[0])
		if err != nil {
			return nil, err
		}
		entry := memory.Entry{Concept: target.Name, Name: key, Value: explanation, Index: idx}
		if err := f.store.Remember(ctx, entry); err != nil {
			if writeErr == nil {
				writeErr = err
			}
			return nil, err
		}
		return key, nil
	}, []*reference.Reference{target.Reference}, reference.WithCellErrorHandler(func(idx reference.Index, err error) {
		absent++
		f.logger.Debug("Actuation failed", "concept", target.Name, "index", idx, "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("actuate %s: %w", target.Name, err)
	}
	if writeErr != nil {
		return nil, fmt.Errorf("actuate %s: remember: %w", target.Name, writeErr)
	}
	f.metrics.AddAbsent(metric.StageActuation, absent)
	return ref, nil
}

var _ plan.Agent = (*Frame)(nil)
