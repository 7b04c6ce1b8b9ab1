package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/inference"
	"github.com/c360studio/semplan/reference"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAgent passes references through and turns every cognition value v into
// a cell function answering "v:input".
type stubAgent struct {
	calls   atomic.Int32
	fail    bool
	explain string
}

func (a *stubAgent) Perceive(_ context.Context, c *concept.Concept) (*reference.Reference, error) {
	a.calls.Add(1)
	return c.Reference, nil
}

func (a *stubAgent) Cognize(_ context.Context, cognition, _ *concept.Concept) (*reference.Reference, error) {
	a.calls.Add(1)
	return reference.ElementAction(func(values ...any) (any, error) {
		rule := values[0]
		return reference.Action(func(input any) ([]any, error) {
			if a.fail {
				return nil, errors.New("oracle unavailable")
			}
			return []any{fmt.Sprintf("%v:%v", rule, input)}, nil
		}), nil
	}, []*reference.Reference{cognition.Reference})
}

func (a *stubAgent) Actuate(_ context.Context, target *concept.Concept) (*reference.Reference, error) {
	a.calls.Add(1)
	return target.Reference, nil
}

func (a *stubAgent) Explain(_ context.Context, prompt string) (string, error) {
	a.calls.Add(1)
	if a.explain == "" {
		return "", errors.New("no explanation")
	}
	return a.explain, nil
}

func mustConcept(t *testing.T, name string, typ concept.Type, values ...any) *concept.Concept {
	t.Helper()
	c, err := concept.New(name, "context of "+name, typ)
	require.NoError(t, err)
	if values != nil {
		c = c.WithReference(reference.MustFromNested([]string{name}, values))
	}
	return c
}

func mustInference(t *testing.T, target string, perceptions []string, cognition string) *inference.Inference {
	t.Helper()
	inf, err := inference.New(target, perceptions, cognition)
	require.NoError(t, err)
	return inf
}

// chainPlan builds B <= A, C <= B and D <= A, C with constant cognitions and
// registers the inferences in the given order.
func chainPlan(t *testing.T, infOrder []int, opts ...Option) *Plan {
	t.Helper()
	p := New(opts...)
	for _, c := range []*concept.Concept{
		mustConcept(t, "A", concept.TypeObject),
		mustConcept(t, "F1", concept.TypeJudgement, "f1"),
		mustConcept(t, "F2", concept.TypeJudgement, "f2"),
		mustConcept(t, "F3", concept.TypeRelation, "f3"),
		mustConcept(t, "B", concept.TypeObject),
		mustConcept(t, "C", concept.TypeObject),
		mustConcept(t, "D", concept.TypeObject),
	} {
		require.NoError(t, p.AddConcept(c))
	}
	infs := []*inference.Inference{
		mustInference(t, "B", []string{"A"}, "F1"),
		mustInference(t, "C", []string{"B"}, "F2"),
		mustInference(t, "D", []string{"A", "C"}, "F3"),
	}
	for _, i := range infOrder {
		require.NoError(t, p.AddInference(infs[i]))
	}
	require.NoError(t, p.SetIO([]string{"A"}, "D"))
	return p
}

func targets(infs []*inference.Inference) []string {
	out := make([]string, len(infs))
	for i, inf := range infs {
		out[i] = inf.Target
	}
	return out
}

func TestOrder_IsDeterministic(t *testing.T) {
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range permutations {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			order, err := chainPlan(t, perm).Order()
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "C", "D"}, targets(order))
		})
	}
}

func TestOrder_SiblingsKeepRegistrationOrder(t *testing.T) {
	p := New()
	for _, c := range []*concept.Concept{
		mustConcept(t, "A", concept.TypeObject),
		mustConcept(t, "F", concept.TypeJudgement, "f"),
		mustConcept(t, "Y", concept.TypeObject),
		mustConcept(t, "X", concept.TypeObject),
	} {
		require.NoError(t, p.AddConcept(c))
	}
	require.NoError(t, p.AddInference(mustInference(t, "Y", []string{"A"}, "F")))
	require.NoError(t, p.AddInference(mustInference(t, "X", []string{"A"}, "F")))
	require.NoError(t, p.SetIO([]string{"A"}, "X"))

	order, err := p.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "X"}, targets(order))

	levels, err := p.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"Y", "X"}, targets(levels[0]))
}

func TestLevels(t *testing.T) {
	levels, err := chainPlan(t, []int{2, 1, 0}).Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"B"}, targets(levels[0]))
	assert.Equal(t, []string{"C"}, targets(levels[1]))
	assert.Equal(t, []string{"D"}, targets(levels[2]))
}

func TestOrder_Cycle(t *testing.T) {
	p := New()
	for _, c := range []*concept.Concept{
		mustConcept(t, "A", concept.TypeObject),
		mustConcept(t, "F", concept.TypeJudgement, "f"),
		mustConcept(t, "B", concept.TypeObject),
		mustConcept(t, "C", concept.TypeObject),
	} {
		require.NoError(t, p.AddConcept(c))
	}
	require.NoError(t, p.AddInference(mustInference(t, "B", []string{"A", "C"}, "F")))
	require.NoError(t, p.AddInference(mustInference(t, "C", []string{"B"}, "F")))
	require.NoError(t, p.SetIO([]string{"A"}, "C"))

	_, err := p.Order()
	require.ErrorIs(t, err, ErrCyclicDependency)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"B", "C"}, cycle.Targets())
	assert.Contains(t, err.Error(), "B requires C")
	assert.Contains(t, err.Error(), "C requires B")
	assert.True(t, IsStructural(err))
}

func TestOrder_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		infs    [][3]string // target, perception, cognition
		wantErr error
	}{
		{
			name:    "duplicate producer",
			infs:    [][3]string{{"B", "A", "F"}, {"B", "C", "F"}},
			wantErr: ErrDuplicateProducer,
		},
		{
			name:    "unresolvable dependency",
			infs:    [][3]string{{"B", "X", "F"}},
			wantErr: ErrUnresolvableDependency,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			for _, name := range []string{"A", "B", "C", "X"} {
				require.NoError(t, p.AddConcept(mustConcept(t, name, concept.TypeObject)))
			}
			require.NoError(t, p.AddConcept(mustConcept(t, "F", concept.TypeJudgement, "f")))
			for _, i := range tt.infs {
				require.NoError(t, p.AddInference(mustInference(t, i[0], []string{i[1]}, i[2])))
			}
			require.NoError(t, p.SetIO([]string{"A"}, "B"))

			_, err := p.Order()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddInference_Unregistered(t *testing.T) {
	p := New()
	require.NoError(t, p.AddConcept(mustConcept(t, "A", concept.TypeObject)))

	err := p.AddInference(mustInference(t, "B", []string{"A"}, "F"))
	assert.ErrorIs(t, err, ErrUnregisteredConcept)
	assert.ErrorIs(t, p.SetIO([]string{"A"}, "Z"), ErrUnregisteredConcept)
}

func TestAddInference_SameKeyReplacesInPlace(t *testing.T) {
	p := chainPlan(t, []int{0, 1, 2})
	again := mustInference(t, "C", []string{"B"}, "F2")
	again.View = []string{"C"}
	require.NoError(t, p.AddInference(again))

	infs := p.Inferences()
	require.Len(t, infs, 3)
	assert.Same(t, again, infs[1])
}

func TestExecute(t *testing.T) {
	agent := &stubAgent{}
	p := chainPlan(t, []int{2, 0, 1})

	out, err := p.Execute(context.Background(), agent, map[string]any{"A": "apple"}, ModeReplicate, InputConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{"F3", "A", "F2", "F1", "B", "C", "D"}, out.Axes())
	v, err := out.Get(reference.Index{"F3": 0, "A": 0, "F2": 0, "F1": 0, "B": 0, "C": 0, "D": 0})
	require.NoError(t, err)
	s, ok := v.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(s, "f3:"))
	assert.Contains(t, s, "f2:f1:")
	assert.Contains(t, s, `"Summary_Key":"apple"`)

	a, _ := p.Concept("A")
	bullet, _ := a.Reference.Get(reference.Index{"A": 0})
	assert.Equal(t, `{"Explanation":"apple","Summary_Key":"apple"}`, bullet)
}

func TestExecute_ParallelMatchesSequential(t *testing.T) {
	inputs := map[string]any{"A": "apple"}

	seq, err := chainPlan(t, []int{0, 1, 2}).Execute(context.Background(), &stubAgent{}, inputs, ModeReplicate, InputConfig{})
	require.NoError(t, err)
	par, err := chainPlan(t, []int{0, 1, 2}, WithParallelism(4)).Execute(context.Background(), &stubAgent{}, inputs, ModeReplicate, InputConfig{})
	require.NoError(t, err)

	assert.True(t, seq.Equal(par))
}

func TestExecute_MissingInputBeforeAnyOracleCall(t *testing.T) {
	agent := &stubAgent{}
	p := chainPlan(t, []int{0, 1, 2})

	_, err := p.Execute(context.Background(), agent, map[string]any{"Z": "x"}, ModeAgent, InputConfig{})
	require.ErrorIs(t, err, ErrMissingInput)
	assert.Zero(t, agent.calls.Load())

	a, _ := p.Concept("A")
	assert.False(t, a.HasReference())
}

func TestExecute_IONotConfigured(t *testing.T) {
	p := New()
	_, err := p.Execute(context.Background(), &stubAgent{}, nil, ModeReplicate, InputConfig{})
	assert.ErrorIs(t, err, ErrIONotConfigured)
}

func TestExecute_InvalidModeBeforeAnyOracleCall(t *testing.T) {
	agent := &stubAgent{}
	_, err := chainPlan(t, []int{0, 1, 2}).Execute(context.Background(), agent, map[string]any{"A": "x"}, "raw_guess", InputConfig{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, agent.calls.Load())
}

func TestExecute_OrderErrorBeforeAnyOracleCall(t *testing.T) {
	agent := &stubAgent{}
	p := chainPlan(t, []int{0, 1, 2})
	require.NoError(t, p.AddInference(mustInference(t, "B", []string{"D"}, "F2")))

	_, err := p.Execute(context.Background(), agent, map[string]any{"A": "x"}, ModeAgent, InputConfig{})
	require.ErrorIs(t, err, ErrDuplicateProducer)
	assert.Zero(t, agent.calls.Load())
}

func TestCheck(t *testing.T) {
	cyclic := func(t *testing.T) *Plan {
		p := New()
		for _, c := range []*concept.Concept{
			mustConcept(t, "A", concept.TypeObject),
			mustConcept(t, "F", concept.TypeJudgement),
			mustConcept(t, "B", concept.TypeObject),
			mustConcept(t, "C", concept.TypeObject),
		} {
			require.NoError(t, p.AddConcept(c))
		}
		require.NoError(t, p.AddInference(mustInference(t, "B", []string{"A", "C"}, "F")))
		require.NoError(t, p.AddInference(mustInference(t, "C", []string{"B"}, "F")))
		require.NoError(t, p.SetIO([]string{"A"}, "C"))
		return p
	}
	tests := []struct {
		name   string
		plan   func(t *testing.T) *Plan
		inputs map[string]any
		want   error
	}{
		{name: "ok", plan: func(t *testing.T) *Plan { return chainPlan(t, []int{0, 1, 2}) }, inputs: map[string]any{"A": "x"}},
		{name: "io not configured", plan: func(*testing.T) *Plan { return New() }, want: ErrIONotConfigured},
		{name: "missing input", plan: func(t *testing.T) *Plan { return chainPlan(t, []int{0, 1, 2}) }, want: ErrMissingInput},
		{name: "cycle", plan: cyclic, inputs: map[string]any{"A": "x"}, want: ErrCyclicDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.plan(t)
			err := p.Check(tt.inputs)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			a, ok := p.Concept("A")
			if ok {
				assert.False(t, a.HasReference(), "nothing is bound")
			}
		})
	}
}

func TestExecute_AllCellsFailed(t *testing.T) {
	agent := &stubAgent{fail: true}
	_, err := chainPlan(t, []int{0, 1, 2}).Execute(context.Background(), agent, map[string]any{"A": "x"}, ModeReplicate, InputConfig{})
	assert.ErrorIs(t, err, ErrMissingOutput)
}

func TestExecute_ReferenceInputBoundAsIs(t *testing.T) {
	agent := &stubAgent{}
	p := chainPlan(t, []int{0, 1, 2})
	ref := reference.MustFromNested([]string{"A"}, []any{"raw", "values"})

	out, err := p.Execute(context.Background(), agent, map[string]any{"A": ref}, ModeReplicate, InputConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Extent("A"))

	a, _ := p.Concept("A")
	assert.Same(t, ref, a.Reference)
}

func TestBindConstants(t *testing.T) {
	p := New()
	require.NoError(t, p.AddConcept(mustConcept(t, "A", concept.TypeObject)))
	require.NoError(t, p.AddConcept(mustConcept(t, "F", concept.TypeJudgement)))
	require.NoError(t, p.AddConcept(mustConcept(t, "B", concept.TypeObject)))
	require.NoError(t, p.AddInference(mustInference(t, "B", []string{"A"}, "F")))
	require.NoError(t, p.SetIO([]string{"A"}, "B"))

	_, err := p.Order()
	require.ErrorIs(t, err, ErrUnresolvableDependency)

	agent := &stubAgent{explain: "a rule"}
	require.NoError(t, p.BindConstants(context.Background(), agent, map[string]any{"F": "is red"}, ModeAgent, InputConfig{}))
	assert.Equal(t, []string{"F"}, p.Constants())

	f, _ := p.Concept("F")
	v, _ := f.Reference.Get(reference.Index{"F": 0})
	assert.Equal(t, `{"Explanation":"a rule","Summary_Key":"is red"}`, v)

	order, err := p.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, targets(order))

	err = p.BindConstants(context.Background(), agent, map[string]any{"nope": "x"}, ModeReplicate, InputConfig{})
	assert.ErrorIs(t, err, ErrUnregisteredConcept)
}

func TestInferIO(t *testing.T) {
	p := chainPlan(t, []int{0, 1, 2})
	require.NoError(t, p.SetIO(nil, "B"))

	require.NoError(t, p.InferIO())
	inputs, output := p.IO()
	assert.Equal(t, []string{"A"}, inputs)
	assert.Equal(t, "D", output)

	var base []string
	for _, c := range p.BaseConcepts() {
		base = append(base, c.Name)
	}
	assert.Equal(t, []string{"A", "F1", "F2", "F3"}, base)

	assert.ErrorIs(t, New().InferIO(), ErrIONotConfigured)
}

func TestExpectedOrder_BeforeConstantsAreBound(t *testing.T) {
	p := New()
	for _, name := range []string{"A", "F", "B"} {
		c, err := concept.New(name, "", concept.TypeObject)
		require.NoError(t, err)
		require.NoError(t, p.AddConcept(c))
	}
	inf, err := inference.New("B", []string{"A"}, "F")
	require.NoError(t, err)
	require.NoError(t, p.AddInference(inf))
	require.NoError(t, p.SetIO([]string{"A"}, "B"))

	assert.Equal(t, []string{"F"}, p.UnboundConstants())
	_, err = p.Order()
	assert.ErrorIs(t, err, ErrUnresolvableDependency)

	order, err := p.ExpectedOrder()
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, "B", order[0].Target)

	var buf bytes.Buffer
	require.NoError(t, p.Describe(&buf))
	assert.Contains(t, buf.String(), "unbound:   F")
	assert.Contains(t, buf.String(), "1. B")
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chainPlan(t, []int{1, 0, 2}).Describe(&buf))

	out := buf.String()
	assert.Contains(t, out, "inputs:    A")
	assert.Contains(t, out, "output:    D")
	assert.Contains(t, out, "D <= [A C] via F3")
	assert.Contains(t, out, "1. B\n  2. C\n  3. D")
}
