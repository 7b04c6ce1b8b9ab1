package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/inference"
	"github.com/c360studio/semplan/llm/testutil"
	"github.com/c360studio/semplan/memory"
	"github.com/c360studio/semplan/metric"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/plan"
	"github.com/c360studio/semplan/reference"
)

func newConcept(t *testing.T, name string, typ concept.Type) *concept.Concept {
	t.Helper()
	c, err := concept.New(name, "", typ)
	require.NoError(t, err)
	return c
}

// judgementPlan builds verdict <= [fruit] via red, where red is a judgement
// constant "{1}_is_red".
func judgementPlan(t *testing.T, frame *Frame) *plan.Plan {
	t.Helper()
	p := plan.New()
	for _, c := range []*concept.Concept{
		newConcept(t, "fruit", concept.TypeObject),
		newConcept(t, "red", concept.TypeJudgement),
		newConcept(t, "verdict", concept.TypeObject),
	} {
		require.NoError(t, p.AddConcept(c))
	}
	inf, err := inference.New("verdict", []string{"fruit"}, "red")
	require.NoError(t, err)
	require.NoError(t, p.AddInference(inf))
	require.NoError(t, p.InferIO())

	require.NoError(t, p.BindConstants(context.Background(), frame,
		map[string]any{"red": `{"Explanation": "{1} has a red colour", "Summary_Key": "{1}_is_red"}`},
		plan.ModeDirect, plan.InputConfig{}))
	return p
}

func TestFrame_Judgement(t *testing.T) {
	store := memory.NewInMemory()
	oracle := &testutil.MockOracle{
		Rules: []testutil.Rule{{
			Contains: `judge if "apple is red" is true or false`,
			Reply:    `{"Explanation": "Apples are often red.", "Summary_Key": "TRUE"}`,
		}},
		Default: `{"Explanation": "unexpected prompt", "Summary_Key": "N/A"}`,
	}
	reg := prometheus.NewRegistry()
	m, err := metric.New(reg)
	require.NoError(t, err)

	frame, err := New(Body{model.RoleBullet: oracle}, store, WithMetrics(m))
	require.NoError(t, err)
	p := judgementPlan(t, frame)

	out, err := p.Execute(context.Background(), frame, map[string]any{"fruit": "apple"}, plan.ModeReplicate, plan.InputConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{"red", "fruit", "verdict"}, out.Axes())
	v, err := out.Get(reference.Index{"red": 0, "fruit": 0, "verdict": 0})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", v)

	snapshot := store.Snapshot()
	assert.Equal(t, "apple", snapshot["fruit|apple|fruit_0"])
	assert.Equal(t, "{1} has a red colour", snapshot["red|{1}_is_red|red_0"])
	assert.Equal(t, "Apples are often red.", snapshot["verdict|TRUE|fruit_0::red_0::verdict_0"])

	prompts := oracle.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], `"apple has a red colour"`)
	assert.Contains(t, prompts[0], " - fruit: apple (context: apple)")

	series, err := promtest.GatherAndCount(reg, "semplan_oracle_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestFrame_Classification(t *testing.T) {
	store := memory.NewInMemory()
	oracle := &testutil.MockOracle{
		Default: "Here you go:\n```json\n" +
			`[{"Explanation": "the skin is red", "Summary_Key": "red (skin)"}, {"Explanation": "the flesh is pale", "Summary_Key": "white"}]` +
			"\n```",
	}
	frame, err := New(Body{model.RoleStructured: oracle}, store)
	require.NoError(t, err)

	p := plan.New()
	for _, c := range []*concept.Concept{
		newConcept(t, "fruit", concept.TypeObject),
		newConcept(t, "color?", concept.TypeClassification),
		newConcept(t, "colors", concept.TypeObject),
	} {
		require.NoError(t, p.AddConcept(c))
	}
	inf, err := inference.New("colors", []string{"fruit"}, "color?")
	require.NoError(t, err)
	require.NoError(t, p.AddInference(inf))
	require.NoError(t, p.SetIO([]string{"fruit"}, "colors"))
	require.NoError(t, p.BindConstants(context.Background(), frame,
		map[string]any{"color?": "color"}, plan.ModeReplicate, plan.InputConfig{}))

	out, err := p.Execute(context.Background(), frame, map[string]any{"fruit": "apple"}, plan.ModeReplicate, plan.InputConfig{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 2}, out.Shape())
	assert.Equal(t, []any{[]any{[]any{"red skin", "white"}}}, out.Data())
	assert.Equal(t, "the flesh is pale", store.Snapshot()["colors|white|color?_0::colors_1::fruit_0"])

	require.Len(t, oracle.Prompts(), 1)
	assert.Contains(t, oracle.Prompts()[0], `find instances of "color" from a specific text about an instance of "fruit"`)
}

func TestFrame_OracleFailureIsAbsent(t *testing.T) {
	oracle := &testutil.MockOracle{Err: errors.New("connection refused")}
	frame, err := New(Body{model.RoleBullet: oracle}, memory.NewInMemory())
	require.NoError(t, err)
	p := judgementPlan(t, frame)

	_, err = p.Execute(context.Background(), frame, map[string]any{"fruit": "apple"}, plan.ModeReplicate, plan.InputConfig{})
	assert.ErrorIs(t, err, plan.ErrMissingOutput)
	assert.Equal(t, 1, oracle.Calls())
}

func TestFrame_OracleTimeout(t *testing.T) {
	oracle := &testutil.MockOracle{
		Respond: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	store := memory.NewInMemory()
	frame, err := New(Body{model.RoleBullet: oracle}, store, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	cog := newConcept(t, "red", concept.TypeJudgement).
		WithReference(reference.MustFromNested([]string{"red"}, []any{"is red"}))
	perc := newConcept(t, "fruit", concept.TypeObject)

	ref, err := frame.Cognize(context.Background(), cog, perc)
	require.NoError(t, err)
	cell, err := ref.Get(reference.Index{"red": 0})
	require.NoError(t, err)
	action, ok := cell.(reference.Action)
	require.True(t, ok)

	_, err = action(Percept{Names: []any{"apple"}, Values: []any{"apple"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrame_PerceiveCombined(t *testing.T) {
	store := memory.NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Remember(ctx, memory.Entry{Concept: "A", Name: "x", Value: "an x", Index: map[string]int{"A": 0}}))
	require.NoError(t, store.Remember(ctx, memory.Entry{Concept: "B", Name: "y", Value: "a y", Index: map[string]int{"B": 0}}))

	frame, err := New(nil, store)
	require.NoError(t, err)

	a := newConcept(t, "A", concept.TypeObject).WithReference(reference.MustFromNested([]string{"A"}, []any{"x"}))
	b := newConcept(t, "B", concept.TypeObject).WithReference(reference.MustFromNested([]string{"B"}, []any{"y", "z"}))
	combined, err := inference.Combine([]*concept.Concept{a, b})
	require.NoError(t, err)

	ref, err := frame.Perceive(ctx, combined)
	require.NoError(t, err)

	first, _ := ref.Get(reference.Index{"A": 0, "B": 0})
	assert.Equal(t, Percept{Names: []any{"x", "y"}, Values: []any{"an x", "a y"}}, first)
	// z was never remembered, so it stands for itself.
	second, _ := ref.Get(reference.Index{"A": 0, "B": 1})
	assert.Equal(t, Percept{Names: []any{"x", "z"}, Values: []any{"an x", "z"}}, second)
}

func TestFrame_ActuateMalformedIsAbsent(t *testing.T) {
	store := memory.NewInMemory()
	frame, err := New(nil, store)
	require.NoError(t, err)

	target := newConcept(t, "T", concept.TypeObject).WithReference(reference.MustFromNested([]string{"T"}, []any{
		`{"Explanation": "ok", "Summary_Key": "fine"}`,
		"no bullet here",
		reference.Absent,
	}))
	ref, err := frame.Actuate(context.Background(), target)
	require.NoError(t, err)

	got := ref.Data().([]any)
	assert.Equal(t, "fine", got[0])
	assert.True(t, reference.IsAbsent(got[1]))
	assert.True(t, reference.IsAbsent(got[2]))
	assert.Len(t, store.Snapshot(), 1)
}

type failingStore struct{ memory.Store }

func (failingStore) Remember(context.Context, memory.Entry) error {
	return errors.New("disk full")
}

func TestFrame_ActuateWriteFailureIsFatal(t *testing.T) {
	frame, err := New(nil, failingStore{memory.NewInMemory()})
	require.NoError(t, err)

	target := newConcept(t, "T", concept.TypeObject).
		WithReference(reference.MustFromNested([]string{"T"}, []any{"[e : k]"}))
	_, err = frame.Actuate(context.Background(), target)
	assert.ErrorContains(t, err, "disk full")
}

func TestFrame_MissingOracle(t *testing.T) {
	frame, err := New(Body{}, memory.NewInMemory())
	require.NoError(t, err)

	_, err = frame.Explain(context.Background(), "what?")
	assert.ErrorIs(t, err, ErrNoOracle)

	cog := newConcept(t, "kind?", concept.TypeClassification).
		WithReference(reference.MustFromNested([]string{"kind?"}, []any{"kind"}))
	_, err = frame.Cognize(context.Background(), cog, newConcept(t, "x", concept.TypeObject))
	assert.ErrorIs(t, err, ErrNoOracle)

	_, err = New(Body{}, nil)
	assert.Error(t, err)
}

func TestFrame_CognitionOverride(t *testing.T) {
	oracle := &testutil.MockOracle{Default: `["done"]`}
	frame, err := New(Body{model.RoleExplain: oracle}, memory.NewInMemory(),
		WithCognition("summarize", Cognition{Role: model.RoleExplain, Template: "Summarize $perc_n using $cog_v."}))
	require.NoError(t, err)

	cog := newConcept(t, "summarize", concept.TypeRelation).
		WithReference(reference.MustFromNested([]string{"summarize"}, []any{"briefly"}))
	cfg := frame.CognitionFor(cog)
	assert.Equal(t, model.RoleExplain, cfg.Role)
	assert.NotNil(t, cfg.Definitions)

	ref, err := frame.Cognize(context.Background(), cog, newConcept(t, "text", concept.TypeObject))
	require.NoError(t, err)
	cell, _ := ref.Get(reference.Index{"summarize": 0})
	out, err := cell.(reference.Action)(Percept{Names: []any{"the (long) text"}, Values: []any{"v"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"done"}, out)
	assert.Equal(t, `Summarize ["the text"] using briefly.`, oracle.Prompts()[0])

	assert.Equal(t, model.RoleBullet, frame.CognitionFor(newConcept(t, "other", concept.TypeSentence)).Role)
	assert.True(t, strings.Contains(frame.CognitionFor(newConcept(t, "c?", concept.TypeClassification)).Template, "find instances"))
}

func TestParseBullet(t *testing.T) {
	tests := []struct {
		name            string
		in              any
		wantExplanation string
		wantKey         string
		wantErr         bool
	}{
		{name: "json text", in: `{"Explanation": "e", "Summary_Key": "k"}`, wantExplanation: "e", wantKey: "k"},
		{name: "object", in: map[string]any{"Explanation": "e", "Summary_Key": true}, wantExplanation: "e", wantKey: "true"},
		{name: "list takes first", in: []any{map[string]any{"Explanation": "a", "Summary_Key": "1"}, "ignored"}, wantExplanation: "a", wantKey: "1"},
		{name: "json list text", in: `[{"Explanation": "a", "Summary_Key": "1"}]`, wantExplanation: "a", wantKey: "1"},
		{name: "bracketed", in: "[a red fruit : apple]", wantExplanation: "a red fruit", wantKey: "apple"},
		{name: "bracketed splits on last colon", in: "[time: noon : 12:00]", wantExplanation: "time: noon : 12", wantKey: "00"},
		{name: "parentheses stripped from key", in: `{"Explanation": "e", "Summary_Key": " red (skin) "}`, wantExplanation: "e", wantKey: "red skin"},
		{name: "empty explanation", in: `{"Explanation": "", "Summary_Key": "k"}`, wantKey: "k"},
		{name: "missing key", in: `{"Explanation": "e"}`, wantErr: true},
		{name: "empty key", in: "[e : ()]", wantErr: true},
		{name: "plain text", in: "no bullet", wantErr: true},
		{name: "empty list", in: []any{}, wantErr: true},
		{name: "number", in: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			explanation, key, err := ParseBullet(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedBullet)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExplanation, explanation)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
