package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		index map[string]int
		want  string
	}{
		{"unindexed", nil, "fruit|apple"},
		{"one axis", map[string]int{"fruit": 2}, "fruit|apple|fruit_2"},
		{"sorted parts", map[string]int{"z": 1, "a": 0, "m": 3}, "fruit|apple|a_0::m_3::z_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key("fruit", "apple", tt.index))
		})
	}
}

func TestParseKey(t *testing.T) {
	concept, name, index, ok := ParseKey("fruit|apple|a_0::m_3")
	require.True(t, ok)
	assert.Equal(t, "fruit", concept)
	assert.Equal(t, "apple", name)
	assert.Equal(t, []string{"a_0", "m_3"}, index)

	_, _, index, ok = ParseKey("fruit|apple")
	require.True(t, ok)
	assert.Empty(t, index)

	for _, bad := range []string{"", "fruit", "|apple", "fruit|"} {
		_, _, _, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestKey_EscapesSeparator(t *testing.T) {
	key := Key("verdict|v2", "red|green 100%", map[string]int{"fruit": 1})
	assert.Equal(t, "verdict%7Cv2|red%7Cgreen 100%25|fruit_1", key)

	concept, name, index, ok := ParseKey(key)
	require.True(t, ok)
	assert.Equal(t, "verdict|v2", concept)
	assert.Equal(t, "red|green 100%", name)
	assert.Equal(t, []string{"fruit_1"}, index)
}

func TestRecollect_NameWithSeparator(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	e := Entry{Concept: "verdict", Name: "TRUE|FALSE", Value: "undecided", Index: map[string]int{"fruit": 0}}
	require.NoError(t, s.Remember(ctx, e))

	v, ok, err := s.Recollect(ctx, Query{Concepts: []string{"verdict"}, Name: "TRUE|FALSE", Index: map[string]int{"fruit": 0}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "undecided", v)
}

func TestParseMatch(t *testing.T) {
	m, err := ParseMatch("")
	require.NoError(t, err)
	assert.Equal(t, MatchStrict, m)

	m, err = ParseMatch("loose")
	require.NoError(t, err)
	assert.Equal(t, MatchLoose, m)

	_, err = ParseMatch("fuzzy")
	assert.ErrorIs(t, err, ErrInvalidMatch)
}

func TestMatchScore(t *testing.T) {
	tests := []struct {
		name          string
		stored, query []string
		strict        bool
		exact         bool
		loose         bool
	}{
		{"identical", []string{"a_0", "b_1"}, []string{"a_0", "b_1"}, true, true, true},
		{"stored narrower", []string{"a_0"}, []string{"a_0", "b_1"}, true, false, true},
		{"stored wider", []string{"a_0", "b_1"}, []string{"a_0"}, true, false, true},
		{"disagreeing position", []string{"a_1"}, []string{"a_0"}, false, false, false},
		{"unindexed entry, indexed query", nil, []string{"a_0"}, false, false, true},
		{"indexed entry, unindexed query", []string{"a_0"}, nil, false, false, true},
		{"both unindexed", nil, nil, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := MatchStrict.score(tt.stored, tt.query)
			assert.Equal(t, tt.strict, ok, "strict")
			_, ok = MatchExact.score(tt.stored, tt.query)
			assert.Equal(t, tt.exact, ok, "exact")
			_, ok = MatchLoose.score(tt.stored, tt.query)
			assert.Equal(t, tt.loose, ok, "loose")
		})
	}
}

func TestSelectBest_PrefersClosestThenKeyOrder(t *testing.T) {
	candidates := []candidate{
		{key: "fruit|apple|a_0::b_1::c_2", value: "wide"},
		{key: "fruit|apple|a_0::b_1", value: "exact"},
		{key: "other|apple|a_0::b_1", value: "wrong concept"},
		{key: "fruit|pear|a_0::b_1", value: "wrong name"},
	}
	q := Query{Concepts: []string{"fruit"}, Name: "apple", Index: map[string]int{"a": 0, "b": 1}}

	best, ok := selectBest(MatchStrict, q, candidates)
	require.True(t, ok)
	assert.Equal(t, "exact", best.value)

	tied := []candidate{
		{key: "fruit|apple|a_0::c_5", value: "second"},
		{key: "fruit|apple|a_0::b_3", value: "first"},
	}
	best, ok = selectBest(MatchStrict, Query{Concepts: []string{"fruit"}, Name: "apple", Index: map[string]int{"a": 0}}, tied)
	require.True(t, ok)
	assert.Equal(t, "first", best.value)

	_, ok = selectBest(MatchStrict, Query{Concepts: []string{"fruit"}, Name: "kiwi"}, candidates)
	assert.False(t, ok)
}

// storeContract exercises the behaviour every backend shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, Entry{Concept: "fruit", Name: "apple", Value: "a red fruit", Index: map[string]int{"fruit": 0}}))
	require.NoError(t, s.Remember(ctx, Entry{Concept: "fruit", Name: "pear", Value: "a green fruit", Index: map[string]int{"fruit": 1}}))
	require.NoError(t, s.Remember(ctx, Entry{Concept: "color", Name: "red", Value: "a color"}))

	v, ok, err := s.Recollect(ctx, Query{Concepts: []string{"fruit"}, Name: "apple", Index: map[string]int{"fruit": 0}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a red fruit", v)

	// A projected query carries more coordinates than were stored.
	v, ok, err = s.Recollect(ctx, Query{Concepts: []string{"fruit", "color"}, Name: "pear", Index: map[string]int{"fruit": 1, "color": 0}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a green fruit", v)

	_, ok, err = s.Recollect(ctx, Query{Concepts: []string{"fruit"}, Name: "apple", Index: map[string]int{"fruit": 1}})
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = s.Recollect(ctx, Query{Concepts: []string{"color"}, Name: "red"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a color", v)

	// Same key replaces.
	require.NoError(t, s.Remember(ctx, Entry{Concept: "color", Name: "red", Value: "warm"}))
	v, _, err = s.Recollect(ctx, Query{Concepts: []string{"color"}, Name: "red"})
	require.NoError(t, err)
	assert.Equal(t, "warm", v)

	_, ok, err = s.Recollect(ctx, Query{Name: "red"})
	require.NoError(t, err)
	assert.False(t, ok, "no accepted concepts")
}

func TestInMemory(t *testing.T) {
	s := NewInMemory()
	storeContract(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "warm", snap["color|red"])
	snap["color|red"] = "mutated"
	assert.Equal(t, "warm", s.Snapshot()["color|red"])
	assert.NoError(t, s.Close())
}

func TestInMemory_LooseMatch(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(WithMatch(MatchLoose))
	require.NoError(t, s.Remember(ctx, Entry{Concept: "c", Name: "n", Value: "v"}))

	v, ok, err := s.Recollect(ctx, Query{Concepts: []string{"c"}, Name: "n", Index: map[string]int{"c": 3}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	strict := NewInMemory()
	require.NoError(t, strict.Remember(ctx, Entry{Concept: "c", Name: "n", Value: "v"}))
	_, ok, err = strict.Recollect(ctx, Query{Concepts: []string{"c"}, Name: "n", Index: map[string]int{"c": 3}})
	require.NoError(t, err)
	assert.False(t, ok)
}
