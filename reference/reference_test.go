package reference

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// absentCmp lets cmp treat two Absent markers as equal.
var absentCmp = cmp.Comparer(func(a, b absentMarker) bool { return true })

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		axes    []string
		shape   []int
		wantErr error
	}{
		{name: "rank 2", axes: []string{"x", "y"}, shape: []int{2, 3}},
		{name: "rank 0", axes: nil, shape: nil},
		{name: "length mismatch", axes: []string{"x"}, shape: []int{1, 2}, wantErr: ErrShape},
		{name: "negative extent", axes: []string{"x"}, shape: []int{-1}, wantErr: ErrShape},
		{name: "duplicate axis", axes: []string{"x", "x"}, shape: []int{1, 1}, wantErr: ErrAxis},
		{name: "empty axis name", axes: []string{""}, shape: []int{1}, wantErr: ErrAxis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.axes, tt.shape, 0)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.axes), r.Rank())
		})
	}
}

func TestNew_FillsInitialValue(t *testing.T) {
	r := MustNew([]string{"x", "y"}, []int{2, 2}, "v")
	want := []any{[]any{"v", "v"}, []any{"v", "v"}}
	if diff := cmp.Diff(want, r.Data()); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		idx   Index
		value any
	}{
		{name: "scalar", idx: Index{"x": 1, "y": 2}, value: 42},
		{name: "string", idx: Index{"x": 0, "y": 0}, value: "cat"},
		{name: "absent", idx: Index{"x": 1, "y": 0}, value: Absent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MustNew([]string{"x", "y"}, []int{2, 3}, 0)
			require.NoError(t, r.Set(tt.idx, tt.value))

			got, err := r.Get(tt.idx)
			require.NoError(t, err)
			if IsAbsent(tt.value) {
				assert.True(t, IsAbsent(got))
				return
			}
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestGet_PartialIndex(t *testing.T) {
	r := MustFromNested([]string{"x", "y"}, []any{
		[]any{1, 2},
		[]any{Absent, 4},
	})

	row, err := r.Get(Index{"x": 1})
	require.NoError(t, err)
	if diff := cmp.Diff([]any{Absent, 4}, row, absentCmp); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	col, err := r.Get(Index{"y": 0})
	require.NoError(t, err)
	if diff := cmp.Diff([]any{1, Absent}, col, absentCmp); diff != "" {
		t.Errorf("column mismatch (-want +got):\n%s", diff)
	}

	out, err := r.Get(Index{"x": 5, "y": 0})
	require.NoError(t, err)
	assert.True(t, IsAbsent(out), "out of range reads as absent")
}

func TestGet_Errors(t *testing.T) {
	r := MustNew([]string{"x"}, []int{2}, 0)

	_, err := r.Get(Index{"z": 0})
	assert.ErrorIs(t, err, ErrAxis)

	_, err = r.Get(Index{"x": -1})
	assert.ErrorIs(t, err, ErrIndex)
}

func TestSet_AutoExtends(t *testing.T) {
	r := MustNew([]string{"x", "y"}, []int{1, 1}, 0)
	require.NoError(t, r.Set(Index{"x": 2, "y": 1}, "far"))

	got, err := r.Get(Index{"x": 2, "y": 1})
	require.NoError(t, err)
	assert.Equal(t, "far", got)

	gap, err := r.Get(Index{"x": 1, "y": 0})
	require.NoError(t, err)
	assert.True(t, IsAbsent(gap))

	assert.Equal(t, []int{1, 1}, r.Shape(), "declared shape is not updated by writes")
}

func TestSet_BroadcastsOverUnboundAxes(t *testing.T) {
	r := MustNew([]string{"x", "y"}, []int{2, 2}, 0)
	require.NoError(t, r.Set(Index{"y": 1}, 9))

	want := []any{[]any{0, 9}, []any{0, 9}}
	assert.Equal(t, want, r.Data())
}

func TestSet_RejectsContainerLeaf(t *testing.T) {
	r := MustNew([]string{"x"}, []int{1}, 0)
	err := r.Set(Index{"x": 0}, []any{1, 2})
	assert.True(t, errors.Is(err, ErrLeafContainer))
}

func TestFromNested_PadsJaggedData(t *testing.T) {
	r, err := FromNested([]string{"x", "y"}, []any{
		[]any{1},
		[]any{2, 3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, r.Shape())

	v, err := r.Get(Index{"x": 0, "y": 2})
	require.NoError(t, err)
	assert.True(t, IsAbsent(v))
}

func TestFromNested_RankMismatch(t *testing.T) {
	_, err := FromNested([]string{"x"}, "scalar")
	assert.ErrorIs(t, err, ErrShape)
}

func TestProject(t *testing.T) {
	r := MustFromNested([]string{"x", "y"}, []any{
		[]any{1, 2},
		[]any{Absent, 4},
	})

	byX, err := r.Project("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, byX.Axes())
	assert.Equal(t, []int{2}, byX.Shape())

	first, _ := byX.Get(Index{"x": 0})
	assert.Equal(t, []any{1, 2}, first)
	second, _ := byX.Get(Index{"x": 1})
	assert.True(t, IsAbsent(second), "a group containing absent collapses to absent")

	swapped, err := r.Project("y", "x")
	require.NoError(t, err)
	v, _ := swapped.Get(Index{"y": 1, "x": 1})
	assert.Equal(t, 4, v)
}

func TestProject_Errors(t *testing.T) {
	r := MustNew([]string{"x", "y"}, []int{1, 1}, 0)

	tests := []struct {
		name string
		axes []string
	}{
		{name: "no axes", axes: nil},
		{name: "unknown axis", axes: []string{"z"}},
		{name: "duplicate axis", axes: []string{"x", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Project(tt.axes...)
			assert.ErrorIs(t, err, ErrAxis)
		})
	}
}

func TestProject_Composes(t *testing.T) {
	r := MustFromNested([]string{"x", "y", "z"}, []any{
		[]any{[]any{1, 2}, []any{3, 4}, []any{5, 6}},
		[]any{[]any{7, 8}, []any{9, 10}, []any{11, 12}},
	})

	direct, err := r.Project("x")
	require.NoError(t, err)

	step, err := r.Project("x", "y")
	require.NoError(t, err)
	stepped, err := step.Project("x")
	require.NoError(t, err)

	assert.Equal(t, direct.Shape(), stepped.Shape())
	if diff := cmp.Diff(direct.Data(), stepped.Data()); diff != "" {
		t.Errorf("projection does not compose (-direct +stepped):\n%s", diff)
	}
}

func TestShapeView_EmptyUsesAllAxes(t *testing.T) {
	r := MustNew([]string{"x", "y"}, []int{2, 1}, "a")
	v, err := r.ShapeView(nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(r))
}

func TestReshapeTo(t *testing.T) {
	r := MustFromNested([]string{"x"}, []any{1, 2, 3})

	grown, err := r.ReshapeTo([]int{5})
	require.NoError(t, err)
	last, _ := grown.Get(Index{"x": 4})
	assert.True(t, IsAbsent(last))

	shrunk, err := r.ReshapeTo([]int{2})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, shrunk.Data())

	_, err = r.ReshapeTo([]int{1, 1})
	assert.ErrorIs(t, err, ErrShape)
}

func TestMarshalJSON_AbsentIsNull(t *testing.T) {
	r := MustFromNested([]string{"x"}, []any{"a", Absent})
	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"axes":["x"],"shape":[2],"data":["a",null]}`, string(b))
}
