// Package reference implements labeled sparse tensors.
//
// A Reference is a nested array whose dimensions are addressed by axis name
// rather than by position. Cells hold arbitrary values (strings, numbers,
// cell functions) or the Absent marker. Absence is contagious: reading through
// an Absent container position yields Absent, and the algebra operators in this
// package never apply a computation to a cell with a missing input.
//
// A Reference is not safe for concurrent mutation. The algebra operators never
// mutate their operands and always return fresh references.
package reference

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

type absentMarker struct{}

func (absentMarker) String() string { return "<absent>" }

// MarshalJSON renders Absent as JSON null.
func (absentMarker) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Absent marks a cell that holds no value. It is never a valid domain value.
var Absent any = absentMarker{}

// IsAbsent reports whether v is the Absent marker.
//
// Cell values may be uncomparable (slices, maps, funcs), so Absent is detected
// by type rather than with ==.
func IsAbsent(v any) bool {
	_, ok := v.(absentMarker)
	return ok
}

// Index maps axis names to positions. Axes missing from an Index are unbound.
type Index map[string]int

// Reference is a labeled tensor: ordered unique axes, a declared shape and
// nested data of depth len(axes).
type Reference struct {
	axes  []string
	shape []int
	data  any
}

// New builds a reference of the given shape with every cell set to initial.
//
// Complexity: O(product of shape).
func New(axes []string, shape []int, initial any) (*Reference, error) {
	if err := validateAxes(axes); err != nil {
		return nil, err
	}
	if len(axes) != len(shape) {
		return nil, fmt.Errorf("%w: %d axes but %d extents", ErrShape, len(axes), len(shape))
	}
	for i, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative extent %d for axis %q", ErrShape, n, axes[i])
		}
	}
	return &Reference{
		axes:  slices.Clone(axes),
		shape: slices.Clone(shape),
		data:  fill(shape, initial),
	}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(axes []string, shape []int, initial any) *Reference {
	r, err := New(axes, shape, initial)
	if err != nil {
		panic(err)
	}
	return r
}

// FromNested wraps nested []any data. The shape is the longest extent found at
// each depth and shorter branches are padded with Absent.
func FromNested(axes []string, data any) (*Reference, error) {
	if err := validateAxes(axes); err != nil {
		return nil, err
	}
	shape := make([]int, len(axes))
	if err := measure(data, 0, shape); err != nil {
		return nil, err
	}
	return &Reference{
		axes:  slices.Clone(axes),
		shape: shape,
		data:  pad(data, shape),
	}, nil
}

// MustFromNested is like FromNested but panics on error.
func MustFromNested(axes []string, data any) *Reference {
	r, err := FromNested(axes, data)
	if err != nil {
		panic(err)
	}
	return r
}

func measure(node any, depth int, shape []int) error {
	if depth == len(shape) {
		return nil
	}
	list, ok := node.([]any)
	if !ok {
		if depth == 0 {
			return fmt.Errorf("%w: rank %d data must be a nested []any, got %T", ErrShape, len(shape), node)
		}
		return nil
	}
	shape[depth] = max(shape[depth], len(list))
	for _, child := range list {
		if err := measure(child, depth+1, shape); err != nil {
			return err
		}
	}
	return nil
}

func validateAxes(axes []string) error {
	seen := make(map[string]struct{}, len(axes))
	for _, a := range axes {
		if a == "" {
			return fmt.Errorf("%w: empty axis name", ErrAxis)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: duplicate axis %q", ErrAxis, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

func fill(shape []int, v any) any {
	if len(shape) == 0 {
		return v
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i] = fill(shape[1:], v)
	}
	return out
}

// Axes returns a copy of the axis names.
func (r *Reference) Axes() []string { return slices.Clone(r.axes) }

// Shape returns a copy of the declared shape.
func (r *Reference) Shape() []int { return slices.Clone(r.shape) }

// Rank returns the number of axes.
func (r *Reference) Rank() int { return len(r.axes) }

// HasAxis reports whether the reference carries the named axis.
func (r *Reference) HasAxis(name string) bool { return slices.Contains(r.axes, name) }

// Extent returns the declared extent of an axis, or -1 when the axis is unknown.
func (r *Reference) Extent(name string) int {
	if i := slices.Index(r.axes, name); i >= 0 {
		return r.shape[i]
	}
	return -1
}

// Data returns a deep copy of the nested data.
func (r *Reference) Data() any { return deepCopy(r.data) }

// Clone returns an independent copy of the reference.
func (r *Reference) Clone() *Reference {
	return &Reference{
		axes:  slices.Clone(r.axes),
		shape: slices.Clone(r.shape),
		data:  deepCopy(r.data),
	}
}

// Equal reports whether two references have the same axes, shape and data.
func (r *Reference) Equal(other *Reference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return slices.Equal(r.axes, other.axes) &&
		slices.Equal(r.shape, other.shape) &&
		reflect.DeepEqual(r.data, other.data)
}

// String returns a short description without the data.
func (r *Reference) String() string {
	return fmt.Sprintf("Reference(axes=[%s], shape=%v)", strings.Join(r.axes, ", "), r.shape)
}

// MarshalJSON renders the reference as {"axes", "shape", "data"}.
func (r *Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Axes  []string `json:"axes"`
		Shape []int    `json:"shape"`
		Data  any      `json:"data"`
	}{r.axes, r.shape, r.data})
}

// Get reads the cell or sub-tensor addressed by idx. Unbound axes return the
// full list at that depth. Out-of-range and Absent positions read as Absent.
func (r *Reference) Get(idx Index) (any, error) {
	bound, err := r.bind(idx)
	if err != nil {
		return nil, err
	}
	return getNode(r.data, bound), nil
}

// Set writes value at idx. Bound axes grow with Absent padding when idx lies
// beyond the current extent; unbound axes broadcast over existing entries.
// The declared shape is not updated.
func (r *Reference) Set(idx Index, value any) error {
	if _, ok := value.([]any); ok {
		return ErrLeafContainer
	}
	bound, err := r.bind(idx)
	if err != nil {
		return err
	}
	r.data = setNode(r.data, bound, value)
	return nil
}

// bind converts idx into one position per axis, -1 meaning unbound.
func (r *Reference) bind(idx Index) ([]int, error) {
	for name, pos := range idx {
		if !slices.Contains(r.axes, name) {
			return nil, fmt.Errorf("%w: unknown axis %q (have %v)", ErrAxis, name, r.axes)
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w: negative position %d for axis %q", ErrIndex, pos, name)
		}
	}
	return r.positions(idx), nil
}

// positions is bind without validation; axes missing from idx are unbound.
func (r *Reference) positions(idx Index) []int {
	bound := make([]int, len(r.axes))
	for i, a := range r.axes {
		if pos, ok := idx[a]; ok {
			bound[i] = pos
		} else {
			bound[i] = -1
		}
	}
	return bound
}

// at reads a cell for an index that may carry axes foreign to r.
func (r *Reference) at(idx Index) any {
	return getNode(r.data, r.positions(idx))
}

func getNode(node any, bound []int) any {
	if len(bound) == 0 {
		return node
	}
	list, ok := node.([]any)
	if !ok {
		return Absent
	}
	if i := bound[0]; i >= 0 {
		if i >= len(list) || IsAbsent(list[i]) {
			return Absent
		}
		return getNode(list[i], bound[1:])
	}
	out := make([]any, len(list))
	for i, child := range list {
		if IsAbsent(child) {
			out[i] = Absent
			continue
		}
		out[i] = getNode(child, bound[1:])
	}
	return out
}

func setNode(node any, bound []int, value any) any {
	if len(bound) == 0 {
		return value
	}
	list, ok := node.([]any)
	if bound[0] < 0 {
		if !ok {
			return node
		}
		for i := range list {
			list[i] = setNode(list[i], bound[1:], value)
		}
		return list
	}
	i := bound[0]
	for len(list) <= i {
		list = append(list, Absent)
	}
	list[i] = setNode(list[i], bound[1:], value)
	return list
}

func deepCopy(node any) any {
	list, ok := node.([]any)
	if !ok {
		return node
	}
	out := make([]any, len(list))
	for i, child := range list {
		out[i] = deepCopy(child)
	}
	return out
}
