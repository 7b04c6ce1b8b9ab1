package reference

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Action is a cell function applied by CrossAction. The returned slice becomes
// the cell's extent along the new trailing axis.
type Action func(input any) ([]any, error)

// ElementFunc maps the aligned cell values of every operand to one result.
type ElementFunc func(values ...any) (any, error)

// IndexedElementFunc is an ElementFunc that also receives the cell's full index.
type IndexedElementFunc func(idx Index, values ...any) (any, error)

// Option configures an algebra operator.
type Option func(*options)

type options struct {
	onCellError func(Index, error)
}

// WithCellErrorHandler registers fn to observe cell failures the operator
// absorbed into Absent. It does not change the result.
func WithCellErrorHandler(fn func(Index, error)) Option {
	return func(o *options) {
		o.onCellError = fn
	}
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) report(idx Index, err error) {
	if o.onCellError != nil {
		o.onCellError(idx, err)
	}
}

// errAbsentInput marks a skipped cell; it is expected and never reported.
var errAbsentInput = errors.New("absent input")

// CrossProduct joins refs over the union of their axes (first-seen order).
// Each result cell is the list of the operands' values at that index, or Absent
// when any of them is Absent.
//
// Complexity: O(k * product of the union shape) for k operands.
func CrossProduct(refs []*Reference, opts ...Option) (*Reference, error) {
	axes, shape, err := unionAxes(refs)
	if err != nil {
		return nil, err
	}
	data := build(axes, shape, func(idx Index) any {
		values := make([]any, len(refs))
		for i, r := range refs {
			v := r.at(idx)
			if IsAbsent(v) {
				return Absent
			}
			values[i] = v
		}
		return values
	})
	return &Reference{axes: axes, shape: shape, data: data}, nil
}

// CrossAction applies every cell function of a to the matching cell of b,
// broadcasting over axes the operands do not share. Result axes are a's axes,
// then b's extra axes, then newAxis, whose extent is the longest returned list.
//
// A cell is Absent when either operand is Absent, the a-cell is not callable,
// the function fails or panics, or any returned element is Absent. Shorter
// results are padded with Absent along newAxis.
func CrossAction(a, b *Reference, newAxis string, opts ...Option) (*Reference, error) {
	axes, shape, err := unionAxes([]*Reference{a, b})
	if err != nil {
		return nil, err
	}
	if newAxis == "" {
		return nil, fmt.Errorf("%w: empty result axis name", ErrAxis)
	}
	if slices.Contains(axes, newAxis) {
		return nil, fmt.Errorf("%w: result axis %q already present in %v", ErrAxis, newAxis, axes)
	}
	o := collect(opts)

	width := 0
	cells := build(axes, shape, func(idx Index) any {
		out, err := applyAction(a.at(idx), b.at(idx))
		if err != nil {
			if !errors.Is(err, errAbsentInput) {
				o.report(idx, err)
			}
			return Absent
		}
		width = max(width, len(out))
		if slices.ContainsFunc(out, IsAbsent) {
			return Absent
		}
		return out
	})

	return &Reference{
		axes:  append(axes, newAxis),
		shape: append(shape, width),
		data:  widen(cells, len(axes), width),
	}, nil
}

// ElementAction maps f over the aligned cells of refs. Absent inputs skip f and
// yield Absent; an error or panic from f yields Absent.
func ElementAction(f ElementFunc, refs []*Reference, opts ...Option) (*Reference, error) {
	if f == nil {
		return nil, ErrNilFunc
	}
	return ElementActionIndexed(func(_ Index, values ...any) (any, error) {
		return f(values...)
	}, refs, opts...)
}

// ElementActionIndexed is ElementAction with the cell index passed to f.
func ElementActionIndexed(f IndexedElementFunc, refs []*Reference, opts ...Option) (*Reference, error) {
	if f == nil {
		return nil, ErrNilFunc
	}
	axes, shape, err := unionAxes(refs)
	if err != nil {
		return nil, err
	}
	o := collect(opts)

	data := build(axes, shape, func(idx Index) any {
		values := make([]any, len(refs))
		for i, r := range refs {
			v := r.at(idx)
			if IsAbsent(v) {
				return Absent
			}
			values[i] = v
		}
		out, err := applyElement(f, idx, values)
		if err != nil {
			o.report(idx, err)
			return Absent
		}
		return out
	})
	return &Reference{axes: axes, shape: shape, data: data}, nil
}

func applyAction(fn, input any) (out []any, err error) {
	if IsAbsent(fn) || IsAbsent(input) {
		return nil, errAbsentInput
	}
	call, ok := asAction(fn)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, fn)
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrCellPanic, p)
		}
	}()
	return call(input)
}

func applyElement(f IndexedElementFunc, idx Index, values []any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrCellPanic, p)
		}
	}()
	return f(maps.Clone(idx), values...)
}

func asAction(v any) (Action, bool) {
	switch f := v.(type) {
	case Action:
		return f, f != nil
	case func(any) ([]any, error):
		return f, f != nil
	case func(any) []any:
		if f == nil {
			return nil, false
		}
		return func(in any) ([]any, error) { return f(in), nil }, true
	}
	return nil, false
}

// unionAxes collects axes in first-seen order and checks shared extents.
func unionAxes(refs []*Reference) ([]string, []int, error) {
	if len(refs) == 0 {
		return nil, nil, ErrNoOperands
	}
	var axes []string
	extents := make(map[string]int)
	for i, r := range refs {
		if r == nil {
			return nil, nil, fmt.Errorf("%w: operand %d", ErrNilOperand, i)
		}
		for j, a := range r.axes {
			n, seen := extents[a]
			if !seen {
				axes = append(axes, a)
				extents[a] = r.shape[j]
				continue
			}
			if n != r.shape[j] {
				return nil, nil, fmt.Errorf("%w: axis %q has extents %d and %d", ErrShapeMismatch, a, n, r.shape[j])
			}
		}
	}
	shape := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = extents[a]
	}
	return axes, shape, nil
}

// build creates nested data over axes/shape, calling leaf once per full index
// in row-major order.
func build(axes []string, shape []int, leaf func(Index) any) any {
	idx := make(Index, len(axes))
	var rec func(depth int) any
	rec = func(depth int) any {
		if depth == len(axes) {
			return leaf(maps.Clone(idx))
		}
		out := make([]any, shape[depth])
		for i := range out {
			idx[axes[depth]] = i
			out[i] = rec(depth + 1)
		}
		return out
	}
	return rec(0)
}

// widen turns the list held by each cell at depth into a trailing axis of
// exactly width entries. Absent cells stay collapsed.
func widen(node any, depth, width int) any {
	if depth > 0 {
		list := node.([]any)
		for i, child := range list {
			list[i] = widen(child, depth-1, width)
		}
		return list
	}
	values, ok := node.([]any)
	if !ok {
		return Absent
	}
	out := make([]any, width)
	for i := range out {
		if i < len(values) {
			out[i] = values[i]
		} else {
			out[i] = Absent
		}
	}
	return out
}
