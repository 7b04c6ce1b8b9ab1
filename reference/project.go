package reference

import (
	"fmt"
	"slices"
)

// Project restricts the reference to the selected axes, in the order given.
// Each result cell holds the sub-tensor over the remaining axes; a sub-tensor
// containing Absent at any depth collapses to a single Absent cell.
//
// Complexity: O(size of r).
func (r *Reference) Project(axes ...string) (*Reference, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("%w: no axes to project onto", ErrAxis)
	}
	if err := validateAxes(axes); err != nil {
		return nil, err
	}
	shape := make([]int, len(axes))
	for i, a := range axes {
		n := r.Extent(a)
		if n < 0 {
			return nil, fmt.Errorf("%w: unknown axis %q (have %v)", ErrAxis, a, r.axes)
		}
		shape[i] = n
	}

	data := build(axes, shape, func(idx Index) any {
		sub := r.at(idx)
		if containsAbsent(sub) {
			return Absent
		}
		return sub
	})
	return &Reference{axes: slices.Clone(axes), shape: shape, data: data}, nil
}

// ShapeView projects onto view, or onto all axes when view is empty.
func (r *Reference) ShapeView(view []string) (*Reference, error) {
	if len(view) == 0 {
		if len(r.axes) == 0 {
			return r.Clone(), nil
		}
		view = r.axes
	}
	return r.Project(view...)
}

// ReshapeTo pads or truncates the data to exactly shape, filling new positions
// with Absent. The rank must not change.
func (r *Reference) ReshapeTo(shape []int) (*Reference, error) {
	if len(shape) != len(r.axes) {
		return nil, fmt.Errorf("%w: reshape to rank %d, have rank %d", ErrShape, len(shape), len(r.axes))
	}
	for i, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative extent %d for axis %q", ErrShape, n, r.axes[i])
		}
	}
	return &Reference{
		axes:  slices.Clone(r.axes),
		shape: slices.Clone(shape),
		data:  pad(r.data, shape),
	}, nil
}

func pad(node any, shape []int) any {
	if len(shape) == 0 {
		return node
	}
	list, _ := node.([]any)
	out := make([]any, shape[0])
	for i := range out {
		if i < len(list) {
			out[i] = pad(list[i], shape[1:])
		} else {
			out[i] = pad(Absent, shape[1:])
		}
	}
	return out
}

func containsAbsent(node any) bool {
	if IsAbsent(node) {
		return true
	}
	list, ok := node.([]any)
	if !ok {
		return false
	}
	return slices.ContainsFunc(list, containsAbsent)
}
