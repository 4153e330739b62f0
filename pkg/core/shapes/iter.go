package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory, the one used everywhere in caffeio.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// FlatIndex converts per-axis indices to the row-major flat index.
// It doesn't check bounds.
func (s Shape) FlatIndex(indices ...int) int {
	flat := 0
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		flat += indices[axis] * stride
		stride *= s.Dimensions[axis]
	}
	return flat
}

// Iter iterates sequentially over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	indices := make([]int, s.Rank())
	return s.IterOn(indices)
}

// IterOn iterates over all possible indices of the given shape, updating the given indices slice.
//
// It expects len(indices) == s.Rank(). It will panic otherwise.
func (s Shape) IterOn(indices []int) iter.Seq2[int, []int] {
	if len(indices) != s.Rank() {
		panic(errors.Errorf("Shape.IterOn given len(indices) == %d, want it to be equal to the rank %d", len(indices), s.Rank()))
	}
	return func(yield func(int, []int) bool) {
		rank := s.Rank()
		for _, dim := range s.Dimensions {
			if dim <= 0 {
				return
			}
		}
		for i := range indices {
			indices[i] = 0
		}
		if rank == 0 {
			_ = yield(0, indices)
			return
		}
		flatIdx := 0
	nextIndex:
		for {
			if !yield(flatIdx, indices) {
				return
			}
			flatIdx++

			// Row-major: the last index changes fastest.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					continue nextIndex
				}
				indices[axis] = 0
			}
			return
		}
	}
}
