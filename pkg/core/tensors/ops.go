package tensors

import (
	"slices"

	"github.com/gomlx/caffeio/pkg/core/shapes"
	"github.com/gomlx/caffeio/pkg/support/xslices"
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
)

// Reshape returns a copy of the tensor with new dimensions. The total size must be the same.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if shape.Size() != t.Size() {
		exceptions.Panicf("Reshape(%v): tensor shaped %s has %d elements, new shape %s requires %d",
			dimensions, t.shape, t.Size(), shape, shape.Size())
	}
	t2 := FromShape(shape)
	copy(t2.flat, t.flat)
	return t2
}

// Transpose returns a new tensor with the axes permuted: output axis `i` is the input axis `permutation[i]`.
//
// Example: for an image shaped `[height, width, channels]`, `Transpose(2, 0, 1)` returns it shaped
// `[channels, height, width]`.
func (t *Tensor) Transpose(permutation ...int) *Tensor {
	if len(permutation) != t.Rank() || !xslices.IsPermutation(permutation) {
		exceptions.Panicf("Transpose(%v) is not a valid permutation for tensor shaped %s", permutation, t.shape)
	}
	inStrides := t.shape.Strides()
	outDims := make([]int, t.Rank())
	srcStrides := make([]int, t.Rank())
	for axis, srcAxis := range permutation {
		outDims[axis] = t.shape.Dimensions[srcAxis]
		srcStrides[axis] = inStrides[srcAxis]
	}
	out := FromShape(shapes.Make(outDims...))
	for flatIdx, indices := range out.shape.Iter() {
		srcIdx := 0
		for axis, idx := range indices {
			srcIdx += idx * srcStrides[axis]
		}
		out.flat[flatIdx] = t.flat[srcIdx]
	}
	return out
}

// Slice returns a copy of the sub-tensor given by the half-open ranges `[starts[axis], ends[axis])`.
func (t *Tensor) Slice(starts, ends []int) *Tensor {
	rank := t.Rank()
	if len(starts) != rank || len(ends) != rank {
		exceptions.Panicf("Slice(%v, %v): tensor shaped %s requires %d starts and ends", starts, ends, t.shape, rank)
	}
	outDims := make([]int, rank)
	for axis := range rank {
		if starts[axis] < 0 || ends[axis] > t.shape.Dimensions[axis] || starts[axis] >= ends[axis] {
			exceptions.Panicf("Slice(%v, %v): invalid range for axis %d of tensor shaped %s",
				starts, ends, axis, t.shape)
		}
		outDims[axis] = ends[axis] - starts[axis]
	}
	out := FromShape(shapes.Make(outDims...))
	if rank == 0 {
		out.flat[0] = t.flat[0]
		return out
	}

	// Copy contiguous runs of the last axis.
	rowLen := outDims[rank-1]
	if rank == 1 {
		copy(out.flat, t.flat[starts[0]:ends[0]])
		return out
	}
	outer := shapes.Make(outDims[:rank-1]...)
	srcIndices := make([]int, rank)
	for rowIdx, indices := range outer.Iter() {
		for axis, idx := range indices {
			srcIndices[axis] = idx + starts[axis]
		}
		srcIndices[rank-1] = starts[rank-1]
		src := t.shape.FlatIndex(srcIndices...)
		copy(out.flat[rowIdx*rowLen:(rowIdx+1)*rowLen], t.flat[src:src+rowLen])
	}
	return out
}

// Reverse returns a copy of the tensor with the order of the elements along axis reversed.
func (t *Tensor) Reverse(axis int) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	if axis < 0 || axis >= t.Rank() {
		exceptions.Panicf("Reverse(%d): invalid axis for tensor shaped %s", axis, t.shape)
	}
	out := FromShape(t.shape)
	dim := t.shape.Dimensions[axis]
	inner := xslices.Product(t.shape.Dimensions[axis+1:])
	outer := xslices.Product(t.shape.Dimensions[:axis])
	for o := range outer {
		base := o * dim * inner
		for ii := range dim {
			src := base + ii*inner
			dst := base + (dim-1-ii)*inner
			copy(out.flat[dst:dst+inner], t.flat[src:src+inner])
		}
	}
	return out
}

// Index returns a copy of the sub-tensor at position idx of the first axis.
// Example: for a batch shaped `[N, H, W, C]`, `Index(i)` returns the i-th image shaped `[H, W, C]`.
func (t *Tensor) Index(idx int) *Tensor {
	if t.shape.IsScalar() {
		exceptions.Panicf("Index(%d) called on a scalar tensor", idx)
	}
	dim := t.shape.Dimensions[0]
	if idx < 0 || idx >= dim {
		exceptions.Panicf("Index(%d) out-of-bounds for tensor shaped %s", idx, t.shape)
	}
	out := FromShape(shapes.Make(t.shape.Dimensions[1:]...))
	n := out.Size()
	copy(out.flat, t.flat[idx*n:(idx+1)*n])
	return out
}

// Stack creates a new tensor with a new leading axis, holding the given tensors in order.
// All tensors must have the same shape.
func Stack(tensors []*Tensor) *Tensor {
	if len(tensors) == 0 {
		exceptions.Panicf("Stack requires at least one tensor")
	}
	elementShape := tensors[0].shape
	dims := append([]int{len(tensors)}, elementShape.Dimensions...)
	out := FromShape(shapes.Make(dims...))
	n := elementShape.Size()
	for ii, t := range tensors {
		if !t.shape.Equal(elementShape) {
			exceptions.Panicf("Stack: tensor #%d has shape %s, but tensor #0 has shape %s", ii, t.shape, elementShape)
		}
		copy(out.flat[ii*n:(ii+1)*n], t.flat)
	}
	return out
}

// Concatenate joins the tensors along their first axis. All other dimensions must match.
func Concatenate(tensors []*Tensor) *Tensor {
	if len(tensors) == 0 {
		exceptions.Panicf("Concatenate requires at least one tensor")
	}
	first := tensors[0].shape
	if first.IsScalar() {
		exceptions.Panicf("Concatenate cannot join scalars")
	}
	total := 0
	for ii, t := range tensors {
		if t.Rank() != first.Rank() || !slices.Equal(t.shape.Dimensions[1:], first.Dimensions[1:]) {
			exceptions.Panicf("Concatenate: tensor #%d has shape %s, incompatible with tensor #0 shape %s",
				ii, t.shape, first)
		}
		total += t.shape.Dimensions[0]
	}
	dims := slices.Clone(first.Dimensions)
	dims[0] = total
	out := FromShape(shapes.Make(dims...))
	pos := 0
	for _, t := range tensors {
		pos += copy(out.flat[pos:], t.flat)
	}
	return out
}

// ToFloat16 returns the tensor values converted to half-precision floats, in row-major order.
func (t *Tensor) ToFloat16() []float16.Float16 {
	out := make([]float16.Float16, len(t.flat))
	for ii, v := range t.flat {
		out[ii] = float16.Fromfloat32(v)
	}
	return out
}

// MinMax returns the smallest and largest values of the tensor.
func (t *Tensor) MinMax() (minV, maxV float32) {
	return xslices.Min(t.flat), xslices.Max(t.flat)
}
