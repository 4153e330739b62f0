/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tensors implement a `Tensor`, a representation of a multidimensional array of float32.
//
// Tensors are dense, row-major arrays defined by their shape (the axes' dimensions) and their content.
// In caffeio they hold images (`[height, width, channels]`), network inputs (`[channels, height, width]`)
// and batches of those.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions(value float32, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions(data []float32, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): converts a regular multidimensional slice of float32 (e.g. `[][]float32`).
//
// Operations that take indices or dimensions that are out of range panic, like a Go slice would.
package tensors

import (
	"reflect"

	"github.com/gomlx/caffeio/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array of float32, stored as a flat row-major slice.
//
// A Tensor is not safe for concurrent mutation, but can be read concurrently.
type Tensor struct {
	shape shapes.Shape
	flat  []float32
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape.Clone(),
		flat:  make([]float32, shape.Size()),
	}
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, filled with value.
func FromScalarAndDimensions(value float32, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dimensions...))
	for ii := range t.flat {
		t.flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a Tensor with the given dimensions, whose values are a copy of data.
//
// It panics if len(data) doesn't match the size of the dimensions.
func FromFlatDataAndDimensions(data []float32, dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions: %d values given for shape %s, which requires %d values",
			len(data), shape, shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat, data)
	return t
}

// FromValue converts a (possibly multidimensional) regular slice of float32 to a Tensor.
// A plain float32 becomes a scalar.
func FromValue(value any) (*Tensor, error) {
	v := reflect.ValueOf(value)
	var dims []int
	for elem := v; elem.Kind() == reflect.Slice; {
		if elem.Len() == 0 {
			return nil, errors.Errorf("FromValue: cannot convert empty slice (type %T)", value)
		}
		dims = append(dims, elem.Len())
		elem = elem.Index(0)
	}
	shape := shapes.Make(dims...)
	t := FromShape(shape)
	pos := 0
	var fill func(v reflect.Value, axis int) error
	fill = func(v reflect.Value, axis int) error {
		if axis == len(dims) {
			if v.Kind() != reflect.Float32 {
				return errors.Errorf("FromValue: only float32 values are supported, got %s", v.Type())
			}
			t.flat[pos] = float32(v.Float())
			pos++
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() != dims[axis] {
			return errors.Errorf("FromValue: irregular slice at axis %d, expected dimension %d", axis, dims[axis])
		}
		for ii := 0; ii < v.Len(); ii++ {
			if err := fill(v.Index(ii), axis+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := fill(v, 0); err != nil {
		return nil, err
	}
	return t, nil
}

// MustFromValue is like FromValue, but panics on error.
func MustFromValue(value any) *Tensor {
	t, err := FromValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Value returns the tensor content as a multidimensional slice of float32 (e.g. `[][][]float32`
// for a rank-3 tensor), or a float32 for a scalar.
func (t *Tensor) Value() any {
	if t.shape.IsScalar() {
		return t.flat[0]
	}
	sliceType := reflect.TypeOf(float32(0))
	for range t.Rank() {
		sliceType = reflect.SliceOf(sliceType)
	}
	pos := 0
	var build func(typ reflect.Type, axis int) reflect.Value
	build = func(typ reflect.Type, axis int) reflect.Value {
		dim := t.shape.Dimensions[axis]
		slice := reflect.MakeSlice(typ, dim, dim)
		if axis == t.Rank()-1 {
			reflect.Copy(slice, reflect.ValueOf(t.flat[pos:pos+dim]))
			pos += dim
			return slice
		}
		for ii := 0; ii < dim; ii++ {
			slice.Index(ii).Set(build(typ.Elem(), axis+1))
		}
		return slice
	}
	return build(sliceType, 0).Interface()
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Flat returns the underlying flat data, in row-major order. Changes to it are reflected in the tensor.
func (t *Tensor) Flat() []float32 { return t.flat }

// At returns the value at the given indices, one per axis.
func (t *Tensor) At(indices ...int) float32 {
	return t.flat[t.flatIndex(indices)]
}

// Set the value at the given indices, one per axis.
func (t *Tensor) Set(value float32, indices ...int) {
	t.flat[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != t.Rank() {
		exceptions.Panicf("tensor of shape %s indexed with %d indices (%v)", t.shape, len(indices), indices)
	}
	for axis, idx := range indices {
		if idx < 0 || idx >= t.shape.Dimensions[axis] {
			exceptions.Panicf("index %d out-of-bounds for axis %d of tensor shaped %s", idx, axis, t.shape)
		}
	}
	return t.shape.FlatIndex(indices...)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t2 := FromShape(t.shape)
	copy(t2.flat, t.flat)
	return t2
}

// Equal returns whether both tensors have the same shape and exactly the same values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.InDelta(other, 0)
}

// InDelta returns whether both tensors have the same shape and all values are within delta of each other.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	for ii, v := range t.flat {
		diff := float64(v) - float64(other.flat[ii])
		if diff < -delta || diff > delta {
			return false
		}
	}
	return true
}
