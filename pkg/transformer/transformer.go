// Package transformer normalizes images into network inputs and back.
//
// A Transformer holds, for each named network input, the operations applied by Preprocess, in this order:
//
//  1. Resize the spatial dimensions (the first 2 axes) to the input's `(height, width)`, if they differ.
//  2. Transpose axes, e.g. `(2, 0, 1)` to go from `[H, W, C]` to `[C, H, W]`.
//  3. Channel swap: reorder the leading axis, e.g. `(2, 1, 0)` for RGB -> BGR.
//  4. Multiply by the raw scale.
//  5. Subtract the mean, either per channel or the full `[C, H, W]` mean image.
//  6. Multiply by the input scale.
//
// Deprocess reverts steps 6 to 2.
package transformer

import (
	"maps"
	"slices"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/imageio"
	"github.com/gomlx/caffeio/pkg/support/xslices"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Transformer converts images shaped `[height, width, channels]` into network inputs, for each
// configured named input.
//
// It is not safe to configure concurrently, but once configured Preprocess and Deprocess
// can be called concurrently.
type Transformer struct {
	inputs  map[string][]int
	params  map[string]*inputParams
	resizer imageio.Resizer
}

type inputParams struct {
	transpose   []int
	channelSwap []int
	rawScale    float32
	inputScale  float32
	mean        *tensors.Tensor
}

// Option configures a Transformer at construction.
type Option func(t *Transformer)

// WithResizer sets the Resizer used when an image doesn't match the input's spatial dimensions.
// The default is imageio.DrawResizer with a bilinear kernel.
func WithResizer(resizer imageio.Resizer) Option {
	return func(t *Transformer) {
		t.resizer = resizer
	}
}

// New creates a Transformer for the given network inputs: it maps each input name to its
// dimensions `[batch, channels, height, width]`.
func New(inputs map[string][]int, options ...Option) *Transformer {
	t := &Transformer{
		inputs:  make(map[string][]int, len(inputs)),
		params:  make(map[string]*inputParams, len(inputs)),
		resizer: imageio.DrawResizer{},
	}
	for name, dims := range inputs {
		t.inputs[name] = slices.Clone(dims)
		t.params[name] = &inputParams{rawScale: 1, inputScale: 1}
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Inputs returns the sorted names of the configured inputs.
func (t *Transformer) Inputs() []string {
	return slices.Sorted(maps.Keys(t.inputs))
}

func (t *Transformer) checkInput(name string) (*inputParams, error) {
	p, found := t.params[name]
	if !found {
		return nil, errors.Errorf("%q is not one of the network inputs %q", name, t.Inputs())
	}
	return p, nil
}

// SetTranspose sets the axes permutation applied to images of input name.
// It must have one element less than the input's dimensions (no batch axis).
func (t *Transformer) SetTranspose(name string, order []int) error {
	p, err := t.checkInput(name)
	if err != nil {
		return err
	}
	if len(order) != len(t.inputs[name])-1 {
		return errors.Errorf("transpose order %v needs to have the same number of dimensions as the input %q %v minus the batch axis",
			order, name, t.inputs[name])
	}
	if !xslices.IsPermutation(order) {
		return errors.Errorf("transpose order %v is not a permutation", order)
	}
	p.transpose = slices.Clone(order)
	return nil
}

// SetChannelSwap sets the reordering of the leading axis (after transpose), e.g. `(2, 1, 0)` to
// convert RGB to BGR. It must have one element per input channel.
func (t *Transformer) SetChannelSwap(name string, order []int) error {
	p, err := t.checkInput(name)
	if err != nil {
		return err
	}
	dims := t.inputs[name]
	if len(dims) < 2 || len(order) != dims[1] {
		return errors.Errorf("channel swap %v needs to have the same number of dimensions as the input %q channels (%v)",
			order, name, dims)
	}
	if !xslices.IsPermutation(order) {
		return errors.Errorf("channel swap %v is not a permutation", order)
	}
	p.channelSwap = slices.Clone(order)
	return nil
}

// SetRawScale sets the scale applied before mean subtraction, e.g. 255 to convert images with
// values in [0, 1] to [0, 255]. It must be non-zero.
func (t *Transformer) SetRawScale(name string, scale float32) error {
	p, err := t.checkInput(name)
	if err != nil {
		return err
	}
	if scale == 0 {
		return errors.Errorf("raw scale for input %q must be non-zero", name)
	}
	p.rawScale = scale
	return nil
}

// SetInputScale sets the scale applied after mean subtraction. It must be non-zero.
func (t *Transformer) SetInputScale(name string, scale float32) error {
	p, err := t.checkInput(name)
	if err != nil {
		return err
	}
	if scale == 0 {
		return errors.Errorf("input scale for input %q must be non-zero", name)
	}
	p.inputScale = scale
	return nil
}

// SetMean sets the mean subtracted from the transposed images of input name.
//
// The mean can be shaped `[channels]`, in which case it is broadcast over each channel plane,
// or `[channels, height, width]` (`[height, width]` for a single channel) matching the input exactly.
func (t *Transformer) SetMean(name string, mean *tensors.Tensor) error {
	p, err := t.checkInput(name)
	if err != nil {
		return err
	}
	dims := t.inputs[name]
	meanDims := mean.Shape().Dimensions
	if len(meanDims) == 1 {
		if len(dims) < 2 || meanDims[0] != dims[1] {
			return errors.Errorf("mean channels %v incompatible with input %q %v", meanDims, name, dims)
		}
		p.mean = mean.Clone()
		return nil
	}
	if len(meanDims) == 2 {
		meanDims = append([]int{1}, meanDims...)
	}
	if len(meanDims) != 3 {
		return errors.Errorf("mean shape %s invalid, it must be [C], [H, W] or [C, H, W]", mean.Shape())
	}
	if !slices.Equal(meanDims, dims[1:]) {
		return errors.Errorf("mean shape %v incompatible with input %q shape %v", meanDims, name, dims)
	}
	p.mean = mean.Reshape(meanDims...)
	klog.V(1).Infof("transformer: input %q mean set to shape %s", name, p.mean.Shape())
	return nil
}

// Preprocess converts an image shaped `[height, width, channels]` to the format of the network input name.
func (t *Transformer) Preprocess(name string, data *tensors.Tensor) (*tensors.Tensor, error) {
	p, err := t.checkInput(name)
	if err != nil {
		return nil, err
	}
	dims := t.inputs[name]
	if data.Rank() < 2 {
		return nil, errors.Errorf("Preprocess(%q) requires an image shaped [height, width, channels], got %s",
			name, data.Shape())
	}
	out := data
	if len(dims) >= 4 && !slices.Equal(data.Shape().Dimensions[:2], dims[2:4]) {
		out, err = t.resizer.Resize(data, dims[2], dims[3])
		if err != nil {
			return nil, errors.WithMessagef(err, "Preprocess(%q) failed to resize image", name)
		}
	}

	err = exceptions.TryCatch[error](func() {
		if p.transpose != nil {
			if out.Rank() != len(p.transpose) {
				exceptions.Panicf("image shaped %s doesn't match transpose order %v", out.Shape(), p.transpose)
			}
			out = out.Transpose(p.transpose...)
		}
		if p.channelSwap != nil {
			out = reorderLeadingAxis(out, p.channelSwap)
		}
		if out == data {
			out = data.Clone()
		}
		flat := out.Flat()
		if p.rawScale != 1 {
			for ii := range flat {
				flat[ii] *= p.rawScale
			}
		}
		if p.mean != nil {
			addMean(out, p.mean, -1)
		}
		if p.inputScale != 1 {
			for ii := range flat {
				flat[ii] *= p.inputScale
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Preprocess(%q)", name)
	}
	return out, nil
}

// Deprocess reverts Preprocess (except for the resizing), returning an image shaped `[height, width, channels]`
// (assuming the transpose configured moves the channels axis first).
//
// A leading batch axis of dimension 1 is dropped.
func (t *Transformer) Deprocess(name string, data *tensors.Tensor) (*tensors.Tensor, error) {
	p, err := t.checkInput(name)
	if err != nil {
		return nil, err
	}
	out := data.Clone()
	if out.Rank() == 4 && out.Shape().Dimensions[0] == 1 {
		out = out.Index(0)
	}
	err = exceptions.TryCatch[error](func() {
		flat := out.Flat()
		if p.inputScale != 1 {
			for ii := range flat {
				flat[ii] /= p.inputScale
			}
		}
		if p.mean != nil {
			addMean(out, p.mean, 1)
		}
		if p.rawScale != 1 {
			for ii := range flat {
				flat[ii] /= p.rawScale
			}
		}
		if p.channelSwap != nil {
			out = reorderLeadingAxis(out, xslices.ArgSort(p.channelSwap))
		}
		if p.transpose != nil {
			if out.Rank() != len(p.transpose) {
				exceptions.Panicf("data shaped %s doesn't match transpose order %v", out.Shape(), p.transpose)
			}
			out = out.Transpose(xslices.ArgSort(p.transpose)...)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Deprocess(%q)", name)
	}
	return out, nil
}

// reorderLeadingAxis returns a tensor where entry i of the leading axis is entry order[i] of x.
func reorderLeadingAxis(x *tensors.Tensor, order []int) *tensors.Tensor {
	if x.Rank() < 1 || x.Shape().Dimensions[0] != len(order) {
		exceptions.Panicf("channel swap %v doesn't match data shaped %s", order, x.Shape())
	}
	parts := make([]*tensors.Tensor, len(order))
	for ii, src := range order {
		parts[ii] = x.Index(src)
	}
	return tensors.Stack(parts)
}

// addMean adds sign*mean to x in place. mean is either shaped `[C]`, broadcast over the leading axis
// of x, or shaped exactly as x.
func addMean(x, mean *tensors.Tensor, sign float32) {
	flat, meanFlat := x.Flat(), mean.Flat()
	if mean.Rank() == 1 {
		channels := mean.Shape().Dimensions[0]
		if x.Rank() < 1 || x.Shape().Dimensions[0] != channels {
			exceptions.Panicf("mean shaped %s doesn't match data shaped %s", mean.Shape(), x.Shape())
		}
		planeSize := x.Size() / channels
		for ch, m := range meanFlat {
			plane := flat[ch*planeSize : (ch+1)*planeSize]
			for ii := range plane {
				plane[ii] += sign * m
			}
		}
		return
	}
	if !x.Shape().Equal(mean.Shape()) {
		exceptions.Panicf("mean shaped %s doesn't match data shaped %s", mean.Shape(), x.Shape())
	}
	for ii, m := range meanFlat {
		flat[ii] += sign * m
	}
}
