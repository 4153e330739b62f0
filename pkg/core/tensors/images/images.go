// Package images provides several functions to transform images back and
// forth from tensors.
//
// Images are represented as float32 tensors shaped `[height, width, channels]`
// (or `[batch_size, height, width, channels]` for batches).
package images

import (
	"image"
	"image/color"
	"math"

	"github.com/gomlx/caffeio/pkg/core/shapes"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/support/xslices"
	. "github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// ChannelsAxisConfig indicates if a tensor with an image has the channel axis
// coming last (last axis) or first (first axis after batch axis).
type ChannelsAxisConfig uint8

//go:generate go tool enumer -type=ChannelsAxisConfig -output=gen_channelsaxisconfig_enumer.go images.go

const (
	ChannelsFirst ChannelsAxisConfig = iota
	ChannelsLast
)

// GetChannelsAxis from a given image tensor and configuration. It assumes the
// leading axis is for the batch dimension. So it either returns 1 or
// `image.Rank()-1`.
func GetChannelsAxis(image shapes.HasShape, config ChannelsAxisConfig) int {
	switch config {
	case ChannelsFirst:
		return 1
	case ChannelsLast:
		return image.Shape().Rank() - 1
	default:
		klog.Errorf("GetChannelsAxis(image, %s): invalid ChannelsAxisConfig!?", config)
		return -1
	}
}

// GetSpatialAxes from a given image tensor and configuration. It assumes the
// leading axis is for the batch dimension.
//
// Example: if image has shape `[batch_dim, height, width, channels]`, it will
// return `[]int{1, 2}`.
func GetSpatialAxes(image shapes.HasShape, config ChannelsAxisConfig) (spatialAxes []int) {
	numSpatialDims := image.Shape().Rank() - 2
	if numSpatialDims <= 0 {
		return
	}
	switch config {
	case ChannelsFirst:
		spatialAxes = xslices.Iota(2, numSpatialDims)
	case ChannelsLast:
		spatialAxes = xslices.Iota(1, numSpatialDims)
	default:
		klog.Errorf("GetSpatialAxes(image, %v): invalid ChannelsAxisConfig!?", config)
	}
	return
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
}

// ToTensor converts an image (or batch) to a float32 tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
//
// By default, it yields 3 channels (RGB) with values from 0 to 1, the same as Caffe's `load_image`.
func ToTensor() *ToTensorConfig {
	return &ToTensorConfig{
		channels: 3,
		maxValue: 1.0,
	}
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels. The default is dropping the alpha channel.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// Gray configures ToTensorConfig object to convert images to a single luminance channel.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Gray() *ToTensorConfig {
	tt.channels = 1
	return tt
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Channels returns the number of channels the converted tensors will have.
func (tt *ToTensorConfig) Channels() int { return tt.channels }

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, channels]`.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	return toTensorImpl(tt, []image.Image{img}, false)
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, channels]`.
//
// It panics if the images don't all have the same size.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	return toTensorImpl(tt, images, true)
}

func toTensorImpl(tt *ToTensorConfig, images []image.Image, batch bool) (t *tensors.Tensor) {
	if len(images) == 0 {
		Panicf("images.ToTensor requires at least one image")
	}
	imgSize := images[0].Bounds().Size()
	if batch {
		t = tensors.FromShape(shapes.Make(len(images), imgSize.Y, imgSize.X, tt.channels))
	} else {
		t = tensors.FromShape(shapes.Make(imgSize.Y, imgSize.X, tt.channels))
	}

	// color.RGBA() returns 16 bits values packaged in uint32.
	scale := float32(tt.maxValue / float64(0xFFFF))
	flat := t.Flat()
	pos := 0
	for imgIdx, img := range images {
		if !img.Bounds().Size().Eq(imgSize) {
			Panicf("image[%d] has size %s, but image[0] has size %s -- they must all be the same",
				imgIdx, img.Bounds().Size(), imgSize)
		}
		minPt := img.Bounds().Min
		for y := 0; y < imgSize.Y; y++ {
			for x := 0; x < imgSize.X; x++ {
				c := img.At(minPt.X+x, minPt.Y+y)
				switch tt.channels {
				case 1:
					gray := color.Gray16Model.Convert(c).(color.Gray16)
					flat[pos] = float32(gray.Y) * scale
					pos++
				case 3:
					r, g, b, _ := c.RGBA()
					for _, channel := range [3]uint32{r, g, b} {
						flat[pos] = float32(channel) * scale
						pos++
					}
				case 4:
					r, g, b, a := c.RGBA()
					for _, channel := range [4]uint32{r, g, b, a} {
						flat[pos] = float32(channel) * scale
						pos++
					}
				}
			}
		}
	}
	if pos != t.Size() {
		Panicf("images.ToTensor failed to set the values for all pixels (%d written out of %d)", pos, t.Size())
	}
	return
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	maxValue float64
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type. Values are clipped to [0, MaxValue].
func ToImage() *ToImageConfig {
	return &ToImageConfig{maxValue: 1.0}
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, channels]` to an image.
//
// It panics in case of error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	shapes.AssertRank(t, 3)
	return toImageImpl(ti, t)[0]
}

// Batch converts the given 4D tensor shaped as `[batch_size, height, width, channels]`
// to a collection of images.
//
// It panics in case of error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []image.Image {
	shapes.AssertRank(t, 4)
	return toImageImpl(ti, t)
}

func toImageImpl(ti *ToImageConfig, imagesTensor *tensors.Tensor) (images []image.Image) {
	dims := imagesTensor.Shape().Dimensions
	numImages := 1
	if len(dims) == 4 {
		numImages = dims[0]
		dims = dims[1:]
	}
	height, width, channels := dims[0], dims[1], dims[2]
	if channels != 1 && channels != 3 && channels != 4 {
		Panicf("images.ToImage invalid tensor shape %s, with %d channels: only images with 1, 3 or 4 channels are supported",
			imagesTensor.Shape(), channels)
	}
	toUint8 := func(v float32) uint8 {
		f := math.Round(255 * (float64(v) / ti.maxValue))
		return uint8(min(max(f, 0), 255))
	}

	flat := imagesTensor.Flat()
	images = make([]image.Image, 0, numImages)
	pos := 0
	for range numImages {
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for h := 0; h < height; h++ {
			for w := 0; w < width; w++ {
				pix := img.Pix[h*img.Stride+w*4 : h*img.Stride+w*4+4]
				switch channels {
				case 1:
					v := toUint8(flat[pos])
					pix[0], pix[1], pix[2] = v, v, v
				default:
					for d := 0; d < channels; d++ {
						pix[d] = toUint8(flat[pos+d])
					}
				}
				if channels < 4 {
					pix[3] = 255 // Alpha channel.
				}
				pos += channels
			}
		}
		images = append(images, img)
	}
	return
}
