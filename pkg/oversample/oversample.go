// Package oversample generates spatial variants (crops and mirrors) of batches of images, to improve
// the robustness of predictions by averaging over them.
//
// Images are float32 tensors shaped `[height, width, channels]`, and a batch is a slice of images
// that must all share the same shape. Violations of these preconditions (including crops larger than
// the images) panic with github.com/gomlx/exceptions, like other shape errors in this module.
//
// All functions return the variants in image-major order: all variants of image i precede those of image i+1.
package oversample

import (
	"fmt"
	"math/rand"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	. "github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Dims are the spatial dimensions of an image or of a crop.
type Dims struct {
	Height, Width int
}

// String implements fmt.Stringer.
func (d Dims) String() string {
	return fmt.Sprintf("(%d, %d)", d.Height, d.Width)
}

// IsValid returns whether both dimensions are positive.
func (d Dims) IsValid() bool {
	return d.Height > 0 && d.Width > 0
}

// Fits returns whether d fits within other.
func (d Dims) Fits(other Dims) bool {
	return d.Height <= other.Height && d.Width <= other.Width
}

// SpatialDims returns the Dims of an image shaped `[height, width, channels]`.
func SpatialDims(img *tensors.Tensor) Dims {
	if img.Rank() != 3 {
		Panicf("image must be shaped [height, width, channels], got shape %s", img.Shape())
	}
	dims := img.Shape().Dimensions
	return Dims{Height: dims[0], Width: dims[1]}
}

// Window is a half-open rectangle within an image: rows `[Top, Bottom)` and columns `[Left, Right)`.
type Window struct {
	Top, Left, Bottom, Right int
}

// Dims returns the size of the window.
func (w Window) Dims() Dims {
	return Dims{Height: w.Bottom - w.Top, Width: w.Right - w.Left}
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", w.Top, w.Bottom, w.Left, w.Right)
}

// RNG is the source of randomness for RandomCrop.
//
// *rand.Rand (from math/rand) implements it.
type RNG interface {
	// Intn returns a uniformly distributed integer in [0, n).
	Intn(n int) int
}

// globalRNG uses the process-wide math/rand source, which is safe for concurrent use.
type globalRNG struct{}

func (globalRNG) Intn(n int) int { return rand.Intn(n) }

// checkBatch panics if the images are not all of rank 3 with the same shape.
// It returns the spatial dimensions of the images, or zero Dims for an empty batch.
func checkBatch(images []*tensors.Tensor) Dims {
	if len(images) == 0 {
		return Dims{}
	}
	dims := SpatialDims(images[0])
	for ii, img := range images[1:] {
		if !img.Shape().Equal(images[0].Shape()) {
			Panicf("image #%d is shaped %s, but image #0 is shaped %s: all images in a batch must have the same shape",
				ii+1, img.Shape(), images[0].Shape())
		}
	}
	return dims
}

// checkCrop panics if crop is not valid or doesn't fit within imageDims.
func checkCrop(imageDims, crop Dims) {
	if !crop.IsValid() {
		Panicf("invalid crop dimensions %s", crop)
	}
	if !crop.Fits(imageDims) {
		Panicf("crop dimensions %s larger than image dimensions %s", crop, imageDims)
	}
}

// FlipHorizontal returns a copy of the image with the order of its columns reversed.
func FlipHorizontal(img *tensors.Tensor) *tensors.Tensor {
	_ = SpatialDims(img)
	return img.Reverse(1)
}

// Crop returns a copy of the window of the image.
func Crop(img *tensors.Tensor, window Window) *tensors.Tensor {
	imageDims := SpatialDims(img)
	if window.Top < 0 || window.Left < 0 || window.Bottom > imageDims.Height || window.Right > imageDims.Width ||
		window.Top >= window.Bottom || window.Left >= window.Right {
		Panicf("crop window %s invalid for image dimensions %s", window, imageDims)
	}
	channels := img.Shape().Dimensions[2]
	return img.Slice([]int{window.Top, window.Left, 0}, []int{window.Bottom, window.Right, channels})
}

// Mirror returns, for each image in order, a copy of the image followed by its horizontal mirror.
// So it returns `2*len(images)` images, with the same shape as the input images.
func Mirror(images []*tensors.Tensor) []*tensors.Tensor {
	checkBatch(images)
	variants := make([]*tensors.Tensor, 0, 2*len(images))
	for _, img := range images {
		variants = append(variants, img.Clone(), FlipHorizontal(img))
	}
	return variants
}

// RandomCrop returns num crops of each image, with crop dimensions and positions drawn uniformly at random:
// the top-left corner is in `[0, height-crop.Height] x [0, width-crop.Width]`, inclusive.
//
// If num <= 0, 1 crop is taken from each image. So it returns `max(num, 1)*len(images)` images, in
// image-major order: crop ix of image i is at position `i*num + ix`.
//
// If rng is nil, the process-wide math/rand source is used.
func RandomCrop(images []*tensors.Tensor, crop Dims, num int, rng RNG) []*tensors.Tensor {
	imageDims := checkBatch(images)
	if len(images) == 0 {
		return nil
	}
	checkCrop(imageDims, crop)
	num = max(num, 1)
	if rng == nil {
		rng = globalRNG{}
	}
	maxTop, maxLeft := imageDims.Height-crop.Height, imageDims.Width-crop.Width
	variants := make([]*tensors.Tensor, len(images)*num)
	for imageIdx, img := range images {
		for ix := range num {
			top, left := rng.Intn(maxTop+1), rng.Intn(maxLeft+1)
			window := Window{Top: top, Left: left, Bottom: top + crop.Height, Right: left + crop.Width}
			klog.V(2).Infof("RandomCrop: image #%d crop #%d window %s", imageIdx, ix, window)
			variants[imageIdx*num+ix] = Crop(img, window)
		}
	}
	return variants
}

// CenterWindow returns the window of dimensions crop centered in an image of dimensions imageDims.
//
// The boundaries are computed as `center ± crop/2` in floating point and truncated to integers.
// Example: image (100, 100) and crop (50, 50) yields rows and columns `[25, 75)`.
func CenterWindow(imageDims, crop Dims) Window {
	checkCrop(imageDims, crop)
	centerY, centerX := float64(imageDims.Height)/2, float64(imageDims.Width)/2
	halfH, halfW := float64(crop.Height)/2, float64(crop.Width)/2
	return Window{
		Top:    int(centerY - halfH),
		Left:   int(centerX - halfW),
		Bottom: int(centerY + halfH),
		Right:  int(centerX + halfW),
	}
}

// CenterCrop returns the centered crop of each image (see CenterWindow). The same window is used
// for all images.
func CenterCrop(images []*tensors.Tensor, crop Dims) []*tensors.Tensor {
	imageDims := checkBatch(images)
	if len(images) == 0 {
		return nil
	}
	window := CenterWindow(imageDims, crop)
	klog.V(2).Infof("CenterCrop: window %s for images of dimensions %s", window, imageDims)
	variants := make([]*tensors.Tensor, 0, len(images))
	for _, img := range images {
		variants = append(variants, Crop(img, window))
	}
	return variants
}

// CornerWindows returns the 5 windows used by CornersAndCenter: top-left, top-right, bottom-left,
// bottom-right and center.
func CornerWindows(imageDims, crop Dims) [5]Window {
	checkCrop(imageDims, crop)
	var windows [5]Window
	idx := 0
	for _, top := range []int{0, imageDims.Height - crop.Height} {
		for _, left := range []int{0, imageDims.Width - crop.Width} {
			windows[idx] = Window{Top: top, Left: left, Bottom: top + crop.Height, Right: left + crop.Width}
			idx++
		}
	}
	windows[4] = CenterWindow(imageDims, crop)
	return windows
}

// CornersAndCenter returns 10 crops per image: the 4 corners and the center crop (see CornerWindows),
// followed by the horizontal mirrors of those 5 crops, in the same order.
func CornersAndCenter(images []*tensors.Tensor, crop Dims) []*tensors.Tensor {
	imageDims := checkBatch(images)
	if len(images) == 0 {
		return nil
	}
	windows := CornerWindows(imageDims, crop)
	variants := make([]*tensors.Tensor, 0, 2*len(windows)*len(images))
	for _, img := range images {
		for _, window := range windows {
			variants = append(variants, Crop(img, window))
		}
		for _, cropped := range variants[len(variants)-len(windows):] {
			variants = append(variants, FlipHorizontal(cropped))
		}
	}
	return variants
}
