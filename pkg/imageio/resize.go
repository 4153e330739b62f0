package imageio

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Resizer resizes an image tensor shaped `[height, width, channels]` to `[height, width, channels]`
// with the new spatial dimensions.
type Resizer interface {
	Resize(img *tensors.Tensor, height, width int) (*tensors.Tensor, error)
}

// Kernel names accepted by KernelByName.
const (
	KernelBiLinear       = "bilinear"
	KernelNearest        = "nearest"
	KernelApproxBiLinear = "approx_bilinear"
	KernelCatmullRom     = "catmull_rom"
)

var kernels = map[string]draw.Interpolator{
	KernelBiLinear:       draw.BiLinear,
	KernelNearest:        draw.NearestNeighbor,
	KernelApproxBiLinear: draw.ApproxBiLinear,
	KernelCatmullRom:     draw.CatmullRom,
}

// KernelByName returns the interpolation kernel with the given name (case-insensitive).
func KernelByName(name string) (draw.Interpolator, error) {
	kernel, ok := kernels[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown resize kernel %q, valid values are %q, %q, %q and %q",
			name, KernelBiLinear, KernelNearest, KernelApproxBiLinear, KernelCatmullRom)
	}
	return kernel, nil
}

// DrawResizer resizes images with a golang.org/x/image/draw interpolation kernel.
//
// Values are first normalized to [0, 1] using the image's minimum and maximum, each channel is
// interpolated separately as a 16-bit plane, and the result is mapped back to the original range.
// So any number of channels and any value range is supported, and a constant image stays constant.
type DrawResizer struct {
	// Kernel used for interpolation. If nil, draw.BiLinear is used.
	Kernel draw.Interpolator
}

// Assert DrawResizer is a Resizer.
var _ Resizer = DrawResizer{}

// Resize implements Resizer.
func (r DrawResizer) Resize(img *tensors.Tensor, height, width int) (*tensors.Tensor, error) {
	if img.Rank() != 3 {
		return nil, errors.Errorf("Resize requires an image shaped [height, width, channels], got shape %s", img.Shape())
	}
	if height <= 0 || width <= 0 {
		return nil, errors.Errorf("Resize to invalid dimensions (%d, %d)", height, width)
	}
	dims := img.Shape().Dimensions
	srcHeight, srcWidth, channels := dims[0], dims[1], dims[2]
	minV, maxV := img.MinMax()
	if minV == maxV {
		return tensors.FromScalarAndDimensions(minV, height, width, channels), nil
	}
	kernel := r.Kernel
	if kernel == nil {
		kernel = draw.BiLinear
	}

	valueRange := float64(maxV) - float64(minV)
	srcFlat := img.Flat()
	out := tensors.FromScalarAndDimensions(0, height, width, channels)
	outFlat := out.Flat()
	src := image.NewGray16(image.Rect(0, 0, srcWidth, srcHeight))
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	for ch := range channels {
		for y := range srcHeight {
			for x := range srcWidth {
				v := (float64(srcFlat[(y*srcWidth+x)*channels+ch]) - float64(minV)) / valueRange
				src.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 0xFFFF))})
			}
		}
		kernel.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
		for y := range height {
			for x := range width {
				v := float64(dst.Gray16At(x, y).Y) / 0xFFFF
				outFlat[(y*width+x)*channels+ch] = float32(float64(minV) + v*valueRange)
			}
		}
	}
	return out, nil
}
