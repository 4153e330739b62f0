// Package imageio loads, resizes and saves images represented as float32 tensors shaped
// `[height, width, channels]`.
//
// The default Loader decodes files with github.com/disintegration/imaging, and the default
// Resizer interpolates with golang.org/x/image/draw kernels.
package imageio

import (
	"github.com/disintegration/imaging"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/core/tensors/images"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Loader loads an image from a path into a tensor shaped `[height, width, channels]`.
type Loader interface {
	Load(path string) (*tensors.Tensor, error)
}

// FileLoader decodes image files (JPEG, PNG, GIF, TIFF, BMP) from the local filesystem.
//
// Values are in the range [0, 1]. By default, images have 3 channels (RGB) in that order,
// and the alpha channel is dropped.
type FileLoader struct {
	// Gray converts images to a single luminance channel.
	Gray bool
}

// Assert FileLoader is a Loader.
var _ Loader = FileLoader{}

// Load implements Loader. EXIF orientation is applied.
func (l FileLoader) Load(path string) (*tensors.Tensor, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image from %q", path)
	}
	toTensor := images.ToTensor()
	if l.Gray {
		toTensor = toTensor.Gray()
	}
	t := toTensor.Single(img)
	klog.V(2).Infof("loaded %q: shape %s", path, t.Shape())
	return t, nil
}

// Save writes the image tensor shaped `[height, width, channels]` to path, with the format
// given by the file extension. Values are expected in the range [0, maxValue], and are clipped
// otherwise.
func Save(t *tensors.Tensor, maxValue float64, path string) error {
	err := exceptions.TryCatch[error](func() {
		img := images.ToImage().MaxValue(maxValue).Single(t)
		if saveErr := imaging.Save(img, path); saveErr != nil {
			panic(errors.Wrapf(saveErr, "failed to save image to %q", path))
		}
	})
	return err
}
