// Package meanfile loads the mean image used to normalize network inputs.
//
// Mean files are either Caffe's serialized `BlobProto` (usually with the ".binaryproto" extension),
// holding a blob shaped `[1, channels, height, width]`, or NumPy ".npy" files holding the mean
// shaped `[channels, height, width]` or `[channels]`.
package meanfile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Load the mean from path.
//
// For BlobProto files the first element of the blob is returned, so a blob shaped
// `[1, channels, height, width]` yields a mean shaped `[channels, height, width]`.
// ".npy" files are returned as stored.
func Load(path string) (*tensors.Tensor, error) {
	var mean *tensors.Tensor
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		var err error
		mean, err = numpy.FromNpyFile(path)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load mean file")
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open mean file")
		}
		defer func() { _ = f.Close() }()
		blob, err := ReadBlobProto(f)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse mean file %q", path)
		}
		if blob.Rank() < 2 {
			return nil, errors.Errorf("mean file %q holds a blob shaped %s, it needs at least rank 2",
				path, blob.Shape())
		}
		mean = blob.Index(0)
	}
	klog.V(1).Infof("loaded mean from %q: shape %s", path, mean.Shape())
	return mean, nil
}

// PerChannel reduces a mean shaped `[channels, height, width]` to the per-channel average,
// shaped `[channels]`. Means already shaped `[channels]` are returned as a copy.
func PerChannel(mean *tensors.Tensor) (*tensors.Tensor, error) {
	switch mean.Rank() {
	case 1:
		return mean.Clone(), nil
	case 3:
		dims := mean.Shape().Dimensions
		channels, planeSize := dims[0], dims[1]*dims[2]
		out := tensors.FromScalarAndDimensions(0, channels)
		flat := mean.Flat()
		for ch := range channels {
			var sum float64
			for _, v := range flat[ch*planeSize : (ch+1)*planeSize] {
				sum += float64(v)
			}
			out.Flat()[ch] = float32(sum / float64(planeSize))
		}
		return out, nil
	default:
		return nil, errors.Errorf("mean shaped %s cannot be reduced per channel, it must be shaped [C] or [C, H, W]",
			mean.Shape())
	}
}
