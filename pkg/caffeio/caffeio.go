// Package caffeio prepares images for inference by networks converted from Caffe.
//
// A Pipeline resizes a batch of images to a standard size, generates variants of each image
// (see package oversample), normalizes each variant with a transformer.Transformer configured
// the Caffe way (mean subtraction, scaling and channel swap) and finally lays the batch out
// as `[num_variants, height, width, channels]`, the layout used by TensorFlow-like runtimes.
//
// Example:
//
//	pipeline, err := caffeio.New(caffeio.Config{
//		ImageDims:   oversample.Dims{Height: 256, Width: 256},
//		CropDims:    oversample.Dims{Height: 227, Width: 227},
//		MeanFile:    "imagenet_mean.binaryproto",
//		RawScale:    255,
//		ChannelSwap: []int{2, 1, 0},
//	})
//	if err != nil { ... }
//	batch, err := pipeline.GetImagePath([]string{"cat.jpg", "dog.jpg"}, oversample.ModeLibrary)
package caffeio

import (
	"github.com/gomlx/caffeio/pkg/core/shapes"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/meanfile"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/gomlx/caffeio/pkg/transformer"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrEmptyPaths is returned by GetImagePath when no paths are given.
	ErrEmptyPaths = errors.New("image paths should be a list of image paths with at least one element")

	// ErrEmptyBatch is returned by GetImage when no images are given.
	ErrEmptyBatch = errors.New("batch of images is empty")
)

// Pipeline prepares batches of images for a network input.
//
// It is immutable after New, and can be used concurrently if its RNG is safe for concurrent use
// (the default one is).
type Pipeline struct {
	config      Config
	transformer *transformer.Transformer
}

// New creates a Pipeline from the configuration. Unset fields take the defaults described in Config.
//
// If a mean file is configured, it is loaded here.
func New(config Config) (*Pipeline, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	name := config.InputName
	inputDims := []int{10, config.Channels, config.CropDims.Height, config.CropDims.Width}
	tr := transformer.New(map[string][]int{name: inputDims}, transformer.WithResizer(config.Resizer))
	if err := tr.SetTranspose(name, []int{2, 0, 1}); err != nil {
		return nil, err
	}
	if config.MeanFile != "" {
		mean, err := meanfile.Load(config.MeanFile)
		if err != nil {
			return nil, err
		}
		if !config.FullMean {
			mean, err = meanfile.PerChannel(mean)
			if err != nil {
				return nil, errors.WithMessagef(err, "mean file %q", config.MeanFile)
			}
		}
		if err = tr.SetMean(name, mean); err != nil {
			return nil, errors.WithMessagef(err, "mean file %q", config.MeanFile)
		}
	}
	if config.InputScale != 0 {
		if err := tr.SetInputScale(name, config.InputScale); err != nil {
			return nil, err
		}
	}
	if config.RawScale != 0 {
		if err := tr.SetRawScale(name, config.RawScale); err != nil {
			return nil, err
		}
	}
	if config.ChannelSwap != nil {
		if err := tr.SetChannelSwap(name, config.ChannelSwap); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("caffeio.New: input %q shaped %v, image dims %s", name, inputDims, config.ImageDims)
	return &Pipeline{config: config, transformer: tr}, nil
}

// Config returns the configuration of the pipeline, with the defaults filled in.
func (p *Pipeline) Config() Config { return p.config }

// Transformer returns the transformer used to normalize the images. It can be used to Deprocess the
// output of the pipeline, after transposing each variant back to `[channels, height, width]`.
func (p *Pipeline) Transformer() *transformer.Transformer { return p.transformer }

// GetImage prepares the batch of images, each shaped `[height, width, channels]`, returning a tensor shaped
// `[num_variants, crop_height, crop_width, channels]`.
//
// A single image is used at its native size, while batches of more than one image are first resized
// to Config.ImageDims. The number of variants is `mode.VariantsPerImage(num) * len(images)`, and num is only
// used by oversample.ModeRandomCrop.
func (p *Pipeline) GetImage(images []*tensors.Tensor, mode oversample.Mode, num int) (*tensors.Tensor, error) {
	if len(images) == 0 {
		return nil, ErrEmptyBatch
	}
	var output *tensors.Tensor
	var err error
	panicErr := exceptions.TryCatch[error](func() {
		output, err = p.getImage(images, mode, num)
	})
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "caffeio.GetImage(%d images, mode=%s)", len(images), mode)
	}
	return output, nil
}

func (p *Pipeline) getImage(images []*tensors.Tensor, mode oversample.Mode, num int) (*tensors.Tensor, error) {
	// A single image keeps its native size, and center/corner crops are taken relative to it.
	// The legacy Python loader placed them relative to ImageDims instead.
	batch, err := p.resize(images)
	if err != nil {
		return nil, err
	}

	variants, err := mode.Apply(batch, p.config.CropDims, num, p.config.RNG)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("caffeio: %d images -> %d variants (mode=%s)", len(images), len(variants), mode)

	normalized := make([]*tensors.Tensor, len(variants))
	for ii, variant := range variants {
		normalized[ii], err = p.transformer.Preprocess(p.config.InputName, variant)
		if err != nil {
			return nil, errors.WithMessagef(err, "variant #%d", ii)
		}
		shapes.AssertDims(normalized[ii], p.config.Channels, p.config.CropDims.Height, p.config.CropDims.Width)
	}

	// [N, C, H, W] -> [N, H, W, C]
	return tensors.Stack(normalized).Transpose(0, 2, 3, 1), nil
}

// resize checks the images and resizes them to Config.ImageDims, except if there is only one image.
func (p *Pipeline) resize(images []*tensors.Tensor) ([]*tensors.Tensor, error) {
	for ii, img := range images {
		if img.Rank() != 3 {
			return nil, errors.Errorf("image #%d shaped %s, images must be shaped [height, width, channels]",
				ii, img.Shape())
		}
		if channels := img.Shape().Dimensions[2]; channels != p.config.Channels {
			return nil, errors.Errorf("image #%d has %d channels, but %d channels are configured",
				ii, channels, p.config.Channels)
		}
	}
	if len(images) == 1 {
		return images, nil
	}
	dims := p.config.ImageDims
	batch := make([]*tensors.Tensor, len(images))
	for ii, img := range images {
		if oversample.SpatialDims(img) == dims {
			batch[ii] = img
			continue
		}
		resized, err := p.config.Resizer.Resize(img, dims.Height, dims.Width)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to resize image #%d", ii)
		}
		klog.V(2).Infof("caffeio: resized image #%d from %s to %s", ii, img.Shape(), resized.Shape())
		batch[ii] = resized
	}
	return batch, nil
}

// GetImagePath loads the images from the given paths with Config.Loader and prepares them with GetImage,
// using Config.OversampleNum crops for oversample.ModeRandomCrop.
//
// It returns ErrEmptyPaths if paths is empty, without any side effects.
func (p *Pipeline) GetImagePath(paths []string, mode oversample.Mode) (*tensors.Tensor, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyPaths
	}
	images := make([]*tensors.Tensor, len(paths))
	for ii, path := range paths {
		img, err := p.config.Loader.Load(path)
		if err != nil {
			return nil, err
		}
		images[ii] = img
	}
	return p.GetImage(images, mode, p.config.OversampleNum)
}
