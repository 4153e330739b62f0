package caffeio

import (
	"github.com/gomlx/caffeio/pkg/imageio"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/pkg/errors"
)

// Default values used by Config.WithDefaults.
const (
	DefaultInputName     = "data"
	DefaultChannels      = 3
	DefaultOversampleNum = 10
)

// Config of a Pipeline. Only ImageDims is required, see WithDefaults for the other defaults.
type Config struct {
	// InputName is the name of the network input the images are prepared for. Default "data".
	InputName string

	// ImageDims are the dimensions images are resized to, when more than one image is given.
	ImageDims oversample.Dims

	// CropDims are the dimensions of the network input. Default is ImageDims.
	CropDims oversample.Dims

	// Channels of the images. Default 3.
	Channels int

	// MeanFile is the path to the mean subtracted from the images: a Caffe BlobProto (".binaryproto")
	// or a ".npy" file. Optional.
	MeanFile string

	// FullMean keeps the full `[channels, height, width]` mean, which must match CropDims.
	// By default, the mean is reduced per channel.
	FullMean bool

	// InputScale multiplies the values after mean subtraction. Not applied if 0.
	InputScale float32

	// RawScale multiplies the values before mean subtraction. Not applied if 0.
	// Images loaded from files have values in [0, 1], use 255 for networks trained on [0, 255] values.
	RawScale float32

	// ChannelSwap reorders the channels, e.g. `[2, 1, 0]` for RGB -> BGR. Optional.
	ChannelSwap []int

	// OversampleNum is the number of crops per image used by GetImagePath for oversample.ModeRandomCrop.
	// Default 10.
	OversampleNum int

	// RNG used for random crops. If nil, the process-wide math/rand source is used.
	RNG oversample.RNG

	// Resizer used for the resize stage and when a variant doesn't match CropDims.
	// Default imageio.DrawResizer.
	Resizer imageio.Resizer

	// Loader used by GetImagePath. Default imageio.FileLoader, gray if Channels is 1.
	Loader imageio.Loader
}

// WithDefaults returns a copy of the configuration with the unset fields filled with their defaults.
func (c Config) WithDefaults() Config {
	if c.InputName == "" {
		c.InputName = DefaultInputName
	}
	if c.CropDims == (oversample.Dims{}) {
		c.CropDims = c.ImageDims
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.OversampleNum == 0 {
		c.OversampleNum = DefaultOversampleNum
	}
	if c.Resizer == nil {
		c.Resizer = imageio.DrawResizer{}
	}
	if c.Loader == nil {
		c.Loader = imageio.FileLoader{Gray: c.Channels == 1}
	}
	return c
}

// Validate returns an error if the configuration is invalid.
func (c Config) Validate() error {
	if c.InputName == "" {
		return errors.New("caffeio.Config.InputName must be set")
	}
	if !c.ImageDims.IsValid() {
		return errors.Errorf("caffeio.Config.ImageDims %s must be positive", c.ImageDims)
	}
	if !c.CropDims.IsValid() {
		return errors.Errorf("caffeio.Config.CropDims %s must be positive", c.CropDims)
	}
	if !c.CropDims.Fits(c.ImageDims) {
		return errors.Errorf("caffeio.Config.CropDims %s larger than ImageDims %s", c.CropDims, c.ImageDims)
	}
	if c.Channels <= 0 {
		return errors.Errorf("caffeio.Config.Channels (%d) must be positive", c.Channels)
	}
	if c.ChannelSwap != nil && len(c.ChannelSwap) != c.Channels {
		return errors.Errorf("caffeio.Config.ChannelSwap %v must have one entry per channel (%d)",
			c.ChannelSwap, c.Channels)
	}
	return nil
}
