package main

import (
	"math/rand"
	"strings"

	"github.com/gomlx/caffeio/pkg/caffeio"
	"github.com/gomlx/caffeio/pkg/imageio"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/gomlx/caffeio/pkg/support/fsutil"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of environment variables that override the configuration file:
// e.g. CAFFEIO_PIPELINE_RAWSCALE=255 sets pipeline.rawscale.
const EnvPrefix = "CAFFEIO_"

// DimsConfig holds spatial dimensions.
type DimsConfig struct {
	Height int `koanf:"height"`
	Width  int `koanf:"width"`
}

// PrepConfig is the configuration of caffeio_prep.
type PrepConfig struct {
	Pipeline struct {
		InputName    string     `koanf:"inputname"`
		Image        DimsConfig `koanf:"image"`
		Crop         DimsConfig `koanf:"crop"`
		Channels     int        `koanf:"channels"`
		MeanFile     string     `koanf:"meanfile"`
		FullMean     bool       `koanf:"fullmean"`
		InputScale   float32    `koanf:"inputscale"`
		RawScale     float32    `koanf:"rawscale"`
		ChannelSwap  []int      `koanf:"channelswap"`
		ResizeKernel string     `koanf:"resizekernel"`
		Seed         int64      `koanf:"seed"` // 0 uses the process-wide random source.
	} `koanf:"pipeline"`
	Oversample struct {
		Mode string `koanf:"mode"`
		Num  int    `koanf:"num"`
	} `koanf:"oversample"`
	Output struct {
		Path      string `koanf:"path"`
		Float16   bool   `koanf:"float16"`
		DumpDir   string `koanf:"dumpdir"`
		BatchSize int    `koanf:"batchsize"`
	} `koanf:"output"`
}

var defaultConfig = map[string]any{
	"pipeline.inputname":    caffeio.DefaultInputName,
	"pipeline.image.height": 256,
	"pipeline.image.width":  256,
	"pipeline.crop.height":  227,
	"pipeline.crop.width":   227,
	"pipeline.channels":     caffeio.DefaultChannels,
	"pipeline.resizekernel": imageio.KernelBiLinear,
	"oversample.mode":       oversample.ModeLibrary.String(),
	"oversample.num":        caffeio.DefaultOversampleNum,
	"output.path":           "caffeio.npy",
	"output.batchsize":      8,
}

// LoadConfig loads the defaults, then the YAML file in filePath (if not empty) and finally the
// environment variables prefixed with EnvPrefix.
func LoadConfig(filePath string) (*PrepConfig, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultConfig, "."), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load default configuration")
	}
	if filePath != "" {
		filePath, err := fsutil.ReplaceTildeInDir(filePath)
		if err != nil {
			return nil, err
		}
		if err = k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration from %q", filePath)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration from environment")
	}
	config := &PrepConfig{}
	if err := k.Unmarshal("", config); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	return config, nil
}

// PipelineConfig converts the configuration to a caffeio.Config and the oversample mode to use.
func (c *PrepConfig) PipelineConfig() (caffeio.Config, oversample.Mode, error) {
	p := c.Pipeline
	mode, err := oversample.ModeString(c.Oversample.Mode)
	if err != nil {
		return caffeio.Config{}, 0, errors.Wrapf(err, "invalid oversample.mode, valid values are %q",
			oversample.ModeStrings())
	}
	kernel, err := imageio.KernelByName(p.ResizeKernel)
	if err != nil {
		return caffeio.Config{}, 0, err
	}
	meanFile, err := fsutil.ReplaceTildeInDir(p.MeanFile)
	if err != nil {
		return caffeio.Config{}, 0, err
	}
	config := caffeio.Config{
		InputName:     p.InputName,
		ImageDims:     oversample.Dims{Height: p.Image.Height, Width: p.Image.Width},
		CropDims:      oversample.Dims{Height: p.Crop.Height, Width: p.Crop.Width},
		Channels:      p.Channels,
		MeanFile:      meanFile,
		FullMean:      p.FullMean,
		InputScale:    p.InputScale,
		RawScale:      p.RawScale,
		ChannelSwap:   p.ChannelSwap,
		OversampleNum: c.Oversample.Num,
		Resizer:       imageio.DrawResizer{Kernel: kernel},
	}
	if p.Seed != 0 {
		config.RNG = rand.New(rand.NewSource(p.Seed))
	}
	return config, mode, nil
}
