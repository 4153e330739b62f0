package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/caffeio/pkg/caffeio"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "data", config.Pipeline.InputName)
	assert.Equal(t, DimsConfig{Height: 256, Width: 256}, config.Pipeline.Image)
	assert.Equal(t, DimsConfig{Height: 227, Width: 227}, config.Pipeline.Crop)
	assert.Equal(t, 8, config.Output.BatchSize)

	pipelineConfig, mode, err := config.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, oversample.ModeLibrary, mode)
	assert.Equal(t, oversample.Dims{Height: 227, Width: 227}, pipelineConfig.CropDims)
	assert.Nil(t, pipelineConfig.RNG)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "prep.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
pipeline:
  image:
    height: 32
    width: 40
  crop:
    height: 28
    width: 28
  rawscale: 255
  channelswap: [2, 1, 0]
  resizekernel: catmull_rom
  seed: 7
oversample:
  mode: mirror
`), 0o644))
	t.Setenv("CAFFEIO_OVERSAMPLE_MODE", "random_crop")
	t.Setenv("CAFFEIO_OVERSAMPLE_NUM", "4")
	t.Setenv("CAFFEIO_PIPELINE_INPUTSCALE", "0.5")

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, DimsConfig{Height: 32, Width: 40}, config.Pipeline.Image)
	assert.Equal(t, []int{2, 1, 0}, config.Pipeline.ChannelSwap)
	assert.Equal(t, float32(255), config.Pipeline.RawScale)
	assert.Equal(t, float32(0.5), config.Pipeline.InputScale)

	pipelineConfig, mode, err := config.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, oversample.ModeRandomCrop, mode)
	assert.Equal(t, 4, pipelineConfig.OversampleNum)
	assert.NotNil(t, pipelineConfig.RNG)

	config.Oversample.Mode = "sideways"
	_, _, err = config.PipelineConfig()
	require.Error(t, err)
	config.Oversample.Mode = "mirror"
	config.Pipeline.ResizeKernel = "cubic"
	_, _, err = config.PipelineConfig()
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfigExampleFile(t *testing.T) {
	config, err := LoadConfig("prep.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, config.Pipeline.ChannelSwap)
	assert.Equal(t, float32(255), config.Pipeline.RawScale)

	pipelineConfig, mode, err := config.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, oversample.ModeLibrary, mode)
	assert.Equal(t, 10, pipelineConfig.OversampleNum)
	assert.NotContains(t, pipelineConfig.MeanFile, "~")
	assert.Nil(t, pipelineConfig.RNG)
}

func TestSummary(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	config.Output.Float16 = true
	text := summary(&summaryInfo{
		config:        config,
		mode:          oversample.ModeLibrary,
		oversampleNum: 10,
		numImages:     2,
		output:        tensors.FromScalarAndDimensions(0, 20, 4, 4, 3),
		outputPath:    "out.npy",
		elapsed:       time.Second,
	})
	assert.Contains(t, text, "library")
	assert.Contains(t, text, "[20 4 4 3]")
	assert.Contains(t, text, "float16")
}

func TestSummaryUsesPipelineOversampleNum(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	config.Oversample.Mode = oversample.ModeRandomCrop.String()
	config.Oversample.Num = 0
	pipelineConfig, mode, err := config.PipelineConfig()
	require.NoError(t, err)
	pipeline, err := caffeio.New(pipelineConfig)
	require.NoError(t, err)
	require.Equal(t, caffeio.DefaultOversampleNum, pipeline.Config().OversampleNum)

	text := summary(&summaryInfo{
		config:        config,
		mode:          mode,
		oversampleNum: pipeline.Config().OversampleNum,
		numImages:     1,
		output:        tensors.FromScalarAndDimensions(0, 10, 4, 4, 3),
		outputPath:    "out.npy",
	})
	assert.Regexp(t, `variants per image\s*│\s*10\s`, text)
}
