package caffeio

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/imageio"
	"github.com/gomlx/caffeio/pkg/meanfile"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientImage returns an image with values in [0, 1] that vary along rows, columns and channels.
func gradientImage(height, width, channels int) *tensors.Tensor {
	img := tensors.FromScalarAndDimensions(0, height, width, channels)
	for y := range height {
		for x := range width {
			for c := range channels {
				img.Set(float32(y)/float32(2*height)+float32(x)/float32(4*width)+float32(c)/10, y, x, c)
			}
		}
	}
	return img
}

// countingLoader records the paths it is asked to load.
type countingLoader struct {
	paths []string
	image *tensors.Tensor
}

func (l *countingLoader) Load(path string) (*tensors.Tensor, error) {
	l.paths = append(l.paths, path)
	if l.image == nil {
		return nil, errors.Errorf("no image for %q", path)
	}
	return l.image.Clone(), nil
}

func TestGetImagePathEmpty(t *testing.T) {
	loader := &countingLoader{}
	p, err := New(Config{ImageDims: oversample.Dims{Height: 10, Width: 10}, Loader: loader})
	require.NoError(t, err)
	for _, paths := range [][]string{nil, {}} {
		_, err = p.GetImagePath(paths, oversample.ModeLibrary)
		require.ErrorIs(t, err, ErrEmptyPaths)
	}
	assert.Empty(t, loader.paths)

	_, err = p.GetImagePath([]string{"a.jpg"}, oversample.ModeLibrary)
	require.Error(t, err)
	assert.Equal(t, []string{"a.jpg"}, loader.paths)

	_, err = p.GetImage(nil, oversample.ModeMirror, 1)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestSingleImageMirror(t *testing.T) {
	p, err := New(Config{
		ImageDims: oversample.Dims{Height: 256, Width: 256},
		CropDims:  oversample.Dims{Height: 227, Width: 227},
	})
	require.NoError(t, err)
	img := gradientImage(256, 256, 3)
	out, err := p.GetImage([]*tensors.Tensor{img}, oversample.ModeMirror, 10)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(2, 227, 227, 3))

	// Second variant is the mirror of the first.
	mirrored := oversample.FlipHorizontal(out.Index(1))
	require.True(t, mirrored.InDelta(out.Index(0), 2e-3))
}

func TestCenterCropNoNormalization(t *testing.T) {
	p, err := New(Config{
		ImageDims: oversample.Dims{Height: 100, Width: 100},
		CropDims:  oversample.Dims{Height: 50, Width: 50},
	})
	require.NoError(t, err)
	img := gradientImage(100, 100, 3)
	out, err := p.GetImage([]*tensors.Tensor{img}, oversample.ModeCenterCrop, 0)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(1, 50, 50, 3))
	want := oversample.Crop(img, oversample.Window{Top: 25, Left: 25, Bottom: 75, Right: 75})
	require.True(t, out.Index(0).Equal(want))
}

func TestSingleImageCenterCropNativeSize(t *testing.T) {
	p, err := New(Config{
		ImageDims: oversample.Dims{Height: 10, Width: 10},
		CropDims:  oversample.Dims{Height: 4, Width: 4},
	})
	require.NoError(t, err)
	img := gradientImage(20, 20, 3)
	out, err := p.GetImage([]*tensors.Tensor{img}, oversample.ModeCenterCrop, 0)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(1, 4, 4, 3))

	// Centered on the native 20x20 image, not on ImageDims (which would be rows/columns [3, 7)).
	want := oversample.Crop(img, oversample.Window{Top: 8, Left: 8, Bottom: 12, Right: 12})
	require.True(t, out.Index(0).Equal(want))
	legacy := oversample.Crop(img, oversample.Window{Top: 3, Left: 3, Bottom: 7, Right: 7})
	require.False(t, out.Index(0).Equal(legacy))
}

func TestLibraryWithNormalization(t *testing.T) {
	dir := t.TempDir()
	// Mean file shaped [1, 3, 4, 4], constant per channel.
	mean := tensors.FromScalarAndDimensions(0, 1, 3, 4, 4)
	for c, m := range []float32{10, 20, 30} {
		for y := range 4 {
			for x := range 4 {
				mean.Set(m, 0, c, y, x)
			}
		}
	}
	meanPath := filepath.Join(dir, "mean.binaryproto")
	require.NoError(t, meanfile.WriteBlobProtoFile(mean, true, meanPath))

	p, err := New(Config{
		ImageDims:   oversample.Dims{Height: 32, Width: 32},
		CropDims:    oversample.Dims{Height: 28, Width: 28},
		MeanFile:    meanPath,
		RawScale:    255,
		InputScale:  2,
		ChannelSwap: []int{2, 1, 0},
	})
	require.NoError(t, err)

	// Different sizes: both are resized to ImageDims.
	images := []*tensors.Tensor{
		tensors.FromScalarAndDimensions(0.5, 40, 50, 3),
		tensors.FromScalarAndDimensions(0.5, 30, 30, 3),
	}
	out, err := p.GetImage(images, oversample.ModeLibrary, 0)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(20, 28, 28, 3))
	for c, m := range []float64{10, 20, 30} {
		assert.InDelta(t, (127.5-m)*2, out.At(0, 0, 0, c), 1e-3)
		assert.InDelta(t, (127.5-m)*2, out.At(19, 27, 27, c), 1e-3)
	}
}

func TestFullMean(t *testing.T) {
	dir := t.TempDir()
	meanPath := filepath.Join(dir, "mean.binaryproto")
	require.NoError(t, meanfile.WriteBlobProtoFile(tensors.FromScalarAndDimensions(0.25, 1, 3, 8, 8), false, meanPath))

	config := Config{
		ImageDims: oversample.Dims{Height: 8, Width: 8},
		MeanFile:  meanPath,
		FullMean:  true,
	}
	p, err := New(config)
	require.NoError(t, err)
	out, err := p.GetImage([]*tensors.Tensor{tensors.FromScalarAndDimensions(1, 8, 8, 3)}, oversample.ModeCenterCrop, 0)
	require.NoError(t, err)
	require.True(t, out.InDelta(tensors.FromScalarAndDimensions(0.75, 1, 8, 8, 3), 1e-6))

	// Full mean must match the crop dimensions.
	config.CropDims = oversample.Dims{Height: 6, Width: 6}
	_, err = New(config)
	require.Error(t, err)

	config.MeanFile = filepath.Join(dir, "missing.binaryproto")
	_, err = New(config)
	require.Error(t, err)
}

func TestRandomCropFromFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.jpg")}
	require.NoError(t, imageio.Save(gradientImage(40, 30, 3), 1, paths[0]))
	require.NoError(t, imageio.Save(gradientImage(20, 20, 3), 1, paths[1]))

	p := must.M1(New(Config{
		ImageDims:     oversample.Dims{Height: 24, Width: 24},
		CropDims:      oversample.Dims{Height: 16, Width: 16},
		OversampleNum: 3,
		RNG:           rand.New(rand.NewSource(42)),
	}))
	out, err := p.GetImagePath(paths, oversample.ModeRandomCrop)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(6, 16, 16, 3))
}

func TestGetImageErrors(t *testing.T) {
	p := must.M1(New(Config{
		ImageDims: oversample.Dims{Height: 16, Width: 16},
		CropDims:  oversample.Dims{Height: 12, Width: 12},
	}))

	// Crop larger than a single image at native size.
	_, err := p.GetImage([]*tensors.Tensor{gradientImage(8, 8, 3)}, oversample.ModeCenterCrop, 0)
	require.Error(t, err)

	// Wrong number of channels.
	_, err = p.GetImage([]*tensors.Tensor{gradientImage(16, 16, 1)}, oversample.ModeMirror, 0)
	require.Error(t, err)

	// Not an image.
	_, err = p.GetImage([]*tensors.Tensor{tensors.FromScalarAndDimensions(0, 16, 16)}, oversample.ModeMirror, 0)
	require.Error(t, err)

	// Unknown mode.
	_, err = p.GetImage([]*tensors.Tensor{gradientImage(16, 16, 3)}, oversample.Mode(9), 0)
	require.Error(t, err)
}

func TestConfig(t *testing.T) {
	c := Config{ImageDims: oversample.Dims{Height: 20, Width: 30}}.WithDefaults()
	assert.Equal(t, DefaultInputName, c.InputName)
	assert.Equal(t, c.ImageDims, c.CropDims)
	assert.Equal(t, DefaultChannels, c.Channels)
	assert.Equal(t, DefaultOversampleNum, c.OversampleNum)
	assert.Equal(t, imageio.FileLoader{}, c.Loader)
	require.NoError(t, c.Validate())

	gray := Config{ImageDims: oversample.Dims{Height: 20, Width: 30}, Channels: 1}.WithDefaults()
	assert.Equal(t, imageio.FileLoader{Gray: true}, gray.Loader)

	require.Error(t, Config{}.WithDefaults().Validate())
	bad := c
	bad.CropDims = oversample.Dims{Height: 21, Width: 30}
	require.Error(t, bad.Validate())
	bad = c
	bad.ChannelSwap = []int{1, 0}
	require.Error(t, bad.Validate())
	_, err := New(bad)
	require.Error(t, err)
	bad = c
	bad.InputName = ""
	require.Error(t, bad.Validate())
}
