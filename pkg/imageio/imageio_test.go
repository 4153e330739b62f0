package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, name string) string {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := range 2 {
		for x := range 4 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(60 * x), G: uint8(100 * y), B: 255, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestFileLoader(t *testing.T) {
	path := writeTestImage(t, "img.png")
	img, err := FileLoader{}.Load(path)
	require.NoError(t, err)
	require.NoError(t, img.Shape().Check(2, 4, 3))
	assert.InDelta(t, 180.0/255.0, img.At(1, 3, 0), 1e-4)
	assert.InDelta(t, 100.0/255.0, img.At(1, 3, 1), 1e-4)
	assert.InDelta(t, 1.0, img.At(0, 0, 2), 1e-4)

	gray, err := FileLoader{Gray: true}.Load(path)
	require.NoError(t, err)
	require.NoError(t, gray.Shape().Check(2, 4, 1))

	_, err = FileLoader{}.Load(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestSave(t *testing.T) {
	x := tensors.FromScalarAndDimensions(127.5, 3, 5, 3)
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Save(x, 255, path))
	loaded, err := FileLoader{}.Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Shape().Check(3, 5, 3))
	assert.InDelta(t, 128.0/255.0, loaded.At(2, 4, 1), 1e-4)

	// Unsupported number of channels is reported as an error.
	require.Error(t, Save(tensors.FromScalarAndDimensions(0, 2, 2, 2), 1, path))
	// Unknown file extension.
	require.Error(t, Save(x, 255, filepath.Join(t.TempDir(), "out.unknown")))
}

func TestDrawResizer(t *testing.T) {
	// Values well outside [0, 1], with 2 channels.
	img := tensors.FromFlatDataAndDimensions([]float32{
		-10, 100, 0, 200,
		10, 300, 20, 400,
	}, 2, 2, 2)

	same, err := DrawResizer{}.Resize(img, 2, 2)
	require.NoError(t, err)
	require.True(t, same.InDelta(img, 0.01), "resizing to the same size: got %s", same)

	for _, name := range []string{KernelBiLinear, KernelNearest, KernelApproxBiLinear, KernelCatmullRom} {
		kernel, err := KernelByName(name)
		require.NoError(t, err)
		up, err := DrawResizer{Kernel: kernel}.Resize(img, 5, 7)
		require.NoError(t, err)
		require.NoError(t, up.Shape().Check(5, 7, 2))
		minV, maxV := up.MinMax()
		assert.GreaterOrEqual(t, minV, float32(-10.01), "kernel %s", name)
		assert.LessOrEqual(t, maxV, float32(400.01), "kernel %s", name)
	}

	down, err := DrawResizer{}.Resize(img, 1, 1)
	require.NoError(t, err)
	require.NoError(t, down.Shape().Check(1, 1, 2))

	constant := tensors.FromScalarAndDimensions(104, 3, 3, 3)
	resized, err := DrawResizer{}.Resize(constant, 6, 2)
	require.NoError(t, err)
	require.True(t, resized.Equal(tensors.FromScalarAndDimensions(104, 6, 2, 3)))

	_, err = DrawResizer{}.Resize(img, 0, 3)
	require.Error(t, err)
	_, err = DrawResizer{}.Resize(tensors.FromShape(constant.Shape().Clone()).Reshape(27), 3, 3)
	require.Error(t, err)
	_, err = KernelByName("cubic")
	require.Error(t, err)
	_, err = KernelByName("BiLinear")
	require.NoError(t, err)
}
