package transformer

import (
	"testing"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage returns an image shaped [height=2, width=3, channels=3] with channel c of pixel (y, x)
// set to 100*c + 10*y + x.
func testImage() *tensors.Tensor {
	img := tensors.FromScalarAndDimensions(0, 2, 3, 3)
	for y := range 2 {
		for x := range 3 {
			for c := range 3 {
				img.Set(float32(100*c+10*y+x), y, x, c)
			}
		}
	}
	return img
}

func newTestTransformer(t *testing.T) *Transformer {
	tr := New(map[string][]int{"data": {10, 3, 2, 3}})
	require.NoError(t, tr.SetTranspose("data", []int{2, 0, 1}))
	return tr
}

func TestPreprocessTransposeOnly(t *testing.T) {
	tr := newTestTransformer(t)
	img := testImage()
	out, err := tr.Preprocess("data", img)
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(3, 2, 3))
	assert.Equal(t, float32(212), out.At(2, 1, 2))
	// Input is not modified.
	require.True(t, img.Equal(testImage()))
}

func TestPreprocessFull(t *testing.T) {
	tr := newTestTransformer(t)
	require.NoError(t, tr.SetChannelSwap("data", []int{2, 1, 0}))
	require.NoError(t, tr.SetRawScale("data", 2))
	require.NoError(t, tr.SetMean("data", tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)))
	require.NoError(t, tr.SetInputScale("data", 0.5))

	out, err := tr.Preprocess("data", testImage())
	require.NoError(t, err)
	require.NoError(t, out.Shape().Check(3, 2, 3))
	// Output channel 0 is input channel 2 (value 200+10y+x), mean of channel 0 is 1.
	assert.InDelta(t, (2*float64(211)-1)*0.5, out.At(0, 1, 1), 1e-4)
	// Output channel 2 is input channel 0 (value 10y+x), mean of channel 2 is 3.
	assert.InDelta(t, (2*float64(2)-3)*0.5, out.At(2, 0, 2), 1e-4)

	back, err := tr.Deprocess("data", out)
	require.NoError(t, err)
	require.True(t, back.InDelta(testImage(), 1e-3), "Deprocess(Preprocess(x)) != x: got %s", back)

	// Leading batch axis of 1 is dropped.
	back, err = tr.Deprocess("data", tensors.Stack([]*tensors.Tensor{out}))
	require.NoError(t, err)
	require.True(t, back.InDelta(testImage(), 1e-3))
}

func TestPreprocessFullMean(t *testing.T) {
	tr := newTestTransformer(t)
	mean := tensors.FromScalarAndDimensions(5, 3, 2, 3)
	mean.Set(100, 1, 0, 0)
	require.NoError(t, tr.SetMean("data", mean))
	out, err := tr.Preprocess("data", testImage())
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.At(1, 0, 0))
	assert.Equal(t, float32(207), out.At(2, 1, 2))

	back, err := tr.Deprocess("data", out)
	require.NoError(t, err)
	require.True(t, back.Equal(testImage()))
}

func TestPreprocessResizes(t *testing.T) {
	tr := New(map[string][]int{"data": {1, 3, 4, 5}})
	require.NoError(t, tr.SetTranspose("data", []int{2, 0, 1}))
	out, err := tr.Preprocess("data", tensors.FromScalarAndDimensions(0.5, 2, 3, 3))
	require.NoError(t, err)
	require.True(t, out.Equal(tensors.FromScalarAndDimensions(0.5, 3, 4, 5)))
}

func TestSettersValidation(t *testing.T) {
	tr := newTestTransformer(t)
	require.Error(t, tr.SetTranspose("label", []int{2, 0, 1}))
	require.Error(t, tr.SetTranspose("data", []int{1, 0}))
	require.Error(t, tr.SetTranspose("data", []int{0, 0, 1}))
	require.Error(t, tr.SetChannelSwap("data", []int{1, 0}))
	require.Error(t, tr.SetChannelSwap("data", []int{1, 1, 0}))
	require.Error(t, tr.SetRawScale("data", 0))
	require.Error(t, tr.SetInputScale("data", 0))
	require.Error(t, tr.SetMean("data", tensors.FromScalarAndDimensions(0, 4)))
	require.Error(t, tr.SetMean("data", tensors.FromScalarAndDimensions(0, 3, 3, 3)))
	require.Error(t, tr.SetMean("data", tensors.FromScalarAndDimensions(0, 1, 3, 2, 3)))
	require.Error(t, tr.SetMean("data", tensors.FromScalarAndDimensions(0, 2, 3)), "[H, W] mean requires a single channel input")

	gray := New(map[string][]int{"data": {1, 1, 2, 3}})
	require.NoError(t, gray.SetMean("data", tensors.FromScalarAndDimensions(0, 2, 3)))

	_, err := tr.Preprocess("label", testImage())
	require.Error(t, err)
	_, err = tr.Preprocess("data", tensors.FromScalarAndDimensions(0, 6))
	require.Error(t, err)
	// Wrong number of channels for the configured mean.
	require.NoError(t, tr.SetMean("data", tensors.FromScalarAndDimensions(0, 3)))
	_, err = tr.Preprocess("data", tensors.FromScalarAndDimensions(0, 2, 3, 4))
	require.Error(t, err)
	assert.Equal(t, []string{"data"}, tr.Inputs())
}
