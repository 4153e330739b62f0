package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIotaProduct(t *testing.T) {
	assert.Equal(t, []int{2, 3, 4}, Iota(2, 3))
	assert.Equal(t, []float64{3.0, 4.0}, Iota(3.0, 2))
	assert.Equal(t, 24, Product([]int{2, 3, 4}))
	assert.Equal(t, 1, Product([]int{}))
	assert.Equal(t, 5, Max([]int{1, 5, 3}))
	assert.Equal(t, float32(-1), Min([]float32{1, -1, 3}))
}

func TestArgSort(t *testing.T) {
	perm := []int{2, 0, 1}
	inv := ArgSort(perm)
	require.Equal(t, []int{1, 2, 0}, inv)
	for ii, p := range perm {
		require.Equal(t, ii, inv[p])
	}
	assert.True(t, IsPermutation(perm))
	assert.False(t, IsPermutation([]int{0, 0, 1}))
	assert.False(t, IsPermutation([]int{0, 3, 1}))
}

func TestFlagSet(t *testing.T) {
	f := &genericSliceFlagImpl[int]{parserFn: strconv.Atoi}
	require.NoError(t, f.Set("2, 1,0"))
	assert.Equal(t, []int{2, 1, 0}, f.parsedSlice)
	assert.Equal(t, "2,1,0", f.String())
	require.Error(t, f.Set("a,b"))
	require.NoError(t, f.Set(""))
	assert.Empty(t, f.parsedSlice)
}
