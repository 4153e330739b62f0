// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[string](10)
	assert.Len(t, s, 0)

	s.Insert(".png", ".jpg")
	assert.Len(t, s, 2)
	assert.True(t, s.Has(".png"))
	assert.False(t, s.Has(".gif"))

	s2 := MakeWith(".tif", ".bmp", ".tif")
	assert.Len(t, s2, 2)
	assert.Equal(t, []string{".bmp", ".tif"}, Sorted(s2))
	assert.Empty(t, Sorted(Make[int]()))
}
