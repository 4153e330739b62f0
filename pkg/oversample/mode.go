package oversample

import (
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Mode selects how the variants of each image are generated.
//
// The numeric values match the integer flags used by older configurations, see ModeFromFlag.
//
//go:generate go tool enumer -type=Mode -trimprefix=Mode -transform=snake -values -json -yaml -text -output=gen_mode_enumer.go mode.go
type Mode int

const (
	// ModeCenterCrop takes one centered crop per image. See CenterCrop.
	ModeCenterCrop Mode = iota

	// ModeLibrary takes 10 crops per image: 4 corners, center and their mirrors. See CornersAndCenter.
	ModeLibrary

	// ModeMirror yields each image and its horizontal mirror, without cropping. See Mirror.
	ModeMirror

	// ModeRandomCrop takes a number of random crops per image. See RandomCrop.
	ModeRandomCrop
)

// ModeFromFlag converts an integer oversample flag of older configurations to a Mode:
// 1 for the 10-crop, 2 for mirror, 3 for random crop, and center crop for any other value.
func ModeFromFlag(flag int) Mode {
	mode := Mode(flag)
	if !mode.IsAMode() {
		return ModeCenterCrop
	}
	return mode
}

// VariantsPerImage returns the number of variants generated for each image, given the num
// argument used by ModeRandomCrop.
func (m Mode) VariantsPerImage(num int) int {
	switch m {
	case ModeLibrary:
		return 10
	case ModeMirror:
		return 2
	case ModeRandomCrop:
		return max(num, 1)
	default:
		return 1
	}
}

// Apply generates the variants of the batch of images according to the mode.
//
// crop is ignored by ModeMirror, num and rng are only used by ModeRandomCrop.
// It returns an error for an unknown mode, and panics on shape precondition violations.
func (m Mode) Apply(images []*tensors.Tensor, crop Dims, num int, rng RNG) ([]*tensors.Tensor, error) {
	switch m {
	case ModeCenterCrop:
		return CenterCrop(images, crop), nil
	case ModeLibrary:
		return CornersAndCenter(images, crop), nil
	case ModeMirror:
		return Mirror(images), nil
	case ModeRandomCrop:
		return RandomCrop(images, crop, num, rng), nil
	default:
		return nil, errors.Errorf("unknown oversample mode %s, valid values are %q", m, ModeStrings())
	}
}
