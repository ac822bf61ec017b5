package imghash_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/pkg/imghash"
)

// gradientImage darkens left to right so every adjacent-column compare is
// decisive.
func gradientImage(w, h int, shift int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(200 - x*150/w + shift)})
		}
	}
	return img
}

func flatImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 128})
		}
	}
	return img
}

func TestDHash_Deterministic(t *testing.T) {
	t.Parallel()
	img := gradientImage(100, 80, 0)
	assert.Equal(t, imghash.DHash(img), imghash.DHash(img))
}

func TestDHash_BrightnessShiftInvariant(t *testing.T) {
	t.Parallel()
	// dHash compares adjacent pixels, so a uniform brightness shift keeps
	// the hash stable.
	a := imghash.DHash(gradientImage(100, 80, 0))
	b := imghash.DHash(gradientImage(100, 80, 10))
	assert.Greater(t, imghash.Similarity(a, b), 0.9)
}

func TestDHash_DistinguishesContent(t *testing.T) {
	t.Parallel()
	a := imghash.DHash(gradientImage(100, 80, 0))
	b := imghash.DHash(flatImage(100, 80))
	assert.NotEqual(t, a, b)
}

func TestSimilarity_Bounds(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, imghash.Similarity(0xdeadbeef, 0xdeadbeef))
	assert.Equal(t, 0.0, imghash.Similarity(0, ^uint64(0)))
	// Single differing bit.
	assert.InDelta(t, 1.0-1.0/64.0, imghash.Similarity(0, 1), 1e-9)
}

func TestFormatParse_RoundTrip(t *testing.T) {
	t.Parallel()
	h := imghash.DHash(gradientImage(64, 64, 0))
	formatted := imghash.Format(h)
	require.Len(t, formatted, 16)
	parsed, err := imghash.Parse(formatted)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	_, err := imghash.Parse("not-a-hash")
	require.Error(t, err)
}
