// Package imghash implements the 64-bit difference hash (dHash) used to
// fingerprint complaint images, plus Hamming-based similarity between two
// fingerprints.
package imghash

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"golang.org/x/image/draw"
)

// DHash computes a 64-bit difference hash from a 9x8 grayscale resize of img.
// For each of the 8 rows, adjacent columns are compared left-to-right; a set
// bit means the left pixel is brighter than its right neighbor.
func DHash(img image.Image) uint64 {
	g := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.ApproxBiLinear.Scale(g, g.Bounds(), img, img.Bounds(), draw.Src, nil)

	var h uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if g.GrayAt(x, y).Y > g.GrayAt(x+1, y).Y {
				h |= 1 << uint(y*8+x)
			}
		}
	}
	return h
}

// Similarity returns 1 - hamming(a,b)/64, which is always within [0, 1].
func Similarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// Format renders a fingerprint as a fixed-width 16-digit hex string, the form
// stored in aiMeta.imageFingerprint.
func Format(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Parse reads a fingerprint previously produced by Format.
func Parse(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("op=imghash.parse: empty fingerprint")
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("op=imghash.parse: %w", err)
	}
	return h, nil
}
