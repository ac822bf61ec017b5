// Package stub provides deterministic inference services derived from image
// content alone. It stands in for the model-serving sidecar in development
// and tests: identical rasters always produce identical detections, labels,
// and embeddings.
package stub

import (
	"context"
	"hash/fnv"
	"image"
	"math"

	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/pkg/imghash"
)

const embeddingDim = 64

var detectorLabels = []string{"car", "truck", "person", "fire hydrant", "traffic light", "bicycle"}

var classifierLabels = []string{"street", "road", "garbage truck", "fountain", "traffic light", "manhole cover"}

// Services implements the three inference ports deterministically.
type Services struct{}

// New constructs the stub services.
func New() *Services { return &Services{} }

func seed(img image.Image) uint64 { return imghash.DHash(img) }

// Detect returns one or two pseudo-detections chosen by the image hash.
func (s *Services) Detect(_ context.Context, img image.Image) ([]domain.Detection, error) {
	h := seed(img)
	first := detectorLabels[h%uint64(len(detectorLabels))]
	out := []domain.Detection{{
		Label:       first,
		Confidence:  0.45 + float64(h%40)/100,
		BBox:        [4]float64{10, 10, 120, 90},
		AreaPercent: 12.5,
	}}
	if h%3 == 0 {
		second := detectorLabels[(h/7)%uint64(len(detectorLabels))]
		out = append(out, domain.Detection{
			Label:       second,
			Confidence:  0.3 + float64(h%25)/100,
			BBox:        [4]float64{40, 30, 200, 160},
			AreaPercent: 22.0,
		})
	}
	return out, nil
}

// Classify returns a label plus two alternates chosen by the image hash.
func (s *Services) Classify(_ context.Context, img image.Image) (domain.Classification, error) {
	h := seed(img)
	n := uint64(len(classifierLabels))
	top := classifierLabels[h%n]
	return domain.Classification{
		Label:      top,
		Confidence: 0.5 + float64(h%45)/100,
		TopLabels:  []string{top, classifierLabels[(h/3)%n], classifierLabels[(h/11)%n]},
	}, nil
}

// Embed returns an L2-normalized vector seeded from the image content.
func (s *Services) Embed(_ context.Context, img image.Image) ([]float32, error) {
	h := fnv.New64a()
	base := seed(img)
	v := make([]float32, embeddingDim)
	var sum float64
	for i := range v {
		h.Reset()
		var b [8]byte
		x := base + uint64(i)*0x9e3779b97f4a7c15
		for j := 0; j < 8; j++ {
			b[j] = byte(x >> (8 * j))
		}
		_, _ = h.Write(b[:])
		v[i] = float32(int64(h.Sum64()%2000)-1000) / 1000
		sum += float64(v[i]) * float64(v[i])
	}
	if sum > 0 {
		norm := math.Sqrt(sum)
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}
