// Package geomath provides small numeric helpers shared by the priority and
// duplicate-detection pipelines: cosine similarity over embedding vectors and
// great-circle distance between coordinates.
package geomath

import "math"

const earthRadiusMeters = 6371000.0

// Cosine returns the cosine similarity of two vectors, clamped to [-1, 1].
// Mismatched lengths, empty vectors, or a zero-norm side all yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}

// HaversineMeters returns the great-circle distance in meters between two
// (lng, lat) coordinate pairs expressed in degrees.
func HaversineMeters(lng1, lat1, lng2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	v := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	v = math.Max(0, math.Min(1, v))
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(v), math.Sqrt(1-v))
}
