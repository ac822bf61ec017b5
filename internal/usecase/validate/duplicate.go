// Package validate checks an enriched complaint against prior complaints
// (duplicate detection) and against its own declared category (semantic
// validation).
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/pkg/geomath"
	"github.com/civisense/ai-decision-engine/pkg/imghash"
)

const duplicateMaxDistanceMeters = 300.0

// Comparison methods recorded in aiMeta.duplicateMethod.
const (
	MethodDHash           = "dhash64"
	MethodMobileNetCosine = "mobilenet_cosine_legacy"
)

// DuplicateResult is the best-match outcome of a duplicate scan. The best
// match is recorded even when the gate does not fire.
type DuplicateResult struct {
	IsDuplicate    bool
	Similarity     float64
	ComplaintID    string
	DistanceMeters float64
	CategoryMatch  bool
	Method         string
}

// CandidateSource is the slice of the complaint store the validator needs.
type CandidateSource interface {
	RecentCandidates(ctx context.Context, excludeCID string, since time.Time, limit int) ([]domain.Candidate, error)
}

// Validator runs duplicate and semantic checks.
type Validator struct {
	complaints          CandidateSource
	similarityThreshold float64
	lookback            time.Duration
	candidateLimit      int
	minDetectConfidence float64
	now                 func() time.Time
}

// NewValidator constructs a Validator with the given thresholds.
func NewValidator(complaints CandidateSource, similarityThreshold float64, lookback time.Duration, candidateLimit int, minDetectConfidence float64) *Validator {
	return &Validator{
		complaints:          complaints,
		similarityThreshold: similarityThreshold,
		lookback:            lookback,
		candidateLimit:      candidateLimit,
		minDetectConfidence: minDetectConfidence,
		now:                 time.Now,
	}
}

// CheckDuplicate scans recent candidates and tracks the single best match.
// Fingerprint pairs are preferred over embedding pairs; candidates offering
// neither are skipped. A match is a duplicate only when similarity exceeds
// the threshold, the complaints lie within 300 m, and categories are equal.
func (v *Validator) CheckDuplicate(ctx context.Context, complaint domain.Complaint, fingerprint string, embedding []float32) (DuplicateResult, error) {
	var res DuplicateResult
	if fingerprint == "" && len(embedding) == 0 {
		return res, nil
	}

	since := v.now().UTC().Add(-v.lookback)
	candidates, err := v.complaints.RecentCandidates(ctx, complaint.CID, since, v.candidateLimit)
	if err != nil {
		return res, fmt.Errorf("op=validate.duplicate: %w", err)
	}

	ownHash, ownHashOK := parseFingerprint(fingerprint)

	for _, cand := range candidates {
		sim, method, ok := v.similarity(ownHash, ownHashOK, embedding, cand)
		if !ok || sim <= res.Similarity {
			continue
		}
		res.Similarity = sim
		res.ComplaintID = cand.CID
		res.Method = method
		res.DistanceMeters = distanceBetween(complaint.Location, cand.Location)
		res.CategoryMatch = categoriesEqual(complaint.Category, cand.Category)
	}

	res.IsDuplicate = res.ComplaintID != "" &&
		res.Similarity > v.similarityThreshold &&
		res.DistanceMeters >= 0 &&
		res.DistanceMeters <= duplicateMaxDistanceMeters &&
		res.CategoryMatch
	return res, nil
}

func (v *Validator) similarity(ownHash uint64, ownHashOK bool, embedding []float32, cand domain.Candidate) (float64, string, bool) {
	if ownHashOK {
		if candHash, ok := parseFingerprint(cand.Fingerprint); ok {
			return imghash.Similarity(ownHash, candHash), MethodDHash, true
		}
	}
	if len(embedding) > 0 && len(cand.Embedding) > 0 {
		cos := geomath.Cosine(embedding, cand.Embedding)
		if cos < 0 {
			cos = 0
		}
		return cos, MethodMobileNetCosine, true
	}
	return 0, "", false
}

func parseFingerprint(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	h, err := imghash.Parse(s)
	if err != nil {
		return 0, false
	}
	return h, true
}

// distanceBetween returns -1 when either side lacks coordinates, which keeps
// the distance gate closed.
func distanceBetween(a, b *domain.GeoPoint) float64 {
	if a == nil || b == nil {
		return -1
	}
	return geomath.HaversineMeters(a.Lng, a.Lat, b.Lng, b.Lat)
}

func categoriesEqual(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return a != "" && a == b
}
