package validate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/internal/usecase/validate"
)

type stubCandidates struct {
	candidates []domain.Candidate
	err        error
	gotExclude string
	gotLimit   int
}

func (s *stubCandidates) RecentCandidates(_ context.Context, excludeCID string, _ time.Time, limit int) ([]domain.Candidate, error) {
	s.gotExclude = excludeCID
	s.gotLimit = limit
	return s.candidates, s.err
}

func newValidator(src validate.CandidateSource) *validate.Validator {
	return validate.NewValidator(src, 0.92, 7*24*time.Hour, 50, 0.4)
}

const fingerprint = "00ff00ff00ff00ff"

func complaintAt(cid, category string, lng, lat float64) domain.Complaint {
	return domain.Complaint{
		CID:      cid,
		Category: category,
		Location: &domain.GeoPoint{Lng: lng, Lat: lat},
	}
}

func TestCheckDuplicate_ExactFingerprintMatch(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "pothole",
		Location:    &domain.GeoPoint{Lng: 77.5905, Lat: 12.9702},
		Fingerprint: fingerprint,
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "older", res.ComplaintID)
	assert.Equal(t, 1.0, res.Similarity)
	assert.Equal(t, validate.MethodDHash, res.Method)
	assert.True(t, res.CategoryMatch)
	assert.LessOrEqual(t, res.DistanceMeters, 300.0)
	assert.Equal(t, "newer", src.gotExclude)
	assert.Equal(t, 50, src.gotLimit)
}

func TestCheckDuplicate_TooFarApart(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "pothole",
		Location:    &domain.GeoPoint{Lng: 77.60, Lat: 12.99}, // over 2 km away
		Fingerprint: fingerprint,
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)

	assert.False(t, res.IsDuplicate)
	// Best match is still recorded for the write-back.
	assert.Equal(t, "older", res.ComplaintID)
	assert.Equal(t, 1.0, res.Similarity)
}

func TestCheckDuplicate_CategoryMismatch(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "garbage",
		Location:    &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
		Fingerprint: fingerprint,
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.False(t, res.CategoryMatch)
}

func TestCheckDuplicate_CategoryCaseFolded(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "Pothole",
		Location:    &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
		Fingerprint: fingerprint,
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
}

func TestCheckDuplicate_EmbeddingFallback(t *testing.T) {
	t.Parallel()
	emb := []float32{0.6, 0.8}
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:       "older",
		Category:  "pothole",
		Location:  &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
		Embedding: emb,
	}}}
	v := newValidator(src)

	// No fingerprint on either side, so the embedding pair decides.
	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), "", emb)
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, validate.MethodMobileNetCosine, res.Method)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
}

func TestCheckDuplicate_FingerprintPreferredOverEmbedding(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "pothole",
		Location:    &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
		Fingerprint: "ffffffffffffffff",
		Embedding:   []float32{1, 0},
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, validate.MethodDHash, res.Method)
	assert.False(t, res.IsDuplicate) // half the bits differ
}

func TestCheckDuplicate_SkipsCandidatesWithoutSignals(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:      "bare",
		Category: "pothole",
		Location: &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.ComplaintID)
}

func TestCheckDuplicate_NoOwnSignalsSkipsScan(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{err: errors.New("must not be called")}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), "", nil)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Zero(t, src.gotLimit)
}

func TestCheckDuplicate_MissingCoordinatesBlocksGate(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{{
		CID:         "older",
		Category:    "pothole",
		Fingerprint: fingerprint,
	}}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, 1.0, res.Similarity)
}

func TestCheckDuplicate_StoreError(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{err: errors.New("cursor timeout")}
	v := newValidator(src)

	_, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.Error(t, err)
}

func TestCheckDuplicate_TracksBestMatch(t *testing.T) {
	t.Parallel()
	src := &stubCandidates{candidates: []domain.Candidate{
		{
			CID:         "weak",
			Category:    "pothole",
			Location:    &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
			Fingerprint: "00ff00ff00ff00f0", // one nibble off
		},
		{
			CID:         "exact",
			Category:    "pothole",
			Location:    &domain.GeoPoint{Lng: 77.59, Lat: 12.97},
			Fingerprint: fingerprint,
		},
	}}
	v := newValidator(src)

	res, err := v.CheckDuplicate(context.Background(),
		complaintAt("newer", "pothole", 77.59, 12.97), fingerprint, nil)
	require.NoError(t, err)
	assert.Equal(t, "exact", res.ComplaintID)
	assert.True(t, res.IsDuplicate)
}
