package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

func classification(label string, alternates ...string) *domain.Classification {
	return &domain.Classification{
		Label:      label,
		Confidence: 0.8,
		TopLabels:  append([]string{label}, alternates...),
	}
}

func TestCheckSemantic_PositiveMatch(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("pothole",
		[]domain.Detection{{Label: "asphalt road", Confidence: 0.7}},
		classification("street"))

	require.NotNil(t, res.Match)
	assert.True(t, *res.Match)
	assert.Contains(t, res.Note, "positive:")
	assert.Contains(t, res.Note, "road")
}

func TestCheckSemantic_NegativeMismatch(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	// Two phrases considered, none positive, one negative.
	res := v.CheckSemantic("pothole", nil, classification("bedroom", "sofa"))

	require.NotNil(t, res.Match)
	assert.False(t, *res.Match)
	assert.Contains(t, res.Note, "negative:")
	assert.Contains(t, res.Note, "bedroom")
}

func TestCheckSemantic_SinglePhraseNeverNegative(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("pothole", nil, &domain.Classification{Label: "bedroom"})
	assert.Nil(t, res.Match)
	assert.Equal(t, "inconclusive", res.Note)
}

func TestCheckSemantic_GenericOnlyInconclusive(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("pothole",
		[]domain.Detection{
			{Label: "car", Confidence: 0.9},
			{Label: "person", Confidence: 0.8},
		},
		nil)
	assert.Nil(t, res.Match)
	assert.Contains(t, res.Note, "generic_only:")
	assert.Contains(t, res.Note, "car")
	assert.Contains(t, res.Note, "person")
}

func TestCheckSemantic_NoLabels(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("pothole", nil, nil)
	assert.Nil(t, res.Match)
	assert.Equal(t, "no_labels", res.Note)
}

func TestCheckSemantic_UnknownCategory(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("graffiti", nil, classification("street"))
	assert.Nil(t, res.Match)
	assert.Equal(t, "unknown_category:graffiti", res.Note)
}

func TestCheckSemantic_ConfidenceFloorFiltersDetections(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	// Below the 0.4 floor the detection contributes no phrase.
	res := v.CheckSemantic("pothole",
		[]domain.Detection{{Label: "asphalt", Confidence: 0.2}},
		nil)
	assert.Nil(t, res.Match)
	assert.Equal(t, "no_labels", res.Note)
}

func TestCheckSemantic_UnderscoreLabelsNormalized(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("streetlight", nil, classification("street_light"))
	require.NotNil(t, res.Match)
	assert.True(t, *res.Match)
}

func TestCheckSemantic_PositiveWinsOverNegative(t *testing.T) {
	t.Parallel()
	v := newValidator(&stubCandidates{})
	res := v.CheckSemantic("garbage", nil, classification("garbage truck", "bedroom"))
	require.NotNil(t, res.Match)
	assert.True(t, *res.Match)
}
