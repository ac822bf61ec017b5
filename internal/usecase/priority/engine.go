package priority

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

const timeScoreCap = 3.0

// Result carries every component of the computed priority alongside the
// final score and level.
type Result struct {
	Text    TextScore
	Geo     GeoContext
	Cluster ClusterContext

	DaysPending float64
	TimeScore   float64

	Score          float64
	Level          string
	Reason         string
	ReasonSentence string
}

// Engine composes text, geo, cluster, and time decay into the final
// priority:
//
//	time_score  = min(3, 2*ln(days_pending+1))
//	final_score = round(base*geo_multiplier + time_score + cluster_boost, 2)
type Engine struct {
	text    *TextScorer
	geo     *GeoMultiplier
	cluster *ClusterDetector
	now     func() time.Time
}

// NewEngine wires the three component providers.
func NewEngine(text *TextScorer, geo *GeoMultiplier, cluster *ClusterDetector) *Engine {
	return &Engine{text: text, geo: geo, cluster: cluster, now: time.Now}
}

// Compute resolves all components for the complaint and maps the final score
// to a level. A store error from the geo or cluster lookup fails the whole
// computation so the item is recorded as failed and retried later; missing
// coordinates are not errors and resolve to the neutral values.
func (e *Engine) Compute(ctx context.Context, complaint domain.Complaint) (Result, error) {
	text := e.text.Score(complaint.Title, complaint.Description)

	geo, err := e.geo.Resolve(ctx, complaint)
	if err != nil {
		return Result{}, err
	}
	cluster, err := e.cluster.Detect(ctx, complaint)
	if err != nil {
		return Result{}, err
	}

	days := e.daysPending(complaint.CreatedAt)
	timeScore := math.Min(timeScoreCap, 2.0*math.Log(days+1))

	score := round2(text.BaseScore*geo.Multiplier + timeScore + cluster.ClusterBoost)

	res := Result{
		Text:        text,
		Geo:         geo,
		Cluster:     cluster,
		DaysPending: days,
		TimeScore:   round2(timeScore),
		Score:       score,
		Level:       MapLevel(score),
	}
	res.Reason = composeReason(res)
	res.ReasonSentence = composeSentence(res)
	return res, nil
}

// ForceLow returns a copy of res with score zero and level low, keeping the
// component fields intact.
func ForceLow(res Result, reason string) Result {
	res.Score = 0
	res.Level = domain.LevelLow
	res.Reason = reason
	res.ReasonSentence = reason
	return res
}

// MapLevel maps a final score to its level: <3 low, 3..6 medium, >6 high.
func MapLevel(score float64) string {
	switch {
	case score < 3:
		return domain.LevelLow
	case score <= 6:
		return domain.LevelMedium
	default:
		return domain.LevelHigh
	}
}

func (e *Engine) daysPending(createdAt time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	days := e.now().UTC().Sub(createdAt.UTC()).Hours() / 24
	if days < 0 {
		return 0
	}
	return days
}

func composeReason(r Result) string {
	keywords := "none"
	if matched := r.Text.Matched(); len(matched) > 0 {
		keywords = strings.Join(matched, ",")
	}
	return fmt.Sprintf(
		"base=%.1f (keywords: %s); geo=%.1fx (%s); cluster=%.1f (%d nearby); time=%.2f; final=%.2f",
		r.Text.BaseScore, keywords,
		r.Geo.Multiplier, r.Geo.MatchedType,
		r.Cluster.ClusterBoost, r.Cluster.NearbyCount,
		r.TimeScore, r.Score,
	)
}

func composeSentence(r Result) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("text severity %.0f/6", r.Text.BaseScore))
	if r.Geo.MatchedType != "none" {
		parts = append(parts, fmt.Sprintf("near a %s", r.Geo.MatchedType))
	}
	if r.Cluster.ClusterBoost > 0 {
		parts = append(parts, fmt.Sprintf("%d recent complaints nearby", r.Cluster.NearbyCount))
	}
	if r.DaysPending >= 1 {
		parts = append(parts, fmt.Sprintf("pending %.0f days", math.Floor(r.DaysPending)))
	}
	return fmt.Sprintf("Priority %s (score %.2f): %s.", r.Level, r.Score, strings.Join(parts, ", "))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
