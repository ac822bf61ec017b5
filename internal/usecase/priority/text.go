// Package priority computes the priority score and level for a complaint
// from its text, its surroundings, and its age.
package priority

import (
	"regexp"
	"strings"
)

// Keyword groups. Matching happens with word-boundary semantics after
// normalization, so multi-word entries survive stop-word removal of the
// input the same way the entries themselves are normalized.
var (
	highRiskKeywords = []string{
		"accident", "injury", "emergency", "collapsed", "fire",
		"exposed wire", "flooding main road",
	}
	mediumRiskKeywords = []string{
		"dangerous", "deep", "overflow", "blocking traffic", "severe",
		"heavy leakage",
	}
	normalRiskKeywords = []string{
		"pothole", "garbage", "drainage", "leak", "broken", "damaged",
		"streetlight",
	}
)

var defaultStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"she": {}, "that": {}, "the": {}, "their": {}, "them": {}, "there": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"with": {}, "you": {}, "your": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

const baseScoreCap = 6

// TextScore is the keyword-group scoring result.
type TextScore struct {
	FilteredText  string
	HighCount     int
	MediumCount   int
	NormalCount   int
	BaseScore     float64
	MatchedHigh   []string
	MatchedMedium []string
	MatchedNormal []string
}

// Matched returns all matched keywords across groups, high risk first.
func (t TextScore) Matched() []string {
	out := make([]string, 0, len(t.MatchedHigh)+len(t.MatchedMedium)+len(t.MatchedNormal))
	out = append(out, t.MatchedHigh...)
	out = append(out, t.MatchedMedium...)
	out = append(out, t.MatchedNormal...)
	return out
}

type keywordPattern struct {
	keyword string
	pattern *regexp.Regexp
}

// TextScorer scores complaint text against the risk keyword groups.
type TextScorer struct {
	stopWords map[string]struct{}
	high      []keywordPattern
	medium    []keywordPattern
	normal    []keywordPattern
}

// NewTextScorer compiles the keyword patterns once.
func NewTextScorer() *TextScorer {
	s := &TextScorer{stopWords: defaultStopWords}
	s.high = s.compile(highRiskKeywords)
	s.medium = s.compile(mediumRiskKeywords)
	s.normal = s.compile(normalRiskKeywords)
	return s
}

// Score normalizes title + description and counts weighted keyword matches.
// base_score = min(6, 3H + 2M + N).
func (s *TextScorer) Score(title, description string) TextScore {
	combined := strings.ToLower(strings.TrimSpace(title + " " + description))
	filtered := s.normalize(combined, true)

	highCount, matchedHigh := countMatches(filtered, s.high)
	mediumCount, matchedMedium := countMatches(filtered, s.medium)
	normalCount, matchedNormal := countMatches(filtered, s.normal)

	base := float64(3*highCount + 2*mediumCount + normalCount)
	if base > baseScoreCap {
		base = baseScoreCap
	}
	return TextScore{
		FilteredText:  filtered,
		HighCount:     highCount,
		MediumCount:   mediumCount,
		NormalCount:   normalCount,
		BaseScore:     base,
		MatchedHigh:   matchedHigh,
		MatchedMedium: matchedMedium,
		MatchedNormal: matchedNormal,
	}
}

func (s *TextScorer) compile(keywords []string) []keywordPattern {
	out := make([]keywordPattern, 0, len(keywords))
	for _, keyword := range keywords {
		normalized := s.normalize(keyword, true)
		if normalized == "" {
			continue
		}
		out = append(out, keywordPattern{
			keyword: keyword,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(normalized) + `\b`),
		})
	}
	return out
}

func (s *TextScorer) normalize(text string, removeStopWords bool) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if removeStopWords {
		kept := tokens[:0]
		for _, token := range tokens {
			if _, stop := s.stopWords[token]; !stop {
				kept = append(kept, token)
			}
		}
		tokens = kept
	}
	return strings.Join(tokens, " ")
}

// countMatches counts distinct matched keywords; repeats of the same keyword
// do not inflate the score.
func countMatches(text string, patterns []keywordPattern) (int, []string) {
	var matched []string
	for _, kp := range patterns {
		if kp.pattern.MatchString(text) {
			matched = append(matched, kp.keyword)
		}
	}
	return len(matched), matched
}
