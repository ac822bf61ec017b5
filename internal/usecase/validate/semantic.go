package validate

import (
	"regexp"
	"strings"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

// categoryProfile maps a complaint category to the visual terms that confirm
// it and the terms that contradict it. Positive terms match as substrings of
// a phrase; negative terms likewise.
type categoryProfile struct {
	positive []string
	negative []string
}

var indoorNegatives = []string{
	"bedroom", "bed", "sofa", "couch", "kitchen", "dining table",
	"desk", "laptop", "television", "bookshelf", "cat", "dog", "pizza",
}

var categoryProfiles = map[string]categoryProfile{
	"pothole": {
		positive: []string{"pothole", "road", "asphalt", "pavement", "crack", "hole"},
		negative: indoorNegatives,
	},
	"garbage": {
		positive: []string{"garbage", "trash", "waste", "litter", "dump", "plastic bag", "dustbin", "garbage truck"},
		negative: indoorNegatives,
	},
	"drainage": {
		positive: []string{"drain", "sewer", "gutter", "manhole", "canal", "water"},
		negative: indoorNegatives,
	},
	"streetlight": {
		positive: []string{"streetlight", "street light", "lamp", "pole", "light"},
		negative: indoorNegatives,
	},
	"water_leak": {
		positive: []string{"water", "leak", "pipe", "puddle", "flood", "fountain"},
		negative: indoorNegatives,
	},
	"road_damage": {
		positive: []string{"road", "asphalt", "crack", "damage", "pavement", "pothole", "barrier"},
		negative: indoorNegatives,
	},
}

// genericTrafficTerms are labels too common in street imagery to confirm or
// deny any category on their own.
var genericTrafficTerms = map[string]struct{}{
	"person": {}, "car": {}, "truck": {}, "bus": {}, "motorcycle": {},
	"bicycle": {}, "scooter": {}, "vehicle": {}, "traffic": {},
	"street": {}, "road": {},
}

var phraseTokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// SemanticResult is the ternary outcome of the category check. Match is nil
// when the evidence is inconclusive.
type SemanticResult struct {
	Match *bool
	Note  string
}

// CheckSemantic judges whether the visual labels agree with the declared
// category. Phrases come from detections at or above the confidence floor
// plus the classifier's top labels. The check never errors; weak evidence
// yields a nil match.
func (v *Validator) CheckSemantic(category string, detections []domain.Detection, classification *domain.Classification) SemanticResult {
	profile, known := categoryProfiles[strings.ToLower(strings.TrimSpace(category))]
	if !known {
		return SemanticResult{Note: "unknown_category:" + strings.ToLower(strings.TrimSpace(category))}
	}

	phrases := v.collectPhrases(detections, classification)
	if len(phrases) == 0 {
		return SemanticResult{Note: "no_labels"}
	}

	if tokens, genericOnly := genericOnlyTokens(phrases); genericOnly {
		return SemanticResult{Note: "generic_only:" + strings.Join(tokens, ",")}
	}

	if hits := matchTerms(phrases, profile.positive); len(hits) > 0 {
		match := true
		return SemanticResult{Match: &match, Note: "positive:" + strings.Join(hits, ",")}
	}

	if len(phrases) >= 2 {
		if hits := matchTerms(phrases, profile.negative); len(hits) > 0 {
			match := false
			return SemanticResult{Match: &match, Note: "negative:" + strings.Join(hits, ",")}
		}
	}

	return SemanticResult{Note: "inconclusive"}
}

func (v *Validator) collectPhrases(detections []domain.Detection, classification *domain.Classification) []string {
	seen := make(map[string]struct{})
	var phrases []string
	add := func(raw string) {
		p := normalizePhrase(raw)
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		phrases = append(phrases, p)
	}
	for _, det := range detections {
		if det.Confidence >= v.minDetectConfidence {
			add(det.Label)
		}
	}
	if classification != nil {
		add(classification.Label)
		for _, label := range classification.TopLabels {
			add(label)
		}
	}
	return phrases
}

func normalizePhrase(raw string) string {
	lowered := strings.ToLower(strings.ReplaceAll(raw, "_", " "))
	return strings.Join(phraseTokenPattern.FindAllString(lowered, -1), " ")
}

// genericOnlyTokens reports whether every token across the phrases belongs
// to the generic traffic set, returning the distinct tokens in order.
func genericOnlyTokens(phrases []string) ([]string, bool) {
	seen := make(map[string]struct{})
	var tokens []string
	for _, phrase := range phrases {
		for _, token := range strings.Fields(phrase) {
			if _, generic := genericTrafficTerms[token]; !generic {
				return nil, false
			}
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens, len(tokens) > 0
}

func matchTerms(phrases, terms []string) []string {
	var hits []string
	seen := make(map[string]struct{})
	for _, term := range terms {
		for _, phrase := range phrases {
			if strings.Contains(phrase, term) {
				if _, dup := seen[term]; !dup {
					seen[term] = struct{}{}
					hits = append(hits, term)
				}
				break
			}
		}
	}
	return hits
}
