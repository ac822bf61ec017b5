package priority

import (
	"context"
	"fmt"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

// geoRule binds a sensitive-location class to its multiplier and the
// keywords that identify it. Ordered; first match wins.
type geoRule struct {
	matchedType string
	multiplier  float64
	keywords    []string
}

var geoRules = []geoRule{
	{matchedType: "school", multiplier: 1.5, keywords: []string{"school"}},
	{matchedType: "hospital", multiplier: 1.4, keywords: []string{"hospital", "clinic", "medical"}},
	{matchedType: "metro", multiplier: 1.2, keywords: []string{"metro", "subway", "station"}},
}

// GeoContext is the resolved multiplier for a complaint's surroundings.
type GeoContext struct {
	Multiplier  float64
	MatchedType string
}

// GeoMultiplier resolves the sensitive-location context of a complaint.
type GeoMultiplier struct {
	locations    domain.SensitiveLocationStore
	radiusMeters float64
}

// NewGeoMultiplier constructs a GeoMultiplier with the given search radius.
func NewGeoMultiplier(locations domain.SensitiveLocationStore, radiusMeters float64) *GeoMultiplier {
	return &GeoMultiplier{locations: locations, radiusMeters: radiusMeters}
}

// Resolve tests the ordered rules within the radius. A complaint without
// coordinates, or with nothing sensitive nearby, resolves to {1.0, "none"}.
func (g *GeoMultiplier) Resolve(ctx context.Context, complaint domain.Complaint) (GeoContext, error) {
	none := GeoContext{Multiplier: 1.0, MatchedType: "none"}
	if complaint.Location == nil {
		return none, nil
	}
	for _, rule := range geoRules {
		near, err := g.locations.NearSensitiveLocation(ctx,
			complaint.Location.Lng, complaint.Location.Lat, g.radiusMeters, rule.keywords)
		if err != nil {
			return none, fmt.Errorf("op=priority.geo_multiplier type=%s: %w", rule.matchedType, err)
		}
		if near {
			return GeoContext{Multiplier: rule.multiplier, MatchedType: rule.matchedType}, nil
		}
	}
	return none, nil
}
