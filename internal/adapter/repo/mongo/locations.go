package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civisense/ai-decision-engine/pkg/geomath"
)

type sensitiveLocationDoc struct {
	Name     string       `bson:"name"`
	Type     string       `bson:"type"`
	Category string       `bson:"category"`
	Location *geoPointDoc `bson:"location"`
}

// NearSensitiveLocation reports whether a sensitive location matching any of
// the keywords lies within radiusMeters of (lng, lat). With a geo index the
// check is a single nearSphere query combined with case-insensitive
// predicates over type/name/category; without one it degrades to a full scan
// filtered in memory.
func (s *Store) NearSensitiveLocation(ctx context.Context, lng, lat, radiusMeters float64, keywords []string) (bool, error) {
	if s.geoQueriesUsable(ctx, s.sensitiveLocations) {
		conditions := bson.A{}
		for _, keyword := range keywords {
			for _, field := range []string{"type", "name", "category"} {
				conditions = append(conditions, bson.M{
					field: bson.M{"$regex": keyword, "$options": "i"},
				})
			}
		}
		filter := bson.M{
			"location": bson.M{
				"$nearSphere": bson.M{
					"$geometry":    bson.M{"type": "Point", "coordinates": bson.A{lng, lat}},
					"$maxDistance": radiusMeters,
				},
			},
			"$or": conditions,
		}
		res := s.sensitiveLocations.FindOne(ctx, filter,
			options.FindOne().SetProjection(bson.M{"_id": 1}))
		err := res.Err()
		if err == nil {
			return true, nil
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		if isGeoUnsupportedErr(err) {
			s.disableGeoQueries(s.sensitiveLocations, err)
		} else {
			return false, fmt.Errorf("op=locations.near: %w", err)
		}
	}

	cursor, err := s.sensitiveLocations.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{
			"location": 1, "type": 1, "name": 1, "category": 1,
		}))
	if err != nil {
		return false, fmt.Errorf("op=locations.near_scan: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc sensitiveLocationDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		if !matchesKeywords(doc, keywords) {
			continue
		}
		point := toGeoPoint(doc.Location)
		if point == nil {
			continue
		}
		if geomath.HaversineMeters(lng, lat, point.Lng, point.Lat) <= radiusMeters {
			return true, nil
		}
	}
	if err := cursor.Err(); err != nil {
		return false, fmt.Errorf("op=locations.near_scan: %w", err)
	}
	return false, nil
}

func matchesKeywords(doc sensitiveLocationDoc, keywords []string) bool {
	joined := strings.ToLower(doc.Type + " " + doc.Name + " " + doc.Category)
	if strings.TrimSpace(joined) == "" {
		return false
	}
	for _, keyword := range keywords {
		if strings.Contains(joined, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
