package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecordMismatch upserts the per-user mismatch counter. Historical feature:
// the blacklisted flag is always written false and nothing in the pipeline
// reads it back.
func (s *Store) RecordMismatch(ctx context.Context, userID string, mismatch bool) error {
	if userID == "" {
		return nil
	}
	var id interface{} = userID
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		id = oid
	}

	update := bson.M{
		"$set": bson.M{
			"blacklisted": false,
			"updatedAt":   utcNow(),
		},
		"$setOnInsert": bson.M{"userId": id},
	}
	if mismatch {
		update["$inc"] = bson.M{"mismatchCount": 1}
	} else {
		update["$setOnInsert"] = bson.M{"userId": id, "mismatchCount": 0}
	}

	_, err := s.blacklist.UpdateOne(ctx,
		bson.M{"userId": id},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("op=blacklist.record_mismatch: %w", err)
	}
	return nil
}
