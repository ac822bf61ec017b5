package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/pkg/geomath"
)

type geoPointDoc struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type imageDoc struct {
	URL string `bson:"url"`
}

type priorityDoc struct {
	AIProcessed        bool   `bson:"aiProcessed"`
	AIProcessingStatus string `bson:"aiProcessingStatus"`
}

type complaintDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Category    string             `bson:"category"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Location    *geoPointDoc       `bson:"location"`
	CreatedAt   interface{}        `bson:"createdAt"`
	Images      []imageDoc         `bson:"images"`
	ReportedBy  interface{}        `bson:"reportedBy"`
	Priority    priorityDoc        `bson:"priority"`
}

func (d complaintDoc) toDomain() domain.Complaint {
	c := domain.Complaint{
		CID:         d.ID.Hex(),
		Category:    d.Category,
		Title:       d.Title,
		Description: d.Description,
		CreatedAt:   parseCreatedAt(d.CreatedAt),
		ReportedBy:  stringifyID(d.ReportedBy),
		Processed:   d.Priority.AIProcessed,
		Status:      domain.ProcessingStatus(d.Priority.AIProcessingStatus),
	}
	c.Location = toGeoPoint(d.Location)
	for _, img := range d.Images {
		c.Images = append(c.Images, domain.ComplaintImage{URL: img.URL})
	}
	return c
}

func toGeoPoint(loc *geoPointDoc) *domain.GeoPoint {
	if loc == nil || len(loc.Coordinates) != 2 {
		return nil
	}
	return &domain.GeoPoint{Lng: loc.Coordinates[0], Lat: loc.Coordinates[1]}
}

// parseCreatedAt accepts native BSON dates plus ISO strings; naive values are
// treated as UTC. Unparseable values yield the zero time.
func parseCreatedAt(v interface{}) time.Time {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
		if parsed, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func stringifyID(v interface{}) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	}
	return ""
}

func claimableFilter(oid primitive.ObjectID) bson.M {
	return bson.M{
		"_id":                         oid,
		"priority.aiProcessed":        false,
		"priority.aiProcessingStatus": string(domain.StatusPending),
	}
}

// Claim performs the atomic pending -> processing compare-and-set.
func (s *Store) Claim(ctx context.Context, cid string) (domain.Complaint, error) {
	tracer := otel.Tracer("repo.complaints")
	ctx, span := tracer.Start(ctx, "complaints.Claim")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(cid)
	if err != nil {
		return domain.Complaint{}, fmt.Errorf("op=complaint.claim: %w: %q", domain.ErrInvalidArgument, cid)
	}

	res := s.complaints.FindOneAndUpdate(ctx,
		claimableFilter(oid),
		bson.M{"$set": bson.M{"priority.aiProcessingStatus": string(domain.StatusProcessing)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var doc complaintDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Complaint{}, fmt.Errorf("op=complaint.claim: %w", domain.ErrNotClaimed)
		}
		return domain.Complaint{}, fmt.Errorf("op=complaint.claim: %w", err)
	}
	return doc.toDomain(), nil
}

// MarkSucceeded writes the priority block and aiMeta in a single update.
func (s *Store) MarkSucceeded(ctx context.Context, cid string, out domain.ProcessOutcome) error {
	tracer := otel.Tracer("repo.complaints")
	ctx, span := tracer.Start(ctx, "complaints.MarkSucceeded")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(cid)
	if err != nil {
		return fmt.Errorf("op=complaint.mark_succeeded: %w: %q", domain.ErrInvalidArgument, cid)
	}

	meta := out.Meta
	aiMeta := bson.M{
		"processedAt":             meta.ProcessedAt,
		"isAIDuplicate":           meta.IsAIDuplicate,
		"duplicateSimilarity":     meta.DuplicateSimilarity,
		"duplicateComplaintId":    orNil(meta.DuplicateComplaintID),
		"duplicateDistanceMeters": meta.DuplicateDistanceMeters,
		"duplicateCategoryMatch":  meta.DuplicateCategoryMatch,
		"duplicateMethod":         orNil(meta.DuplicateMethod),
		"mobilenetTopLabel":       meta.MobilenetTopLabel,
		"mobilenetConfidence":     meta.MobilenetConfidence,
		"mobilenetTopLabels":      meta.MobilenetTopLabels,
		"semanticCategoryMatch":   meta.SemanticCategoryMatch,
		"semanticFallbackUsed":    meta.SemanticFallbackUsed,
		"semanticNote":            meta.SemanticNote,
		"engineRun":               meta.EngineRun,
	}
	if meta.ImageFingerprint != "" {
		aiMeta["imageFingerprint"] = meta.ImageFingerprint
	}
	if len(meta.Embedding) > 0 {
		aiMeta["embedding"] = meta.Embedding
		aiMeta["embeddingModel"] = "mobilenet_v2"
	}
	top := make([]bson.M, 0, len(meta.YoloTopDetections))
	for _, det := range meta.YoloTopDetections {
		top = append(top, bson.M{"label": det.Label, "confidence": round4(det.Confidence)})
	}
	aiMeta["yoloTopDetections"] = top

	_, err = s.complaints.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"severityScore":               out.SeverityScore,
			"priority.score":              out.Priority.Score,
			"priority.level":              out.Priority.Level,
			"priority.reason":             out.Priority.Reason,
			"priority.reasonSentence":     out.Priority.ReasonSentence,
			"priority.aiProcessed":        true,
			"priority.aiProcessingStatus": string(out.Status),
			"aiMeta":                      aiMeta,
		}},
	)
	if err != nil {
		return fmt.Errorf("op=complaint.mark_succeeded: %w", err)
	}
	return nil
}

// MarkFailed records a failure, leaving the complaint eligible for retry.
func (s *Store) MarkFailed(ctx context.Context, cid string, errMsg string) error {
	tracer := otel.Tracer("repo.complaints")
	ctx, span := tracer.Start(ctx, "complaints.MarkFailed")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(cid)
	if err != nil {
		return fmt.Errorf("op=complaint.mark_failed: %w: %q", domain.ErrInvalidArgument, cid)
	}
	_, err = s.complaints.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"priority.reason":             "AI processing failed: " + errMsg,
			"priority.aiProcessed":        false,
			"priority.aiProcessingStatus": string(domain.StatusFailed),
			"aiMeta": bson.M{
				"processedAt": utcNow(),
				"error":       errMsg,
			},
		}},
	)
	if err != nil {
		return fmt.Errorf("op=complaint.mark_failed: %w", err)
	}
	return nil
}

// CountPending returns the number of claimable complaints.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.complaints.CountDocuments(ctx, bson.M{
		"priority.aiProcessed":        false,
		"priority.aiProcessingStatus": string(domain.StatusPending),
	})
	if err != nil {
		return 0, fmt.Errorf("op=complaint.count_pending: %w", err)
	}
	return count, nil
}

type candidateDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	Category string             `bson:"category"`
	Location *geoPointDoc       `bson:"location"`
	AIMeta   struct {
		Embedding        []float32 `bson:"embedding"`
		ImageFingerprint string    `bson:"imageFingerprint"`
	} `bson:"aiMeta"`
}

// RecentCandidates loads prior complaints eligible as duplicate "others",
// projected to the comparison fields only.
func (s *Store) RecentCandidates(ctx context.Context, excludeCID string, since time.Time, limit int) ([]domain.Candidate, error) {
	filter := bson.M{
		"createdAt": bson.M{"$gte": since},
		"$or": bson.A{
			bson.M{"aiMeta.embedding": bson.M{"$exists": true}},
			bson.M{"aiMeta.imageFingerprint": bson.M{"$exists": true}},
		},
	}
	if oid, err := primitive.ObjectIDFromHex(excludeCID); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}

	cursor, err := s.complaints.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{
				"_id":                     1,
				"category":                1,
				"location":                1,
				"aiMeta.embedding":        1,
				"aiMeta.imageFingerprint": 1,
			}),
	)
	if err != nil {
		return nil, fmt.Errorf("op=complaint.recent_candidates: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Candidate
	for cursor.Next(ctx) {
		var doc candidateDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		out = append(out, domain.Candidate{
			CID:         doc.ID.Hex(),
			Category:    doc.Category,
			Location:    toGeoPoint(doc.Location),
			Embedding:   doc.AIMeta.Embedding,
			Fingerprint: doc.AIMeta.ImageFingerprint,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("op=complaint.recent_candidates: %w", err)
	}
	return out, nil
}

// CountNearbyComplaints counts recent complaints within radiusMeters,
// stopping at max. Uses the geo index when present, otherwise a filtered scan
// with an in-memory haversine check.
func (s *Store) CountNearbyComplaints(ctx context.Context, excludeCID string, lng, lat, radiusMeters float64, since time.Time, max int) (int, error) {
	excludeOID, hasExclude := parseOID(excludeCID)

	if s.geoQueriesUsable(ctx, s.complaints) {
		filter := bson.M{
			"createdAt": bson.M{"$gte": since},
			"location": bson.M{
				"$nearSphere": bson.M{
					"$geometry":    bson.M{"type": "Point", "coordinates": bson.A{lng, lat}},
					"$maxDistance": radiusMeters,
				},
			},
		}
		if hasExclude {
			filter["_id"] = bson.M{"$ne": excludeOID}
		}
		cursor, err := s.complaints.Find(ctx, filter,
			options.Find().SetLimit(int64(max)).SetProjection(bson.M{"_id": 1}))
		if err == nil {
			defer cursor.Close(ctx)
			count := 0
			for cursor.Next(ctx) {
				count++
			}
			if cursor.Err() == nil {
				return count, nil
			}
			err = cursor.Err()
		}
		if isGeoUnsupportedErr(err) {
			s.disableGeoQueries(s.complaints, err)
		} else {
			return 0, fmt.Errorf("op=complaint.count_nearby: %w", err)
		}
	}

	filter := bson.M{"createdAt": bson.M{"$gte": since}}
	if hasExclude {
		filter["_id"] = bson.M{"$ne": excludeOID}
	}
	cursor, err := s.complaints.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"location": 1}))
	if err != nil {
		return 0, fmt.Errorf("op=complaint.count_nearby_scan: %w", err)
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var doc struct {
			Location *geoPointDoc `bson:"location"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		point := toGeoPoint(doc.Location)
		if point == nil {
			continue
		}
		if geomath.HaversineMeters(lng, lat, point.Lng, point.Lat) <= radiusMeters {
			count++
			if count >= max {
				return count, nil
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, fmt.Errorf("op=complaint.count_nearby_scan: %w", err)
	}
	return count, nil
}

// PendingSweep returns the oldest claimable cids.
func (s *Store) PendingSweep(ctx context.Context, limit int) ([]string, error) {
	return s.sweep(ctx, domain.StatusPending, limit)
}

// FailedSweep returns the oldest failed cids.
func (s *Store) FailedSweep(ctx context.Context, limit int) ([]string, error) {
	return s.sweep(ctx, domain.StatusFailed, limit)
}

func (s *Store) sweep(ctx context.Context, status domain.ProcessingStatus, limit int) ([]string, error) {
	cursor, err := s.complaints.Find(ctx,
		bson.M{
			"priority.aiProcessed":        false,
			"priority.aiProcessingStatus": string(status),
		},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("op=complaint.sweep status=%s: %w", status, err)
	}
	defer cursor.Close(ctx)

	var cids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		cids = append(cids, doc.ID.Hex())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("op=complaint.sweep status=%s: %w", status, err)
	}
	return cids, nil
}

// RequeueFailed flips failed -> pending with a compare-and-set so only one
// sweep wins a given cid.
func (s *Store) RequeueFailed(ctx context.Context, cid string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(cid)
	if err != nil {
		return false, fmt.Errorf("op=complaint.requeue_failed: %w: %q", domain.ErrInvalidArgument, cid)
	}
	res, err := s.complaints.UpdateOne(ctx,
		bson.M{
			"_id":                         oid,
			"priority.aiProcessed":        false,
			"priority.aiProcessingStatus": string(domain.StatusFailed),
		},
		bson.M{"$set": bson.M{
			"priority.aiProcessed":        false,
			"priority.aiProcessingStatus": string(domain.StatusPending),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("op=complaint.requeue_failed: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// WatchPendingInserts subscribes to inserts of claimable complaints and
// invokes handle per event. Returns when the stream breaks or ctx ends.
func (s *Store) WatchPendingInserts(ctx context.Context, handle func(cid string)) error {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"operationType":                            "insert",
			"fullDocument.priority.aiProcessed":        false,
			"fullDocument.priority.aiProcessingStatus": string(domain.StatusPending),
		}}},
	}
	stream, err := s.complaints.Watch(ctx, pipeline,
		options.ChangeStream().
			SetFullDocument(options.UpdateLookup).
			SetMaxAwaitTime(time.Second),
	)
	if err != nil {
		return fmt.Errorf("op=complaint.watch: %w", err)
	}
	defer stream.Close(ctx)

	for stream.Next(ctx) {
		var event struct {
			FullDocument struct {
				ID primitive.ObjectID `bson:"_id"`
			} `bson:"fullDocument"`
		}
		if err := stream.Decode(&event); err != nil {
			continue
		}
		if !event.FullDocument.ID.IsZero() {
			handle(event.FullDocument.ID.Hex())
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("op=complaint.watch: %w", err)
	}
	return ctx.Err()
}

func parseOID(cid string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(cid)
	return oid, err == nil
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
