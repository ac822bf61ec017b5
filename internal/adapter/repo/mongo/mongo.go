// Package mongo adapts the document store ports to MongoDB. It is the only
// package that knows the concrete store: connection fallback, replica-set
// probing, geo-index probing, and all collection queries live here.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civisense/ai-decision-engine/internal/config"
	"github.com/civisense/ai-decision-engine/internal/domain"
)

// Store owns the client and typed collection handles. Geo capability is
// probed lazily per collection and cached.
type Store struct {
	client             *mongo.Client
	complaints         *mongo.Collection
	sensitiveLocations *mongo.Collection
	blacklist          *mongo.Collection

	replicaSetEnabled bool
	activeURI         string

	mu      sync.Mutex
	geo     map[string]bool // collection name -> geo queries usable
	geoWarn map[string]bool // collection name -> fallback warning emitted
}

var (
	_ domain.ComplaintStore         = (*Store)(nil)
	_ domain.SensitiveLocationStore = (*Store)(nil)
	_ domain.BlacklistStore         = (*Store)(nil)
)

// Connect builds the client, falling back once to a standalone URI when the
// replica-set URI cannot be reached and fallback is enabled. It probes
// replica-set mode, resolves collection handles, and ensures the blacklist
// unique index. Fails fast when neither path succeeds.
func Connect(ctx context.Context, cfg config.Config) (*Store, error) {
	s := &Store{
		geo:     make(map[string]bool),
		geoWarn: make(map[string]bool),
	}

	client, err := dial(ctx, cfg, cfg.MongoURI)
	if err != nil {
		if !cfg.MongoAllowStandaloneFallback || !hasReplicaSetParam(cfg.MongoURI) {
			return nil, fmt.Errorf("op=mongo.connect: %w", err)
		}
		fallbackURI := toStandaloneURI(cfg.MongoURI)
		slog.Warn("replica set URI failed, retrying with standalone URI",
			slog.Any("error", err), slog.String("uri", fallbackURI))
		client, err = dial(ctx, cfg, fallbackURI)
		if err != nil {
			return nil, fmt.Errorf("op=mongo.connect_fallback: %w", err)
		}
		s.activeURI = fallbackURI
	} else {
		s.activeURI = cfg.MongoURI
	}
	s.client = client

	var hello struct {
		SetName string `bson:"setName"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("op=mongo.hello: %w", err)
	}
	s.replicaSetEnabled = hello.SetName != ""
	if !s.replicaSetEnabled {
		slog.Warn("replica set not detected; change streams unavailable, retry reconciler covers ingestion")
	}

	db := client.Database(cfg.MongoDBName)
	s.complaints = db.Collection(cfg.MongoComplaintsCollection)
	s.sensitiveLocations = db.Collection(cfg.MongoSensitiveLocsCollection)
	s.blacklist = db.Collection(cfg.MongoBlacklistCollection)

	_, err = s.blacklist.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("userId_unique"),
	})
	if err != nil {
		slog.Warn("blacklist unique index not ensured", slog.Any("error", err))
	}

	slog.Info("connected to document store",
		slog.String("database", cfg.MongoDBName),
		slog.Bool("replica_set", s.replicaSetEnabled),
		slog.String("uri", s.activeURI))
	return s, nil
}

func dial(ctx context.Context, cfg config.Config, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(cfg.MongoServerSelectionTimeout()).
		SetConnectTimeout(cfg.MongoConnectTimeout()).
		SetRetryWrites(true).
		SetAppName("civisense-ai-decision-engine")
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// ReplicaSetEnabled reports the capability recorded at connect time.
func (s *Store) ReplicaSetEnabled() bool { return s.replicaSetEnabled }

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("op=mongo.close: %w", err)
	}
	return nil
}

// hasReplicaSetParam reports whether uri carries a replicaSet option.
func hasReplicaSetParam(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	for key := range parsed.Query() {
		if strings.EqualFold(key, "replicaset") {
			return true
		}
	}
	return false
}

// toStandaloneURI strips the replicaSet option and forces a direct
// connection, preserving every other URI component.
func toStandaloneURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	query := parsed.Query()
	for key := range query {
		if strings.EqualFold(key, "replicaset") {
			query.Del(key)
		}
	}
	hasDirect := false
	for key := range query {
		if strings.EqualFold(key, "directconnection") {
			hasDirect = true
		}
	}
	if !hasDirect {
		query.Set("directConnection", "true")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// geoQueriesUsable reports whether coll carries a 2dsphere/2d index on
// location. Probed once per collection; a probe failure disables geo queries.
func (s *Store) geoQueriesUsable(ctx context.Context, coll *mongo.Collection) bool {
	s.mu.Lock()
	if usable, ok := s.geo[coll.Name()]; ok {
		s.mu.Unlock()
		return usable
	}
	s.mu.Unlock()

	usable := false
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		s.warnGeoFallbackOnce(coll.Name(), fmt.Sprintf("index inspection failed: %v", err))
	} else {
		defer cursor.Close(ctx)
		for cursor.Next(ctx) {
			var idx struct {
				Key bson.D `bson:"key"`
			}
			if err := cursor.Decode(&idx); err != nil {
				continue
			}
			for _, field := range idx.Key {
				kind, _ := field.Value.(string)
				if field.Key == "location" && (kind == "2dsphere" || kind == "2d") {
					usable = true
				}
			}
		}
		if !usable {
			s.warnGeoFallbackOnce(coll.Name(), "missing geo index on location")
		}
	}

	s.mu.Lock()
	s.geo[coll.Name()] = usable
	s.mu.Unlock()
	return usable
}

// disableGeoQueries is called when the server rejects a geo query at runtime
// (error code 291: unable to find index for $geoNear).
func (s *Store) disableGeoQueries(coll *mongo.Collection, cause error) {
	s.mu.Lock()
	s.geo[coll.Name()] = false
	s.mu.Unlock()
	s.warnGeoFallbackOnce(coll.Name(), cause.Error())
}

func (s *Store) warnGeoFallbackOnce(collection, detail string) {
	s.mu.Lock()
	emitted := s.geoWarn[collection]
	s.geoWarn[collection] = true
	s.mu.Unlock()
	if emitted {
		return
	}
	slog.Warn("geo queries disabled, using fallback scan",
		slog.String("collection", collection),
		slog.String("detail", detail))
}

// isGeoUnsupportedErr matches server error 291 (no usable geo index).
func isGeoUnsupportedErr(err error) bool {
	if err == nil {
		return false
	}
	if srvErr, ok := err.(mongo.ServerError); ok {
		return srvErr.HasErrorCode(291)
	}
	return false
}

// utcNow keeps all adapter timestamps UTC-aware.
func utcNow() time.Time { return time.Now().UTC() }
