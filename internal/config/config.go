// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all engine configuration parsed from environment variables.
// Every recognized option has a default; the engine starts with an empty
// environment against a local standalone store.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	Port     int    `env:"PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	MongoURI                      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDBName                   string `env:"MONGO_DB_NAME" envDefault:"civisense"`
	MongoComplaintsCollection     string `env:"MONGO_COMPLAINTS_COLLECTION" envDefault:"complaints"`
	MongoSensitiveLocsCollection  string `env:"MONGO_SENSITIVE_LOCATIONS_COLLECTION" envDefault:"sensitive_locations"`
	MongoBlacklistCollection      string `env:"MONGO_AI_BLACKLIST_COLLECTION" envDefault:"ai_blacklist"`
	MongoServerSelectionTimeoutMS int    `env:"MONGO_SERVER_SELECTION_TIMEOUT_MS" envDefault:"5000"`
	MongoConnectTimeoutMS         int    `env:"MONGO_CONNECT_TIMEOUT_MS" envDefault:"10000"`
	MongoAllowStandaloneFallback  bool   `env:"MONGO_ALLOW_STANDALONE_FALLBACK" envDefault:"true"`

	// InferenceURL points at the model-serving sidecar (detector, classifier,
	// embedder). Empty selects the deterministic stub services.
	InferenceURL     string        `env:"INFERENCE_URL"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"30s"`
	DetectorModel    string        `env:"DETECTOR_MODEL_NAME" envDefault:"yolov8n"`
	CPUThreads       int           `env:"CPU_THREADS" envDefault:"2"`

	YoloConfidenceThreshold      float64 `env:"YOLO_CONFIDENCE_THRESHOLD" envDefault:"0.25"`
	YoloImageSize                int     `env:"YOLO_IMAGE_SIZE" envDefault:"640"`
	YoloMaxImageDimension        int     `env:"YOLO_MAX_IMAGE_DIMENSION" envDefault:"1024"`
	YoloMinConfidenceForSeverity float64 `env:"YOLO_MIN_CONFIDENCE_FOR_SEVERITY" envDefault:"0.4"`

	ImageDownloadTimeout time.Duration `env:"IMAGE_DOWNLOAD_TIMEOUT" envDefault:"15s"`
	ImageMaxBytes        int64         `env:"IMAGE_MAX_BYTES" envDefault:"10485760"`

	SchoolRadiusMeters           float64       `env:"SCHOOL_RADIUS_METERS" envDefault:"2000"`
	DuplicateSimilarityThreshold float64       `env:"DUPLICATE_SIMILARITY_THRESHOLD" envDefault:"0.92"`
	DuplicateLookbackDays        int           `env:"DUPLICATE_LOOKBACK_DAYS" envDefault:"7"`
	DuplicateCompareLimit        int           `env:"DUPLICATE_COMPARE_LIMIT" envDefault:"50"`
	RetryInterval                time.Duration `env:"RETRY_INTERVAL" envDefault:"60s"`
	MaxRetryAttempts             int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBatchSize               int           `env:"RETRY_BATCH_SIZE" envDefault:"25"`
	QueueCapacity                int           `env:"QUEUE_CAPACITY" envDefault:"1024"`

	// BlacklistWritesEnabled keeps the historical ai_blacklist mismatch
	// counter alive. Off by default; never read by the priority pipeline.
	BlacklistWritesEnabled bool `env:"BLACKLIST_WRITES_ENABLED" envDefault:"false"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-decision-engine"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the engine is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the engine is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// DuplicateLookback returns the candidate window as a duration.
func (c Config) DuplicateLookback() time.Duration {
	return time.Duration(c.DuplicateLookbackDays) * 24 * time.Hour
}

// MongoServerSelectionTimeout returns the connect timeout as a duration.
func (c Config) MongoServerSelectionTimeout() time.Duration {
	return time.Duration(c.MongoServerSelectionTimeoutMS) * time.Millisecond
}

// MongoConnectTimeout returns the initial connection budget as a duration.
func (c Config) MongoConnectTimeout() time.Duration {
	return time.Duration(c.MongoConnectTimeoutMS) * time.Millisecond
}
