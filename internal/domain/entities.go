// Package domain holds the core entities, error taxonomy, and ports of the
// complaint decision engine. Adapters (MongoDB, HTTP, inference sidecar) and
// usecases depend on this package; it depends on nothing but the standard
// library.
package domain

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrNotClaimed       = errors.New("complaint not claimable")
	ErrNotAnImage       = errors.New("not an image")
	ErrImageTooLarge    = errors.New("image too large")
	ErrFetchFailed      = errors.New("image fetch failed")
	ErrInference        = errors.New("inference failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ProcessingStatus enumerates priority.aiProcessingStatus values.
type ProcessingStatus string

const (
	StatusPending        ProcessingStatus = "pending"
	StatusProcessing     ProcessingStatus = "processing"
	StatusDone           ProcessingStatus = "done"
	StatusFailed         ProcessingStatus = "failed"
	StatusReviewRequired ProcessingStatus = "review_required"
)

// Priority levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// GeoPoint is a GeoJSON-like point; stored coordinates are [lng, lat].
type GeoPoint struct {
	Lng float64
	Lat float64
}

// ComplaintImage is one attachment reference on a complaint.
type ComplaintImage struct {
	URL string
}

// Complaint is the unit of work. CID is the opaque store identifier in hex
// form; the adapter owns the conversion to the store's native id type.
type Complaint struct {
	CID         string
	Category    string
	Title       string
	Description string
	Location    *GeoPoint
	CreatedAt   time.Time
	Images      []ComplaintImage
	ReportedBy  string
	Processed   bool
	Status      ProcessingStatus
}

// ImageURL returns the first non-empty attachment URL, or "".
func (c Complaint) ImageURL() string {
	for _, img := range c.Images {
		if u := strings.TrimSpace(img.URL); u != "" {
			return u
		}
	}
	return ""
}

// Candidate is a projected prior complaint considered by duplicate detection.
type Candidate struct {
	CID         string
	Category    string
	Location    *GeoPoint
	Embedding   []float32
	Fingerprint string
}

// Detection is one object reported by the detector service.
type Detection struct {
	Label       string
	Confidence  float64
	BBox        [4]float64
	AreaPercent float64
}

// Classification is the classifier service output: the top label plus up to
// two alternates.
type Classification struct {
	Label      string
	Confidence float64
	TopLabels  []string
}

// PriorityOutcome is the priority block written back on success.
type PriorityOutcome struct {
	Score          float64
	Level          string
	Reason         string
	ReasonSentence string
}

// AIMeta is the enrichment metadata written back alongside the priority.
// Embedding and ImageFingerprint make the complaint a duplicate candidate for
// future items.
type AIMeta struct {
	ProcessedAt             time.Time
	IsAIDuplicate           bool
	DuplicateSimilarity     float64
	DuplicateComplaintID    string
	DuplicateDistanceMeters float64
	DuplicateCategoryMatch  bool
	DuplicateMethod         string
	ImageFingerprint        string
	Embedding               []float32
	YoloTopDetections       []Detection
	MobilenetTopLabel       string
	MobilenetConfidence     float64
	MobilenetTopLabels      []string
	SemanticCategoryMatch   *bool
	SemanticFallbackUsed    bool
	SemanticNote            string
	EngineRun               string
}

// ProcessOutcome bundles everything MarkSucceeded persists in one update.
type ProcessOutcome struct {
	SeverityScore float64
	Priority      PriorityOutcome
	Status        ProcessingStatus
	Meta          AIMeta
}

// ComplaintStore is the port to the complaints collection. Two
// implementations matter: a replica-set store with geo indexes and a
// standalone store without them; both satisfy the same contract, the latter
// through fallback scans. A test double is the third.
type ComplaintStore interface {
	// Claim atomically transitions pending -> processing and returns the
	// claimed document. ErrNotClaimed when another worker won or the item is
	// not claimable; ErrInvalidArgument for a malformed cid.
	Claim(ctx context.Context, cid string) (Complaint, error)
	MarkSucceeded(ctx context.Context, cid string, out ProcessOutcome) error
	MarkFailed(ctx context.Context, cid string, errMsg string) error
	CountPending(ctx context.Context) (int64, error)
	// RecentCandidates returns up to limit most recent complaints created at
	// or after since, excluding excludeCID, projected for duplicate checks.
	RecentCandidates(ctx context.Context, excludeCID string, since time.Time, limit int) ([]Candidate, error)
	// CountNearbyComplaints counts complaints within radiusMeters of
	// (lng, lat) created at or after since, excluding excludeCID, stopping
	// at max.
	CountNearbyComplaints(ctx context.Context, excludeCID string, lng, lat, radiusMeters float64, since time.Time, max int) (int, error)
	// PendingSweep returns the oldest claimable cids, oldest first.
	PendingSweep(ctx context.Context, limit int) ([]string, error)
	// FailedSweep returns the oldest failed cids, oldest first.
	FailedSweep(ctx context.Context, limit int) ([]string, error)
	// RequeueFailed atomically flips failed -> pending; reports whether this
	// call performed the flip.
	RequeueFailed(ctx context.Context, cid string) (bool, error)
	// WatchPendingInserts blocks, invoking handle for every inserted
	// claimable complaint, until the stream breaks or ctx is canceled.
	WatchPendingInserts(ctx context.Context, handle func(cid string)) error
}

// SensitiveLocationStore is the port to the sensitive_locations collection.
type SensitiveLocationStore interface {
	// NearSensitiveLocation reports whether any sensitive location matching
	// one of the keywords (case-insensitive, over type/name/category) lies
	// within radiusMeters of (lng, lat).
	NearSensitiveLocation(ctx context.Context, lng, lat, radiusMeters float64, keywords []string) (bool, error)
}

// BlacklistStore records semantic-mismatch counts per reporting user. Writes
// sit behind a feature flag; the pipeline never reads them.
type BlacklistStore interface {
	RecordMismatch(ctx context.Context, userID string, mismatch bool) error
}

// ImageFetcher downloads and decodes a complaint image.
type ImageFetcher interface {
	// Fetch returns the decoded RGB raster. Failures use the sentinel
	// taxonomy: ErrNotAnImage, ErrImageTooLarge, ErrFetchFailed.
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// Inference ports. Each service loads once at startup and must be safe for
// concurrent inference.

// Detector finds objects in a raster.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Classifier labels the overall scene.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Classification, error)
}

// Embedder produces an L2-normalized feature vector.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
}

// Enqueuer is the slice of the processing queue the listener and reconciler
// see.
type Enqueuer interface {
	// Enqueue is a no-op returning false when cid is already queued or in
	// flight.
	Enqueue(cid string) bool
}
