// Package process runs the per-complaint enrichment pipeline: claim, image
// fetch, inference, semantic check, priority compute, duplicate check, rule
// application, and write-back.
package process

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/internal/usecase/priority"
	"github.com/civisense/ai-decision-engine/internal/usecase/validate"
	"github.com/civisense/ai-decision-engine/pkg/imghash"
)

const maxErrorMessageLen = 240

const noteNoImage = "no_image"

const duplicateReason = "Duplicate complaint"

const semanticMismatchNote = "Image semantic mismatch fallback applied"

// ComplaintStore is the slice of the complaint store the processor needs:
// claiming and write-back.
type ComplaintStore interface {
	Claim(ctx context.Context, cid string) (domain.Complaint, error)
	MarkSucceeded(ctx context.Context, cid string, out domain.ProcessOutcome) error
	MarkFailed(ctx context.Context, cid string, errMsg string) error
}

// Processor drives a single complaint through the pipeline. One instance is
// shared by the queue worker; all dependencies are concurrency-safe.
type Processor struct {
	complaints ComplaintStore
	blacklist  domain.BlacklistStore
	fetcher    domain.ImageFetcher
	detector   domain.Detector
	classifier domain.Classifier
	embedder   domain.Embedder
	engine     *priority.Engine
	validator  *validate.Validator
	stats      *domain.RuntimeStats

	blacklistWrites bool
	engineRun       string
	now             func() time.Time
}

// New constructs a Processor. engineRun tags every write-back with this
// process's run id.
func New(
	complaints ComplaintStore,
	blacklist domain.BlacklistStore,
	fetcher domain.ImageFetcher,
	detector domain.Detector,
	classifier domain.Classifier,
	embedder domain.Embedder,
	engine *priority.Engine,
	validator *validate.Validator,
	stats *domain.RuntimeStats,
	blacklistWrites bool,
	engineRun string,
) *Processor {
	return &Processor{
		complaints:      complaints,
		blacklist:       blacklist,
		fetcher:         fetcher,
		detector:        detector,
		classifier:      classifier,
		embedder:        embedder,
		engine:          engine,
		validator:       validator,
		stats:           stats,
		blacklistWrites: blacklistWrites,
		engineRun:       engineRun,
		now:             time.Now,
	}
}

// inferenceContext carries whatever the image pipeline managed to produce.
// Any field can be absent; downstream stages treat absence as weak evidence,
// never as an error.
type inferenceContext struct {
	fingerprint    string
	embedding      []float32
	detections     []domain.Detection
	classification *domain.Classification
	note           string
}

// Process claims cid and runs it to completion, writing either the success
// or the failure record back. An unclaimable cid is skipped silently.
func (p *Processor) Process(ctx context.Context, cid string) {
	ctx, span := otel.Tracer("process").Start(ctx, "process.Process")
	span.SetAttributes(attribute.String("complaint.id", cid))
	defer span.End()

	complaint, err := p.complaints.Claim(ctx, cid)
	if err != nil {
		if errors.Is(err, domain.ErrNotClaimed) || errors.Is(err, domain.ErrInvalidArgument) {
			slog.Debug("complaint not claimable, skipping", slog.String("cid", cid))
			return
		}
		slog.Error("claim failed", slog.String("cid", cid), slog.Any("error", err))
		return
	}

	outcome, err := p.run(ctx, complaint)
	if err != nil {
		p.markFailed(ctx, cid, err)
		return
	}

	if err := p.complaints.MarkSucceeded(ctx, cid, outcome); err != nil {
		p.markFailed(ctx, cid, fmt.Errorf("op=process.write_back: %w", err))
		return
	}
	p.stats.IncSuccess()
	p.stats.ClearRetryAttempt(cid)
	observability.ComplaintsProcessedTotal.WithLabelValues("success").Inc()
	slog.Info("complaint processed",
		slog.String("cid", cid),
		slog.Float64("score", outcome.Priority.Score),
		slog.String("level", outcome.Priority.Level),
		slog.String("status", string(outcome.Status)),
		slog.Bool("duplicate", outcome.Meta.IsAIDuplicate))
}

func (p *Processor) run(ctx context.Context, complaint domain.Complaint) (domain.ProcessOutcome, error) {
	infer, err := p.runImagePipeline(ctx, complaint)
	if err != nil {
		return domain.ProcessOutcome{}, err
	}

	semantic := p.runSemantic(complaint, infer)

	base, err := p.engine.Compute(ctx, complaint)
	if err != nil {
		return domain.ProcessOutcome{}, err
	}

	dup, err := p.validator.CheckDuplicate(ctx, complaint, infer.fingerprint, infer.embedding)
	if err != nil {
		return domain.ProcessOutcome{}, err
	}

	outcome := p.applyRules(complaint, base, dup, semantic, infer)

	if p.blacklistWrites && semantic.Match != nil && complaint.ReportedBy != "" {
		if berr := p.blacklist.RecordMismatch(ctx, complaint.ReportedBy, !*semantic.Match); berr != nil {
			slog.Warn("blacklist write failed", slog.String("cid", complaint.CID), slog.Any("error", berr))
		}
	}
	return outcome, nil
}

// runImagePipeline fetches and fingerprints the complaint image. A complaint
// without an image is tolerated with the no_image note; a fetch or decode
// failure is an item failure so the reconciler retries it once the image
// store recovers.
func (p *Processor) runImagePipeline(ctx context.Context, complaint domain.Complaint) (inferenceContext, error) {
	url := complaint.ImageURL()
	if url == "" {
		return inferenceContext{note: noteNoImage}, nil
	}

	img, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return inferenceContext{}, fmt.Errorf("op=process.image_fetch url=%s: %w", url, err)
	}

	infer := inferenceContext{fingerprint: imghash.Format(imghash.DHash(img))}
	infer.embedding = p.tryEmbed(ctx, complaint.CID, img)
	infer.classification = p.tryClassify(ctx, complaint.CID, img)
	infer.detections = p.tryDetect(ctx, complaint.CID, img)
	return infer, nil
}

// Each inference stage is tolerated independently. A stage failure leaves a
// warning and a null value; the pipeline continues.

func (p *Processor) tryEmbed(ctx context.Context, cid string, img image.Image) []float32 {
	emb, err := p.embedder.Embed(ctx, img)
	if err != nil {
		slog.Warn("embedding failed", slog.String("cid", cid), slog.Any("error", err))
		return nil
	}
	return emb
}

func (p *Processor) tryClassify(ctx context.Context, cid string, img image.Image) *domain.Classification {
	cls, err := p.classifier.Classify(ctx, img)
	if err != nil {
		slog.Warn("classification failed", slog.String("cid", cid), slog.Any("error", err))
		return nil
	}
	return &cls
}

func (p *Processor) tryDetect(ctx context.Context, cid string, img image.Image) []domain.Detection {
	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		slog.Warn("detection failed", slog.String("cid", cid), slog.Any("error", err))
		return nil
	}
	return dets
}

func (p *Processor) runSemantic(complaint domain.Complaint, infer inferenceContext) validate.SemanticResult {
	if infer.note != "" {
		return validate.SemanticResult{Note: infer.note}
	}
	return p.validator.CheckSemantic(complaint.Category, infer.detections, infer.classification)
}

func (p *Processor) applyRules(
	complaint domain.Complaint,
	base priority.Result,
	dup validate.DuplicateResult,
	semantic validate.SemanticResult,
	infer inferenceContext,
) domain.ProcessOutcome {
	result := base
	status := domain.StatusDone
	fallbackUsed := false

	switch {
	case dup.IsDuplicate:
		result = priority.ForceLow(base, duplicateReason)
		observability.DuplicatesDetectedTotal.Inc()
	case semantic.Match != nil && !*semantic.Match:
		result.Reason = result.Reason + "; " + semanticMismatchNote
		result.ReasonSentence = result.ReasonSentence + " " + semanticMismatchNote + "."
		status = domain.StatusReviewRequired
		fallbackUsed = true
		observability.SemanticMismatchTotal.Inc()
	}
	observability.PriorityScoreHistogram.Observe(result.Score)

	meta := domain.AIMeta{
		ProcessedAt:             p.now().UTC(),
		IsAIDuplicate:           dup.IsDuplicate,
		DuplicateSimilarity:     dup.Similarity,
		DuplicateComplaintID:    dup.ComplaintID,
		DuplicateDistanceMeters: dup.DistanceMeters,
		DuplicateCategoryMatch:  dup.CategoryMatch,
		DuplicateMethod:         dup.Method,
		ImageFingerprint:        infer.fingerprint,
		Embedding:               infer.embedding,
		YoloTopDetections:       topDetections(infer.detections, 3),
		SemanticCategoryMatch:   semantic.Match,
		SemanticFallbackUsed:    fallbackUsed,
		SemanticNote:            semantic.Note,
		EngineRun:               p.engineRun,
	}
	if infer.classification != nil {
		meta.MobilenetTopLabel = infer.classification.Label
		meta.MobilenetConfidence = infer.classification.Confidence
		meta.MobilenetTopLabels = infer.classification.TopLabels
	}

	return domain.ProcessOutcome{
		SeverityScore: base.Text.BaseScore,
		Priority: domain.PriorityOutcome{
			Score:          result.Score,
			Level:          result.Level,
			Reason:         result.Reason,
			ReasonSentence: result.ReasonSentence,
		},
		Status: status,
		Meta:   meta,
	}
}

func (p *Processor) markFailed(ctx context.Context, cid string, cause error) {
	msg := SanitizeError(cause)
	if err := p.complaints.MarkFailed(ctx, cid, msg); err != nil {
		slog.Error("failure write-back failed", slog.String("cid", cid), slog.Any("error", err))
	}
	p.stats.IncFailed()
	observability.ComplaintsProcessedTotal.WithLabelValues("failed").Inc()
	slog.Error("complaint processing failed", slog.String("cid", cid), slog.String("cause", msg))
}

// topDetections keeps the n highest-confidence detections, strongest first.
func topDetections(dets []domain.Detection, n int) []domain.Detection {
	if len(dets) <= n {
		return dets
	}
	kept := make([]domain.Detection, len(dets))
	copy(kept, dets)
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < len(kept); j++ {
			if kept[j].Confidence > kept[best].Confidence {
				best = j
			}
		}
		kept[i], kept[best] = kept[best], kept[i]
	}
	return kept[:n]
}

// SanitizeError flattens newlines, collapses whitespace, and truncates the
// message for the failure record.
func SanitizeError(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
