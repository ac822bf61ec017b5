// Package httpinfer talks to the model-serving sidecar that hosts the object
// detector, the scene classifier, and the embedding extractor. Each model is
// loaded once by the sidecar; this client is safe for concurrent use.
package httpinfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	"github.com/civisense/ai-decision-engine/internal/config"
	"github.com/civisense/ai-decision-engine/internal/domain"
	"golang.org/x/image/draw"
)

// Client implements domain.Detector, domain.Classifier, and domain.Embedder
// over the sidecar's HTTP API.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	maxDim  int

	detectorModel       string
	confidenceThreshold float64
	imageSize           int
}

// New constructs a Client from configuration. Sidecar calls are traced
// through the otelhttp transport.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Inference %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		base: cfg.InferenceURL,
		http: &http.Client{Timeout: cfg.InferenceTimeout, Transport: transport},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "inference",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("inference breaker state change",
					slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
		maxDim:              cfg.YoloMaxImageDimension,
		detectorModel:       cfg.DetectorModel,
		confidenceThreshold: cfg.YoloConfidenceThreshold,
		imageSize:           cfg.YoloImageSize,
	}
}

// Load verifies the sidecar has its models ready. Called once at startup.
func (c *Client) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/ready", nil)
	if err != nil {
		return fmt.Errorf("op=infer.load: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=infer.load: %w: %v", domain.ErrInference, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=infer.load: %w: status %d", domain.ErrInference, resp.StatusCode)
	}
	slog.Info("inference sidecar ready", slog.String("base", c.base), slog.String("detector", c.detectorModel))
	return nil
}

// Detect runs object detection on the raster.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]domain.Detection, error) {
	start := time.Now()
	var payload struct {
		Detections []struct {
			Label       string     `json:"label"`
			Confidence  float64    `json:"confidence"`
			BBox        [4]float64 `json:"bbox"`
			AreaPercent float64    `json:"areaPercent"`
		} `json:"detections"`
	}
	query := fmt.Sprintf("?model=%s&conf=%g&imgsz=%d", c.detectorModel, c.confidenceThreshold, c.imageSize)
	if err := c.post(ctx, "/v1/detect"+query, img, &payload); err != nil {
		return nil, fmt.Errorf("op=infer.detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	out := make([]domain.Detection, 0, len(payload.Detections))
	for _, det := range payload.Detections {
		out = append(out, domain.Detection{
			Label:       det.Label,
			Confidence:  det.Confidence,
			BBox:        det.BBox,
			AreaPercent: det.AreaPercent,
		})
	}
	return out, nil
}

// Classify labels the scene; the sidecar returns the top label plus up to two
// alternates.
func (c *Client) Classify(ctx context.Context, img image.Image) (domain.Classification, error) {
	start := time.Now()
	var payload struct {
		Label      string   `json:"label"`
		Confidence float64  `json:"confidence"`
		TopLabels  []string `json:"topLabels"`
	}
	if err := c.post(ctx, "/v1/classify", img, &payload); err != nil {
		return domain.Classification{}, fmt.Errorf("op=infer.classify: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())

	if len(payload.TopLabels) > 3 {
		payload.TopLabels = payload.TopLabels[:3]
	}
	return domain.Classification{
		Label:      payload.Label,
		Confidence: payload.Confidence,
		TopLabels:  payload.TopLabels,
	}, nil
}

// Embed extracts a feature vector. The result is re-normalized here so the
// L2 invariant never depends on sidecar behavior.
func (c *Client) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	start := time.Now()
	var payload struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, "/v1/embed", img, &payload); err != nil {
		return nil, fmt.Errorf("op=infer.embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return Normalize(payload.Embedding), nil
}

func (c *Client) post(ctx context.Context, path string, img image.Image, out interface{}) error {
	body, err := encodeJPEG(ScaleDown(img, c.maxDim))
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrInference, err)
	}

	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Header.Set("Content-Type", "image/jpeg")
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				err := fmt.Errorf("status %d: %s", resp.StatusCode, raw)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return nil, json.NewDecoder(resp.Body).Decode(out)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInference, err)
	}
	return nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScaleDown shrinks img so its longest side does not exceed maxDim, keeping
// aspect ratio. Images at or under the cap pass through untouched.
func ScaleDown(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if maxDim <= 0 || longest <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(longest)
	dw := int(math.Max(1, math.Round(float64(w)*scale)))
	dh := int(math.Max(1, math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// Normalize returns v scaled to unit L2 norm; zero vectors pass through.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
