// Package imagefetch downloads complaint images over HTTP with a total
// timeout and a hard size cap, and decodes them into an RGB raster.
package imagefetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Raster formats accepted from the object store.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	"github.com/civisense/ai-decision-engine/internal/domain"
)

const readChunkSize = 64 * 1024

// Fetcher is a single long-lived HTTP client shared by all fetches.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New builds a Fetcher with the given total timeout and byte cap. Downloads
// are traced through the otelhttp transport.
func New(timeout time.Duration, maxBytes int64) *Fetcher {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("ImageFetch %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Fetcher{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		maxBytes: maxBytes,
	}
}

// Fetch streams the body in bounded chunks and decodes the accumulated bytes.
// Failure taxonomy: domain.ErrFetchFailed for transport/status problems,
// domain.ErrImageTooLarge past the cap, domain.ErrNotAnImage for wrong
// content or an undecodable body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("op=imagefetch.request: %w: %v", domain.ErrFetchFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=imagefetch.get: %w: %v", domain.ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("op=imagefetch.get: %w: status %d", domain.ErrFetchFailed, resp.StatusCode)
	}

	body, err := f.readCapped(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "image") {
		// Some stores omit or mislabel Content-Type; trust the bytes before
		// rejecting.
		if !strings.HasPrefix(mimetype.Detect(body).String(), "image/") {
			return nil, fmt.Errorf("op=imagefetch.content_type: %w: got %q", domain.ErrNotAnImage, contentType)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=imagefetch.decode: %w: %v", domain.ErrNotAnImage, err)
	}

	observability.ImageFetchDuration.Observe(time.Since(start).Seconds())
	return img, nil
}

func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > f.maxBytes {
				return nil, fmt.Errorf("op=imagefetch.read: %w: over %d bytes", domain.ErrImageTooLarge, f.maxBytes)
			}
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("op=imagefetch.read: %w: %v", domain.ErrFetchFailed, err)
		}
	}
}
