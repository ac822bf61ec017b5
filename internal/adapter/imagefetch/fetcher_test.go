package imagefetch_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/internal/adapter/imagefetch"
	"github.com/civisense/ai-decision-engine/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()
	body := pngBytes(t, 32, 24)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 1<<20)
	img, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())
}

func TestFetch_SniffsMissingContentType(t *testing.T) {
	t.Parallel()
	body := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
}

func TestFetch_NotAnImage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrNotAnImage)
}

func TestFetch_UndecodableImageBytes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("definitely not a png"))
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrNotAnImage)
}

func TestFetch_TooLarge(t *testing.T) {
	t.Parallel()
	body := pngBytes(t, 200, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 128)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrImageTooLarge)
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := imagefetch.New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestFetch_TransportError(t *testing.T) {
	t.Parallel()
	f := imagefetch.New(time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/none")
	require.ErrorIs(t, err, domain.ErrFetchFailed)
}
