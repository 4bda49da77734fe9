// Package imaging downloads source images and re-encodes them into the
// normalized output format: baseline JPEG, opaque RGB, quality 50.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultQuality is the fixed lossy re-encode quality (0-100 scale).
	DefaultQuality = 50

	DefaultTimeout = 30 * time.Second
)

var (
	ErrDownloadFailed = errors.New("image download failed")
	ErrDecodeFailed   = errors.New("image decode failed")
)

type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	quality int
}

type Option func(*Fetcher)

func WithQuality(quality int) Option {
	return func(f *Fetcher) { f.quality = quality }
}

func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) { f.client.SetTimeout(timeout) }
}

// WithRateLimit caps outbound requests per second across all rows of a job, so
// a large URL list cannot hammer a single origin.
func WithRateLimit(rps float64) Option {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  resty.New().SetTimeout(DefaultTimeout),
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Process fetches one source URL and returns the re-encoded JPEG bytes. A
// failure is terminal for that URL, there are no retries here: the caller
// records the outcome and moves on.
func (f *Fetcher) Process(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
		}
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s: status %d", ErrDownloadFailed, url, resp.StatusCode())
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, url, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: f.quality}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, url, err)
	}

	return buf.Bytes(), nil
}

// flatten converts any decoded image (paletted, alpha, grayscale) to an opaque
// RGB raster, compositing transparency over black.
func flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgb := image.NewRGBA(bounds)
	draw.Draw(rgb, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(rgb, bounds, img, bounds.Min, draw.Over)
	return rgb
}
