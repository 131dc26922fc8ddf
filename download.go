package imagepref

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"
)

// DownloadOpts configures an image download.
type DownloadOpts struct {
	MaxBytes  int64         // max response body size (default: cfg.MaxImageBytes)
	Timeout   time.Duration // per-request timeout (default: cfg.FetchTimeout)
	UserAgent string        // override config user agent
}

const (
	defaultMaxBytes = 10 << 20 // 10MB
	defaultTimeout  = 15 * time.Second
)

// DownloadResult holds downloaded image data.
type DownloadResult struct {
	Data     []byte
	MIMEType string
}

// Download fetches an image from url. Tries cfg.StealthClient first (if set),
// falls back to cfg.HTTPClient. Every failure wraps ErrExtraction so batch
// callers can skip the image and move on.
func (cfg *Config) Download(ctx context.Context, url string, opts DownloadOpts) (*DownloadResult, error) {
	cfg.defaults()

	if opts.MaxBytes <= 0 {
		opts.MaxBytes = cfg.MaxImageBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.FetchTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = cfg.UserAgent
	}

	if err := cfg.wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, url, err)
	}

	// Try stealth client first.
	if cfg.StealthClient != nil {
		if r, err := fetchImageData(ctx, cfg.StealthClient, url, ua, opts); err == nil {
			return r, nil
		}
	}

	r, err := fetchImageData(ctx, cfg.HTTPClient, url, ua, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, url, err)
	}
	return r, nil
}

func fetchImageData(ctx context.Context, client *http.Client, imageURL, ua string, opts DownloadOpts) (*DownloadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req) //nolint:gosec // G704: URL comes from the curated corpus index
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	// Strip MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg"
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("content type %q is not an image", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}

	return &DownloadResult{Data: data, MIMEType: ct}, nil
}

// Load downloads and decodes the image at url, applying its EXIF orientation.
// It satisfies ImageLoader.
func (cfg *Config) Load(ctx context.Context, url string) (image.Image, error) {
	r, err := cfg.Download(ctx, url, DownloadOpts{})
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(r.Data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, url)
	}
	return img, nil
}
