package imagepref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const maxIndexBytes = 32 << 20

// IndexEntry is one element of the bootstrap index.json.
type IndexEntry struct {
	X         string `json:"x"`
	Thumbnail string `json:"thumbnail"`
	Y         string `json:"y,omitempty"`
}

// ImportReport summarises a bootstrap run.
type ImportReport struct {
	Listed   int  // entries in index.json
	Imported int  // records created
	Failed   int  // entries skipped on error
	Skipped  bool // whole import skipped because the corpus was already populated
}

func (r ImportReport) String() string {
	if r.Skipped {
		return fmt.Sprintf("Corpus already holds %d or more images, import skipped", r.Listed)
	}
	if r.Failed > 0 {
		return fmt.Sprintf("Imported %d of %d images (%d failed)", r.Imported, r.Listed, r.Failed)
	}
	return fmt.Sprintf("Imported %d images", r.Imported)
}

// ImageID returns the stable corpus id for a resolved source URL.
func ImageID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

// Importer loads the corpus from a static server exactly once per call.
type Importer struct {
	cfg    *Config
	corpus *Corpus
}

// NewImporter returns an Importer writing into corpus.
func NewImporter(cfg *Config, corpus *Corpus) *Importer {
	return &Importer{cfg: cfg, corpus: corpus}
}

// Import waits the configured startup delay, fetches <BaseURL>/index.json and
// creates one ImageRecord per entry. The fetch is attempted once. Per-entry
// failures are logged and do not abort the import.
func (im *Importer) Import(ctx context.Context) (ImportReport, error) {
	im.cfg.defaults()

	if im.cfg.StartupDelay > 0 {
		t := time.NewTimer(im.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ImportReport{}, ctx.Err()
		case <-t.C:
		}
	}

	base, err := url.Parse(im.cfg.BaseURL)
	if err != nil {
		return ImportReport{}, fmt.Errorf("%w: base url: %v", ErrImport, err)
	}

	entries, err := im.fetchIndex(ctx, base)
	if err != nil {
		slog.Error("imagepref: bootstrap fetch failed", "base", im.cfg.BaseURL, "error", err.Error())
		return ImportReport{}, err
	}

	report := ImportReport{Listed: len(entries)}
	if len(entries) == 0 {
		slog.Warn("imagepref: index.json lists no images", "base", im.cfg.BaseURL)
	}
	count, err := im.corpus.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: count corpus: %v", ErrImport, err)
	}
	if len(entries) > 0 && count >= len(entries) {
		report.Skipped = true
		return report, nil
	}

	for _, e := range entries {
		rec, err := resolveEntry(base, e)
		if err != nil {
			slog.Warn("imagepref: bad index entry", "x", e.X, "error", err.Error())
			report.Failed++
			continue
		}
		if err := im.corpus.Add(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			slog.Warn("imagepref: import create failed", "id", rec.ID, "url", rec.SourceURL, "error", err.Error())
			report.Failed++
			continue
		}
		report.Imported++
	}

	slog.Info("imagepref: import finished", "imported", report.Imported, "failed", report.Failed)
	return report, nil
}

func (im *Importer) fetchIndex(ctx context.Context, base *url.URL) ([]IndexEntry, error) {
	indexURL := base.JoinPath("index.json")

	ctx, cancel := context.WithTimeout(ctx, im.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImport, err)
	}
	req.Header.Set("User-Agent", im.cfg.UserAgent)

	resp, err := im.cfg.HTTPClient.Do(req) //nolint:gosec // G704: base URL is operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: index.json returned status %d", ErrImport, resp.StatusCode)
	}

	var entries []IndexEntry
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxIndexBytes))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: parse index.json: %v", ErrImport, err)
	}
	return entries, nil
}

// resolveEntry turns an index entry into an ImageRecord with absolute URLs.
func resolveEntry(base *url.URL, e IndexEntry) (ImageRecord, error) {
	if e.X == "" {
		return ImageRecord{}, errors.New("entry has no image path")
	}
	src, err := base.Parse(e.X)
	if err != nil {
		return ImageRecord{}, err
	}
	thumb := src
	if e.Thumbnail != "" {
		if thumb, err = base.Parse(e.Thumbnail); err != nil {
			return ImageRecord{}, err
		}
	}
	return ImageRecord{
		ID:           ImageID(src.String()),
		SourceURL:    src.String(),
		ThumbnailURL: thumb.String(),
		Label:        e.Y,
	}, nil
}
