package imagepref

import (
	"context"
	"log/slog"
)

// Corpus is the typed view of the image dataset.
type Corpus struct {
	store Store
}

// NewCorpus wraps store.
func NewCorpus(store Store) *Corpus {
	return &Corpus{store: store}
}

// Add inserts rec. A duplicate id wraps ErrPersistence.
func (c *Corpus) Add(ctx context.Context, rec ImageRecord) error {
	return c.store.Create(ctx, rec.document())
}

// Get returns the image with the given id.
func (c *Corpus) Get(ctx context.Context, id string) (ImageRecord, error) {
	doc, err := c.store.Get(ctx, id)
	if err != nil {
		return ImageRecord{}, err
	}
	return imageFromDocument(doc)
}

// List returns every image in insertion order. Malformed documents are
// logged and skipped.
func (c *Corpus) List(ctx context.Context) ([]ImageRecord, error) {
	docs, err := c.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ImageRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := imageFromDocument(doc)
		if err != nil {
			slog.Warn("imagepref: skipping malformed image", "error", err.Error())
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of images.
func (c *Corpus) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}
