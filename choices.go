package imagepref

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ChoiceStore records curator decisions, one per original image id.
type ChoiceStore struct {
	store       Store
	corpus      *Corpus
	suggestions Store // read-only: resolves selections made in the suggestion set
	features    *Featurizer
	now         func() time.Time
}

// NewChoiceStore wires a ChoiceStore. suggestions is only read.
func NewChoiceStore(store Store, corpus *Corpus, suggestions Store, features *Featurizer) *ChoiceStore {
	return &ChoiceStore{
		store:       store,
		corpus:      corpus,
		suggestions: suggestions,
		features:    features,
		now:         time.Now,
	}
}

// RecordDecision labels the selected image. A zero selection is a no-op that
// returns ErrSelection. A later decision for the same original id replaces
// the earlier one.
func (cs *ChoiceStore) RecordDecision(ctx context.Context, sel Selection, label Label) (ChoiceRecord, error) {
	if sel.IsZero() {
		return ChoiceRecord{}, ErrSelection
	}
	if !label.Valid() {
		return ChoiceRecord{}, fmt.Errorf("imagepref: invalid label %q", label)
	}

	img, err := cs.resolve(ctx, sel)
	if err != nil {
		return ChoiceRecord{}, err
	}

	emb, err := cs.features.EmbedURL(ctx, img.SourceURL)
	if err != nil {
		return ChoiceRecord{}, err
	}

	originalLabel := img.Label
	if originalLabel == "" {
		originalLabel = originalLabelUnknown
	}

	rec := ChoiceRecord{
		ID:            img.ID,
		Embedding:     emb,
		Label:         label,
		OriginalID:    img.ID,
		OriginalLabel: originalLabel,
		ThumbnailURL:  img.ThumbnailURL,
		ReviewedAt:    cs.now(),
		SourceDataset: sel.Dataset,
	}
	if err := cs.upsert(ctx, rec); err != nil {
		return ChoiceRecord{}, err
	}

	slog.Info("imagepref: labeled image", "id", rec.ID, "label", label.String())
	return rec, nil
}

// RecordUpload stores a user-supplied image as a liked choice under a fresh id.
func (cs *ChoiceStore) RecordUpload(ctx context.Context, img image.Image, thumbnailURL string) (ChoiceRecord, error) {
	emb, err := cs.features.EmbedImage(ctx, img)
	if err != nil {
		return ChoiceRecord{}, err
	}

	id := "upload-" + uuid.NewString()
	rec := ChoiceRecord{
		ID:            id,
		Embedding:     emb,
		Label:         LabelLiked,
		OriginalID:    id,
		OriginalLabel: originalLabelUpload,
		ThumbnailURL:  thumbnailURL,
		ReviewedAt:    cs.now(),
		SourceDataset: DatasetUpload,
	}
	if err := cs.upsert(ctx, rec); err != nil {
		return ChoiceRecord{}, err
	}

	slog.Info("imagepref: stored upload as liked", "id", id)
	return rec, nil
}

// resolve maps a selection to the corpus image it refers to. Selections from
// the suggestion set keep the corpus id, so the prior label is looked up in
// the corpus when the image is still there.
func (cs *ChoiceStore) resolve(ctx context.Context, sel Selection) (ImageRecord, error) {
	switch sel.Dataset {
	case DatasetCorpus:
		img, err := cs.corpus.Get(ctx, sel.ID)
		if errors.Is(err, ErrNotFound) {
			return ImageRecord{}, fmt.Errorf("%w: image %q no longer exists", ErrSelection, sel.ID)
		}
		return img, err
	case DatasetSuggestions:
		doc, err := cs.suggestions.Get(ctx, sel.ID)
		if errors.Is(err, ErrNotFound) {
			return ImageRecord{}, fmt.Errorf("%w: suggestion %q no longer exists", ErrSelection, sel.ID)
		}
		if err != nil {
			return ImageRecord{}, err
		}
		sug, err := suggestionFromDocument(doc)
		if err != nil {
			return ImageRecord{}, err
		}
		img := ImageRecord{ID: sug.ID, SourceURL: sug.SourceURL, ThumbnailURL: sug.ThumbnailURL}
		if orig, err := cs.corpus.Get(ctx, sug.ID); err == nil {
			img.Label = orig.Label
		}
		return img, nil
	default:
		return ImageRecord{}, fmt.Errorf("%w: unknown dataset %q", ErrSelection, sel.Dataset)
	}
}

// upsert replaces any existing record for rec.OriginalID. Stores without
// Upsert fall back to remove and create; if the create fails the previous
// record is put back.
func (cs *ChoiceStore) upsert(ctx context.Context, rec ChoiceRecord) error {
	doc := rec.document()
	if u, ok := cs.store.(Upserter); ok {
		return u.Upsert(ctx, doc)
	}

	prev, err := cs.store.Get(ctx, rec.OriginalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prev != nil {
		if err := cs.store.Remove(ctx, rec.OriginalID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if err := cs.store.Create(ctx, doc); err != nil {
		if prev != nil {
			if rerr := cs.store.Create(context.WithoutCancel(ctx), prev); rerr != nil {
				slog.Error("imagepref: could not restore previous choice", "id", rec.OriginalID, "error", rerr.Error())
			}
		}
		return err
	}
	return nil
}

// List returns every choice in insertion order. Malformed documents are
// logged and skipped.
func (cs *ChoiceStore) List(ctx context.Context) ([]ChoiceRecord, error) {
	docs, err := cs.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChoiceRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := choiceFromDocument(doc)
		if err != nil {
			slog.Warn("imagepref: skipping malformed choice", "error", err.Error())
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of choices.
func (cs *ChoiceStore) Count(ctx context.Context) (int, error) {
	return cs.store.Count(ctx)
}

// ReviewedIDs returns the set of original ids that already carry a decision.
// It reads raw documents so that a malformed choice still counts as reviewed.
func (cs *ChoiceStore) ReviewedIDs(ctx context.Context) (map[string]struct{}, error) {
	docs, err := cs.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		id := stringField(doc, fieldOriginalID)
		if id == "" {
			id = doc.ID()
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
