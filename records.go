package imagepref

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label is a curator's binary preference.
type Label string

const (
	LabelLiked    Label = "liked"
	LabelDisliked Label = "disliked"
)

// Valid reports whether l is liked or disliked.
func (l Label) Valid() bool { return l == LabelLiked || l == LabelDisliked }

func (l Label) String() string { return string(l) }

// DatasetRole names a dataset inside the backend.
type DatasetRole string

const (
	DatasetCorpus      DatasetRole = "corpus"
	DatasetChoices     DatasetRole = "choices"
	DatasetSuggestions DatasetRole = "suggestions"

	// DatasetUpload tags choices created from user-supplied images.
	DatasetUpload DatasetRole = "upload"
)

const (
	originalLabelUnknown = "unknown"
	originalLabelUpload  = "user-upload"
)

// ImageRecord is one candidate image of the corpus. Immutable after import.
type ImageRecord struct {
	ID           string
	SourceURL    string
	ThumbnailURL string
	Label        string // label shipped with the corpus, "" when absent
}

// ChoiceRecord is a curator decision. ID always equals OriginalID.
type ChoiceRecord struct {
	ID            string
	Embedding     []float32
	Label         Label
	OriginalID    string
	OriginalLabel string
	ThumbnailURL  string
	ReviewedAt    time.Time
	SourceDataset DatasetRole
}

// SuggestionRecord is an un-reviewed image predicted as liked.
type SuggestionRecord struct {
	ID           string
	SourceURL    string
	ThumbnailURL string
	Confidence   float64
	Label        Label
}

// Field names used in documents.
const (
	fieldID            = "id"
	fieldSourceURL     = "source_url"
	fieldThumbnailURL  = "thumbnail_url"
	fieldLabel         = "label"
	fieldEmbedding     = "embedding"
	fieldOriginalID    = "original_id"
	fieldOriginalLabel = "original_label"
	fieldReviewedAt    = "reviewed_at"
	fieldSourceDataset = "source_dataset"
	fieldConfidence    = "confidence"
)

func (r ImageRecord) document() Document {
	doc := Document{
		fieldID:           r.ID,
		fieldSourceURL:    r.SourceURL,
		fieldThumbnailURL: r.ThumbnailURL,
	}
	if r.Label != "" {
		doc[fieldLabel] = r.Label
	}
	return doc
}

func imageFromDocument(doc Document) (ImageRecord, error) {
	r := ImageRecord{
		ID:           doc.ID(),
		SourceURL:    stringField(doc, fieldSourceURL),
		ThumbnailURL: stringField(doc, fieldThumbnailURL),
		Label:        stringField(doc, fieldLabel),
	}
	if r.ID == "" || r.SourceURL == "" {
		return ImageRecord{}, fmt.Errorf("image document %q: missing id or source url", r.ID)
	}
	return r, nil
}

func (r ChoiceRecord) document() Document {
	return Document{
		fieldID:            r.ID,
		fieldEmbedding:     append([]float32(nil), r.Embedding...),
		fieldLabel:         string(r.Label),
		fieldOriginalID:    r.OriginalID,
		fieldOriginalLabel: r.OriginalLabel,
		fieldThumbnailURL:  r.ThumbnailURL,
		fieldReviewedAt:    r.ReviewedAt.UTC().Format(time.RFC3339Nano),
		fieldSourceDataset: string(r.SourceDataset),
	}
}

func choiceFromDocument(doc Document) (ChoiceRecord, error) {
	r := ChoiceRecord{
		ID:            doc.ID(),
		Label:         Label(stringField(doc, fieldLabel)),
		OriginalID:    stringField(doc, fieldOriginalID),
		OriginalLabel: stringField(doc, fieldOriginalLabel),
		ThumbnailURL:  stringField(doc, fieldThumbnailURL),
		SourceDataset: DatasetRole(stringField(doc, fieldSourceDataset)),
	}
	if r.OriginalID == "" {
		r.OriginalID = r.ID
	}
	if !r.Label.Valid() {
		return ChoiceRecord{}, fmt.Errorf("choice document %q: invalid label %q", r.ID, r.Label)
	}

	emb, err := embeddingFromAny(doc[fieldEmbedding])
	if err != nil {
		return ChoiceRecord{}, fmt.Errorf("choice document %q: %w", r.ID, err)
	}
	r.Embedding = emb

	switch v := doc[fieldReviewedAt].(type) {
	case time.Time:
		r.ReviewedAt = v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.ReviewedAt = t
		}
	}
	return r, nil
}

func (r SuggestionRecord) document() Document {
	return Document{
		fieldID:           r.ID,
		fieldSourceURL:    r.SourceURL,
		fieldThumbnailURL: r.ThumbnailURL,
		fieldConfidence:   r.Confidence,
		fieldLabel:        string(r.Label),
	}
}

func suggestionFromDocument(doc Document) (SuggestionRecord, error) {
	r := SuggestionRecord{
		ID:           doc.ID(),
		SourceURL:    stringField(doc, fieldSourceURL),
		ThumbnailURL: stringField(doc, fieldThumbnailURL),
		Label:        Label(stringField(doc, fieldLabel)),
	}
	conf, ok := floatFromAny(doc[fieldConfidence])
	if !ok {
		return SuggestionRecord{}, fmt.Errorf("suggestion document %q: missing confidence", r.ID)
	}
	r.Confidence = conf
	return r, nil
}

func stringField(doc Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

// embeddingFromAny accepts the shapes an embedding takes after a round trip
// through memory, JSON or a vector column.
func embeddingFromAny(v any) ([]float32, error) {
	switch val := v.(type) {
	case []float32:
		return append([]float32(nil), val...), nil
	case []float64:
		out := make([]float32, len(val))
		for i, f := range val {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(val))
		for i, e := range val {
			f, ok := floatFromAny(e)
			if !ok {
				return nil, fmt.Errorf("embedding element %d has type %T", i, e)
			}
			out[i] = float32(f)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing embedding")
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", v)
	}
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
