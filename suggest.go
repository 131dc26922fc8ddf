package imagepref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Predictor scores embeddings. *Classifier satisfies it.
type Predictor interface {
	Predict(ctx context.Context, embedding []float32) (Prediction, error)
	State() ClassifierState
}

// EngineState is the state of the most recent suggestion run.
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineGenerating
	EngineReady
	EngineError
)

func (s EngineState) String() string {
	switch s {
	case EngineGenerating:
		return "generating"
	case EngineReady:
		return "ready"
	case EngineError:
		return "error"
	default:
		return "idle"
	}
}

// ValidThreshold reports whether v is a usable confidence threshold: a number
// in [0,1]. NaN is rejected.
func ValidThreshold(v float64) bool { return v >= 0 && v <= 1 }

// Report summarises one suggestion run.
type Report struct {
	Threshold float64
	Scanned   int // un-reviewed images examined
	Reviewed  int // images excluded because a choice exists
	Skipped   int // images dropped on extraction, prediction or write errors
	Suggested int
}

func (r Report) String() string {
	msg := fmt.Sprintf("Suggestions ready: %d of %d un-reviewed images above %.0f%%",
		r.Suggested, r.Scanned, r.Threshold*100)
	if r.Skipped > 0 {
		msg += fmt.Sprintf(" (%d skipped)", r.Skipped)
	}
	return msg
}

// SuggestionEngine rebuilds the suggestion set from the corpus, the choices
// and the classifier. It owns the suggestion dataset.
type SuggestionEngine struct {
	corpus      *Corpus
	choices     *ChoiceStore
	model       Predictor
	features    *Featurizer
	suggestions Store

	runMu sync.Mutex // one run at a time

	mu    sync.Mutex
	state EngineState
	last  Report
}

// NewSuggestionEngine wires a SuggestionEngine writing into suggestions.
func NewSuggestionEngine(corpus *Corpus, choices *ChoiceStore, model Predictor, features *Featurizer, suggestions Store) *SuggestionEngine {
	return &SuggestionEngine{
		corpus:      corpus,
		choices:     choices,
		model:       model,
		features:    features,
		suggestions: suggestions,
	}
}

// State returns the state of the latest run.
func (e *SuggestionEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastReport returns the report of the latest successful run.
func (e *SuggestionEngine) LastReport() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *SuggestionEngine) setState(s EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Generate clears the suggestion set and refills it with every un-reviewed
// corpus image predicted liked with confidence strictly greater than
// threshold, in corpus order. An untrained classifier refuses the run before
// anything is cleared. Per-image failures are logged and skipped.
func (e *SuggestionEngine) Generate(ctx context.Context, threshold float64) (Report, error) {
	if !ValidThreshold(threshold) {
		return Report{}, fmt.Errorf("imagepref: threshold %v outside [0,1]", threshold)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.model.State() != ClassifierTrained {
		e.setState(EngineError)
		return Report{}, ErrNotTrained
	}

	e.setState(EngineGenerating)
	report, err := e.generate(ctx, threshold)
	if err != nil {
		e.setState(EngineError)
		slog.Error("imagepref: suggestion run failed", "error", err.Error())
		return report, err
	}

	e.mu.Lock()
	e.state, e.last = EngineReady, report
	e.mu.Unlock()

	slog.Info("imagepref: suggestions generated", "suggested", report.Suggested, "scanned", report.Scanned, "skipped", report.Skipped)
	return report, nil
}

func (e *SuggestionEngine) generate(ctx context.Context, threshold float64) (Report, error) {
	report := Report{Threshold: threshold}

	if err := clearStore(ctx, e.suggestions); err != nil {
		return report, fmt.Errorf("clear suggestions: %w", err)
	}

	reviewed, err := e.choices.ReviewedIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("read choices: %w", err)
	}

	images, err := e.corpus.List(ctx)
	if err != nil {
		return report, fmt.Errorf("read corpus: %w", err)
	}

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, ok := reviewed[img.ID]; ok {
			report.Reviewed++
			continue
		}
		report.Scanned++

		emb, err := e.features.EmbedURL(ctx, img.SourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			slog.Warn("imagepref: skipping image", "id", img.ID, "url", img.SourceURL, "error", err.Error())
			report.Skipped++
			continue
		}

		pred, err := e.model.Predict(ctx, emb)
		if err != nil {
			if errors.Is(err, ErrNotTrained) || ctx.Err() != nil {
				return report, err
			}
			slog.Warn("imagepref: prediction failed", "id", img.ID, "error", err.Error())
			report.Skipped++
			continue
		}

		conf := pred.Confidences[LabelLiked]
		if pred.Label != LabelLiked || !(conf > threshold) {
			continue
		}

		sug := SuggestionRecord{
			ID:           img.ID,
			SourceURL:    img.SourceURL,
			ThumbnailURL: img.ThumbnailURL,
			Confidence:   conf,
			Label:        LabelLiked,
		}
		if err := e.suggestions.Create(ctx, sug.document()); err != nil {
			slog.Warn("imagepref: suggestion write failed", "id", img.ID, "error", err.Error())
			report.Skipped++
			continue
		}
		report.Suggested++
	}

	return report, nil
}

// List returns the current suggestion set in generation order.
func (e *SuggestionEngine) List(ctx context.Context) ([]SuggestionRecord, error) {
	docs, err := e.suggestions.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SuggestionRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := suggestionFromDocument(doc)
		if err != nil {
			slog.Warn("imagepref: skipping malformed suggestion", "error", err.Error())
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns one suggestion by image id.
func (e *SuggestionEngine) Get(ctx context.Context, id string) (SuggestionRecord, error) {
	doc, err := e.suggestions.Get(ctx, id)
	if err != nil {
		return SuggestionRecord{}, err
	}
	return suggestionFromDocument(doc)
}
