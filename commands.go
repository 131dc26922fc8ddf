package imagepref

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Command is one curator action processed by a Dispatcher. Execute returns
// the human-readable status line for the action.
type Command interface {
	Name() string
	Execute(ctx context.Context, s *Session) (string, error)
}

// ImportCommand bootstraps the corpus from the static server.
type ImportCommand struct{}

func (ImportCommand) Name() string { return "import" }

func (ImportCommand) Execute(ctx context.Context, s *Session) (string, error) {
	report, err := s.Importer.Import(ctx)
	if err != nil {
		return "Import failed", err
	}
	return report.String(), nil
}

// SelectCommand changes the current selection.
type SelectCommand struct {
	Dataset DatasetRole
	ID      string
}

func (SelectCommand) Name() string { return "select" }

func (c SelectCommand) Execute(_ context.Context, s *Session) (string, error) {
	sel, err := s.Selection.Select(c.Dataset, c.ID)
	if err != nil {
		return "Selection unchanged", err
	}
	return fmt.Sprintf("Selected %s from %s", sel.ID, sel.Dataset), nil
}

// DecideCommand labels the current selection.
type DecideCommand struct {
	Label Label
}

func (DecideCommand) Name() string { return "decide" }

func (c DecideCommand) Execute(ctx context.Context, s *Session) (string, error) {
	rec, err := s.Decide(ctx, c.Label)
	if errors.Is(err, ErrSelection) {
		return "Select an image first", err
	}
	if err != nil {
		return "Could not record decision", err
	}
	return fmt.Sprintf("Labeled %s as %s", rec.OriginalID, rec.Label), nil
}

// UploadCommand stores a user-supplied image as liked.
type UploadCommand struct {
	Image        image.Image
	ThumbnailURL string
}

func (UploadCommand) Name() string { return "upload" }

func (c UploadCommand) Execute(ctx context.Context, s *Session) (string, error) {
	rec, err := s.Upload(ctx, c.Image, c.ThumbnailURL)
	if err != nil {
		return "Upload failed", err
	}
	return fmt.Sprintf("Stored uploaded image as liked (%s)", rec.ID), nil
}

// TrainCommand fits the classifier.
type TrainCommand struct{}

func (TrainCommand) Name() string { return "train" }

func (TrainCommand) Execute(ctx context.Context, s *Session) (string, error) {
	report, err := s.Train(ctx)
	if errors.Is(err, ErrInsufficientData) {
		return fmt.Sprintf("Need ≥%d examples to train", s.Classifier.MinExamples()), err
	}
	if err != nil {
		return "Training failed", err
	}
	return report.String(), nil
}

// SuggestCommand regenerates the suggestion set.
type SuggestCommand struct{}

func (SuggestCommand) Name() string { return "suggest" }

func (SuggestCommand) Execute(ctx context.Context, s *Session) (string, error) {
	report, err := s.Suggest(ctx)
	if errors.Is(err, ErrNotTrained) {
		return "Train the model before generating suggestions", err
	}
	if err != nil {
		return "Suggestion generation failed", err
	}
	return report.String(), nil
}

// SetThresholdCommand moves the confidence threshold.
type SetThresholdCommand struct {
	Value float64
}

func (SetThresholdCommand) Name() string { return "threshold" }

func (c SetThresholdCommand) Execute(_ context.Context, s *Session) (string, error) {
	if err := s.SetThreshold(c.Value); err != nil {
		return "Threshold unchanged", err
	}
	return fmt.Sprintf("Confidence threshold set to %.0f%%", c.Value*100), nil
}

// ListCommand describes the contents of one dataset.
type ListCommand struct {
	Dataset DatasetRole
}

func (ListCommand) Name() string { return "list" }

func (c ListCommand) Execute(ctx context.Context, s *Session) (string, error) {
	var b strings.Builder
	switch c.Dataset {
	case DatasetCorpus:
		imgs, err := s.Corpus.List(ctx)
		if err != nil {
			return "Could not read corpus", err
		}
		fmt.Fprintf(&b, "%d images", len(imgs))
		for _, img := range imgs {
			fmt.Fprintf(&b, "\n  %s  %s  %s", img.ID, img.Label, img.SourceURL)
		}
	case DatasetChoices:
		recs, err := s.Choices.List(ctx)
		if err != nil {
			return "Could not read choices", err
		}
		fmt.Fprintf(&b, "%d choices", len(recs))
		for _, r := range recs {
			fmt.Fprintf(&b, "\n  %s  %s  (was %s)", r.OriginalID, r.Label, r.OriginalLabel)
		}
	case DatasetSuggestions:
		recs, err := s.Engine.List(ctx)
		if err != nil {
			return "Could not read suggestions", err
		}
		fmt.Fprintf(&b, "%d suggestions", len(recs))
		for _, r := range recs {
			fmt.Fprintf(&b, "\n  %s  %.0f%%  %s", r.ID, r.Confidence*100, r.SourceURL)
		}
	default:
		return "Unknown dataset", fmt.Errorf("imagepref: unknown dataset %q", c.Dataset)
	}
	return b.String(), nil
}

// StatusCommand summarises the session.
type StatusCommand struct{}

func (StatusCommand) Name() string { return "status" }

func (StatusCommand) Execute(ctx context.Context, s *Session) (string, error) {
	images, err := s.Corpus.Count(ctx)
	if err != nil {
		return "Could not read corpus", err
	}
	choices, err := s.Choices.Count(ctx)
	if err != nil {
		return "Could not read choices", err
	}
	sel := s.Selection.Current()
	selected := "none"
	if !sel.IsZero() {
		selected = fmt.Sprintf("%s/%s", sel.Dataset, sel.ID)
	}
	return fmt.Sprintf("Model status: %s | suggestions: %s | images: %d | choices: %d | threshold: %.0f%% | selected: %s",
		s.Classifier.State(), s.Engine.State(), images, choices, s.Threshold()*100, selected), nil
}
