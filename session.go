package imagepref

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// Session wires every component for one curator.
type Session struct {
	Config     *Config
	Corpus     *Corpus
	Choices    *ChoiceStore
	Classifier *Classifier
	Engine     *SuggestionEngine
	Importer   *Importer
	Selection  *SelectionTracker
	Features   *Featurizer

	mu        sync.Mutex
	threshold float64
}

// NewSession builds a Session from cfg. cfg.Backend defaults to a
// MemoryBackend and the default Extractor is used for embeddings.
func NewSession(cfg *Config) *Session {
	return NewSessionWith(cfg, cfg, NewExtractor(cfg.Extractor))
}

// NewSessionWith is like NewSession but takes the image loader and embedder explicitly.
func NewSessionWith(cfg *Config, loader ImageLoader, embedder Embedder) *Session {
	cfg.defaults()
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend()
	}

	corpus := NewCorpus(cfg.Backend.Dataset(string(DatasetCorpus)))
	suggestions := cfg.Backend.Dataset(string(DatasetSuggestions))
	features := NewFeaturizer(loader, embedder, cfg.Cache)
	choices := NewChoiceStore(cfg.Backend.Dataset(string(DatasetChoices)), corpus, suggestions, features)
	classifier := NewClassifier(cfg.Classifier)

	return &Session{
		Config:     cfg,
		Corpus:     corpus,
		Choices:    choices,
		Classifier: classifier,
		Engine:     NewSuggestionEngine(corpus, choices, classifier, features, suggestions),
		Importer:   NewImporter(cfg, corpus),
		Selection:  &SelectionTracker{},
		Features:   features,
		threshold:  DefaultConfidenceThreshold,
	}
}

// Threshold returns the current suggestion confidence threshold.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// SetThreshold updates the suggestion threshold; v must lie in [0,1].
func (s *Session) SetThreshold(v float64) error {
	if !ValidThreshold(v) {
		return fmt.Errorf("imagepref: threshold %v outside [0,1]", v)
	}
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
	return nil
}

// Decide labels the currently selected image.
func (s *Session) Decide(ctx context.Context, label Label) (ChoiceRecord, error) {
	return s.Choices.RecordDecision(ctx, s.Selection.Current(), label)
}

// Upload stores a user-supplied image as a liked choice.
func (s *Session) Upload(ctx context.Context, img image.Image, thumbnailURL string) (ChoiceRecord, error) {
	return s.Choices.RecordUpload(ctx, img, thumbnailURL)
}

// Train fits the classifier on every recorded choice.
func (s *Session) Train(ctx context.Context) (TrainReport, error) {
	recs, err := s.Choices.List(ctx)
	if err != nil {
		return TrainReport{}, fmt.Errorf("%w: read choices: %v", ErrTraining, err)
	}
	return s.Classifier.Train(ctx, recs)
}

// Suggest regenerates the suggestion set at the current threshold.
func (s *Session) Suggest(ctx context.Context) (Report, error) {
	return s.Engine.Generate(ctx, s.Threshold())
}
