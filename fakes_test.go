package imagepref

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

// vecImage is a 1×1 image that carries the embedding stubEmbedder returns for it.
type vecImage struct {
	image.Image
	vec []float32
}

func newVecImage(vec ...float32) vecImage {
	return vecImage{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), vec: vec}
}

// stubLoader serves images from a map and counts loads per URL.
type stubLoader struct {
	mu     sync.Mutex
	images map[string]image.Image
	calls  map[string]int
}

func newStubLoader() *stubLoader {
	return &stubLoader{images: make(map[string]image.Image), calls: make(map[string]int)}
}

func (l *stubLoader) put(url string, img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images[url] = img
}

func (l *stubLoader) Load(_ context.Context, url string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[url]++
	img, ok := l.images[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected status 404", ErrExtraction, url)
	}
	return img, nil
}

func (l *stubLoader) count(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[url]
}

// stubEmbedder returns the vector carried by a vecImage.
type stubEmbedder struct{ dim int }

func (e stubEmbedder) Embed(_ context.Context, img image.Image) ([]float32, error) {
	v, ok := img.(vecImage)
	if !ok {
		return nil, fmt.Errorf("%w: not a vecImage", ErrExtraction)
	}
	return append([]float32(nil), v.vec...), nil
}

func (e stubEmbedder) Dim() int            { return e.dim }
func (e stubEmbedder) Fingerprint() string { return "stub" }

// stubPredictor maps the first embedding component to a liked-confidence.
type stubPredictor struct {
	state ClassifierState
	liked map[float32]float64
	fail  map[float32]bool
}

func (p *stubPredictor) State() ClassifierState { return p.state }

func (p *stubPredictor) Predict(_ context.Context, emb []float32) (Prediction, error) {
	if p.state != ClassifierTrained {
		return Prediction{}, ErrNotTrained
	}
	if p.fail[emb[0]] {
		return Prediction{}, fmt.Errorf("%w: stub failure", ErrPrediction)
	}
	liked := p.liked[emb[0]]
	pred := Prediction{
		Label:       LabelDisliked,
		Confidences: map[Label]float64{LabelLiked: liked, LabelDisliked: 1 - liked},
	}
	if liked > 1-liked {
		pred.Label = LabelLiked
	}
	return pred, nil
}

// failingStore wraps a Store and fails Create for the listed ids.
type failingStore struct {
	Store
	failIDs map[string]bool
}

func (s failingStore) Create(ctx context.Context, doc Document) error {
	if s.failIDs[doc.ID()] {
		return errors.New("disk full")
	}
	return s.Store.Create(ctx, doc)
}

// flakyStore wraps a Store and fails the next failCreates calls to Create.
// It does not implement Upserter.
type flakyStore struct {
	Store
	failCreates int
}

func (s *flakyStore) Create(ctx context.Context, doc Document) error {
	if s.failCreates > 0 {
		s.failCreates--
		return errors.New("write conflict")
	}
	return s.Store.Create(ctx, doc)
}

// mapCache is a minimal Cache test double.
type mapCache struct {
	mu    sync.Mutex
	store map[string][]float32
}

func newMapCache() *mapCache { return &mapCache{store: make(map[string][]float32)} }

func (m *mapCache) Key(prefix, value string) string { return prefix + ":" + value }

func (m *mapCache) Get(_ context.Context, key string, dest any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return false
	}
	p, ok := dest.(*[]float32)
	if !ok {
		return false
	}
	*p = append([]float32(nil), v...)
	return true
}

func (m *mapCache) Set(_ context.Context, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := value.([]float32); ok {
		m.store[key] = append([]float32(nil), v...)
	}
}
