package imagepref

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// ClassifierState is the lifecycle state of a Classifier.
type ClassifierState int

const (
	ClassifierUntrained ClassifierState = iota
	ClassifierTraining
	ClassifierTrained
	ClassifierError
)

func (s ClassifierState) String() string {
	switch s {
	case ClassifierTraining:
		return "training"
	case ClassifierTrained:
		return "trained"
	case ClassifierError:
		return "error"
	default:
		return "untrained"
	}
}

// classes fixes the output order of the network.
var classes = [2]Label{LabelDisliked, LabelLiked}

// ClassifierConfig tunes training.
// Zero values mean "use defaults": HiddenLayers [128 64], Epochs 30,
// BatchSize 8, LearningRate 0.01, Seed 1, MinExamples 6.
type ClassifierConfig struct {
	HiddenLayers []int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64
	MinExamples  int
}

func (c ClassifierConfig) withDefaults() ClassifierConfig {
	if len(c.HiddenLayers) == 0 {
		c.HiddenLayers = []int{128, 64}
	}
	if c.Epochs <= 0 {
		c.Epochs = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.01
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.MinExamples <= 0 {
		c.MinExamples = DefaultMinTrainingExamples
	}
	return c
}

// Prediction is the classifier output for one embedding.
type Prediction struct {
	Label       Label
	Confidences map[Label]float64 // sums to 1
}

// TrainReport summarises a successful training run.
type TrainReport struct {
	Examples int
	Liked    int
	Disliked int
	Loss     float64
}

func (r TrainReport) String() string {
	return fmt.Sprintf("Training complete: %d examples (%d liked, %d disliked), loss %.4f",
		r.Examples, r.Liked, r.Disliked, r.Loss)
}

// Classifier is a binary preference model. Every successful Train replaces
// the fitted network entirely.
type Classifier struct {
	cfg ClassifierConfig

	trainMu sync.Mutex // serialises Train

	mu        sync.RWMutex
	state     ClassifierState
	net       *mlp
	dim       int
	trainedAt time.Time
}

// NewClassifier returns an untrained Classifier.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// State returns the current lifecycle state.
func (c *Classifier) State() ClassifierState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TrainedAt returns when the current model was fitted, zero if never.
func (c *Classifier) TrainedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trainedAt
}

// MinExamples returns the training minimum.
func (c *Classifier) MinExamples() int { return c.cfg.MinExamples }

// Train fits a fresh network on records. Fewer than MinExamples records
// returns ErrInsufficientData without touching state. A failed fit keeps the
// previous model: the state goes back to Trained when one exists, otherwise
// to Error.
func (c *Classifier) Train(ctx context.Context, records []ChoiceRecord) (TrainReport, error) {
	if len(records) < c.cfg.MinExamples {
		return TrainReport{}, fmt.Errorf("%w: have %d examples, need at least %d",
			ErrInsufficientData, len(records), c.cfg.MinExamples)
	}

	c.trainMu.Lock()
	defer c.trainMu.Unlock()

	c.mu.Lock()
	c.state = ClassifierTraining
	c.mu.Unlock()

	report, net, dim, err := c.fit(ctx, records)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.net != nil {
			c.state = ClassifierTrained
		} else {
			c.state = ClassifierError
		}
		slog.Warn("imagepref: training failed", "examples", len(records), "error", err.Error())
		return TrainReport{}, fmt.Errorf("%w: %v", ErrTraining, err)
	}
	c.net, c.dim, c.state, c.trainedAt = net, dim, ClassifierTrained, time.Now()

	slog.Info("imagepref: classifier trained", "examples", report.Examples, "loss", report.Loss)
	return report, nil
}

func (c *Classifier) fit(ctx context.Context, records []ChoiceRecord) (TrainReport, *mlp, int, error) {
	dim := len(records[0].Embedding)
	if dim == 0 {
		return TrainReport{}, nil, 0, fmt.Errorf("choice %q has an empty embedding", records[0].ID)
	}

	report := TrainReport{Examples: len(records)}
	xs := make([][]float64, len(records))
	ys := make([]int, len(records))
	for i, r := range records {
		if len(r.Embedding) != dim {
			return TrainReport{}, nil, 0, fmt.Errorf("choice %q has embedding length %d, want %d", r.ID, len(r.Embedding), dim)
		}
		idx := slices.Index(classes[:], r.Label)
		if idx < 0 {
			return TrainReport{}, nil, 0, fmt.Errorf("choice %q has invalid label %q", r.ID, r.Label)
		}
		if r.Label == LabelLiked {
			report.Liked++
		} else {
			report.Disliked++
		}
		xs[i] = toFloat64(r.Embedding)
		ys[i] = idx
	}

	rng := rand.New(rand.NewPCG(c.cfg.Seed, c.cfg.Seed^0x9e3779b97f4a7c15))
	net := newMLP(dim, c.cfg.HiddenLayers, len(classes), rng)
	loss, err := net.fit(ctx, xs, ys, c.cfg, rng)
	if err != nil {
		return TrainReport{}, nil, 0, err
	}
	report.Loss = loss
	return report, net, dim, nil
}

// Predict scores one embedding. It returns ErrNotTrained unless a fitted
// model is available.
func (c *Classifier) Predict(ctx context.Context, embedding []float32) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	c.mu.RLock()
	net, dim, state := c.net, c.dim, c.state
	c.mu.RUnlock()

	if net == nil || state == ClassifierUntrained || state == ClassifierError {
		return Prediction{}, ErrNotTrained
	}
	if len(embedding) != dim {
		return Prediction{}, fmt.Errorf("%w: embedding length %d, want %d", ErrPrediction, len(embedding), dim)
	}

	probs := net.predict(toFloat64(embedding))
	pred := Prediction{Confidences: make(map[Label]float64, len(classes))}
	best := -1.0
	for i, label := range classes {
		pred.Confidences[label] = probs[i]
		if probs[i] > best {
			best = probs[i]
			pred.Label = label
		}
	}
	return pred, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
