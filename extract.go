package imagepref

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

// phashBits is the width of the perceptual hash section of an embedding.
const phashBits = 64

// ExtractorConfig tunes the default feature extractor.
// Zero values mean "use defaults": GridSize 8, HistogramBins 16, SampleSize 64.
type ExtractorConfig struct {
	GridSize      int // side of the RGB thumbnail section
	HistogramBins int // bins per RGB channel
	SampleSize    int // side of the resampled image the histogram is computed on
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.GridSize <= 0 {
		c.GridSize = 8
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = 16
	}
	if c.HistogramBins > 256 {
		c.HistogramBins = 256
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 64
	}
	return c
}

// Embedder turns a decoded image into a fixed-length feature vector.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	Dim() int
	Fingerprint() string
}

// Extractor is the default Embedder. The embedding concatenates three
// sections, each L2-normalised before the whole vector is normalised:
//   - 64 pHash bits mapped to ±1
//   - per-channel RGB histograms
//   - a GridSize×GridSize RGB thumbnail
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor returns an Extractor for cfg.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Dim returns the embedding length.
func (e *Extractor) Dim() int {
	return phashBits + 3*e.cfg.HistogramBins + 3*e.cfg.GridSize*e.cfg.GridSize
}

// Fingerprint identifies the extractor configuration; embeddings from
// different fingerprints are not comparable.
func (e *Extractor) Fingerprint() string {
	return fmt.Sprintf("phash%d-hist%d-grid%d-sample%d",
		phashBits, e.cfg.HistogramBins, e.cfg.GridSize, e.cfg.SampleSize)
}

// Embed computes the embedding of img.
func (e *Extractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrExtraction)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrExtraction, b.Dx(), b.Dy())
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("%w: perceptual hash: %v", ErrExtraction, err)
	}

	vec := make([]float32, 0, e.Dim())
	vec = append(vec, hashSection(hash.GetHash())...)
	vec = append(vec, e.histogramSection(img)...)
	vec = append(vec, e.gridSection(img)...)
	normalizeL2(vec)

	return vec, nil
}

func hashSection(bits uint64) []float32 {
	out := make([]float32, phashBits)
	for i := range phashBits {
		if bits>>(phashBits-1-i)&1 == 1 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	normalizeL2(out)
	return out
}

func (e *Extractor) histogramSection(img image.Image) []float32 {
	bins := e.cfg.HistogramBins
	sample := imaging.Resize(img, e.cfg.SampleSize, e.cfg.SampleSize, imaging.Box)

	out := make([]float32, 3*bins)
	for i := 0; i+3 < len(sample.Pix); i += 4 {
		for ch := range 3 {
			bin := int(sample.Pix[i+ch]) * bins / 256
			out[ch*bins+bin]++
		}
	}
	normalizeL2(out)
	return out
}

func (e *Extractor) gridSection(img image.Image) []float32 {
	n := e.cfg.GridSize
	grid := imaging.Resize(img, n, n, imaging.Linear)

	out := make([]float32, 0, 3*n*n)
	for i := 0; i+3 < len(grid.Pix); i += 4 {
		out = append(out,
			float32(grid.Pix[i])/255,
			float32(grid.Pix[i+1])/255,
			float32(grid.Pix[i+2])/255,
		)
	}
	normalizeL2(out)
	return out
}

// normalizeL2 scales vector to unit length in place. All-zero vectors are left untouched.
func normalizeL2(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}
