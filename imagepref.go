// Package imagepref learns a curator's taste from liked/disliked reference
// images and suggests un-reviewed images from a corpus that the trained model
// predicts will be liked.
package imagepref

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultConfidenceThreshold is the initial suggestion threshold.
	DefaultConfidenceThreshold = 0.7

	// DefaultMinTrainingExamples is the number of choices required before training.
	DefaultMinTrainingExamples = 6

	// DefaultStartupDelay gives the backing store time to come up before bootstrap.
	DefaultStartupDelay = time.Second

	// DefaultBaseURL is where the static corpus server listens by default.
	DefaultBaseURL = "http://localhost:8000"
)

// Cache abstracts key-value caching (Redis, LRU, etc.)
type Cache interface {
	Key(prefix, value string) string
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
}

// Config holds all dependencies injected by the consumer.
type Config struct {
	BaseURL       string        // static server hosting index.json (default: DefaultBaseURL)
	Backend       Backend       // dataset storage (nil = volatile memory backend)
	Cache         Cache         // embedding cache (nil = no caching)
	StealthClient *http.Client  // optional: TLS-fingerprinted client for downloads
	HTTPClient    *http.Client  // optional: default http client (nil = http.DefaultClient)
	UserAgent     string        // default: "Mozilla/5.0 (compatible; go-imagepref/1.0)"
	MaxImageBytes int64         // per-image download cap (default: 10MB)
	FetchTimeout  time.Duration // per-request timeout (default: 15s)

	// StartupDelay is waited once before the bootstrap fetch. Negative disables it.
	StartupDelay time.Duration

	// FetchRate caps image downloads per second. Zero means unlimited.
	FetchRate float64

	Extractor  ExtractorConfig
	Classifier ClassifierConfig

	initOnce sync.Once
	limiter  *rate.Limiter
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; go-imagepref/1.0)"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = defaultMaxBytes
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultTimeout
	}
	if c.StartupDelay == 0 {
		c.StartupDelay = DefaultStartupDelay
	}
	c.initOnce.Do(func() {
		if c.FetchRate > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(c.FetchRate), 1)
		}
	})
}

// wait blocks until the fetch limiter admits one more download.
func (c *Config) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
