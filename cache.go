package imagepref

import (
	"context"
	"image"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is an in-process Cache bounded to a fixed number of entries.
type LRUCache struct {
	lru *lru.Cache[string, any]
}

// NewLRUCache creates an LRUCache holding up to size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: c}, nil
}

func (c *LRUCache) Key(prefix, value string) string { return prefix + ":" + value }

// Get copies the cached value into dest. Only *[]float32 and *string
// destinations are supported, which covers every value this package stores.
func (c *LRUCache) Get(_ context.Context, key string, dest any) bool {
	v, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	switch p := dest.(type) {
	case *[]float32:
		vec, ok := v.([]float32)
		if !ok {
			return false
		}
		*p = append([]float32(nil), vec...)
		return true
	case *string:
		s, ok := v.(string)
		if !ok {
			return false
		}
		*p = s
		return true
	default:
		return false
	}
}

func (c *LRUCache) Set(_ context.Context, key string, value any) {
	if vec, ok := value.([]float32); ok {
		value = append([]float32(nil), vec...)
	}
	c.lru.Add(key, value)
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int { return c.lru.Len() }

// ImageLoader fetches and decodes an image by URL.
type ImageLoader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// Featurizer loads images by URL and embeds them, caching embeddings per
// URL and extractor fingerprint.
type Featurizer struct {
	loader   ImageLoader
	embedder Embedder
	cache    Cache
}

// NewFeaturizer wires a loader and embedder. cache may be nil.
func NewFeaturizer(loader ImageLoader, embedder Embedder, cache Cache) *Featurizer {
	return &Featurizer{loader: loader, embedder: embedder, cache: cache}
}

// Dim returns the embedding length produced by the underlying embedder.
func (f *Featurizer) Dim() int { return f.embedder.Dim() }

// EmbedURL returns the embedding of the image at url.
func (f *Featurizer) EmbedURL(ctx context.Context, url string) ([]float32, error) {
	if f.cache == nil {
		return f.embedURL(ctx, url)
	}

	key := f.cache.Key("embedding:"+f.embedder.Fingerprint(), url)
	var cached []float32
	if f.cache.Get(ctx, key, &cached) && len(cached) == f.embedder.Dim() {
		return cached, nil
	}

	vec, err := f.embedURL(ctx, url)
	if err != nil {
		return nil, err
	}
	f.cache.Set(ctx, key, vec)
	return vec, nil
}

// EmbedImage embeds an already decoded image. Results are not cached.
func (f *Featurizer) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	return f.embedder.Embed(ctx, img)
}

func (f *Featurizer) embedURL(ctx context.Context, url string) ([]float32, error) {
	img, err := f.loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	vec, err := f.embedder.Embed(ctx, img)
	if err != nil {
		slog.Debug("imagepref: embed failed", "url", url, "error", err.Error())
		return nil, err
	}
	return vec, nil
}
