// Package rediscache implements imagepref.Cache on top of Redis so that
// embeddings survive process restarts and can be shared between curators'
// sessions pointing at the same corpus.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long cached values live when no TTL is configured.
const DefaultTTL = 7 * 24 * time.Hour

// Cache stores JSON-encoded values in Redis.
type Cache struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// New wraps client. namespace prefixes every key; ttl <= 0 uses DefaultTTL.
func New(client redis.UniversalClient, namespace string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, namespace: namespace, ttl: ttl}
}

// NewFromURL parses a redis:// URL and returns a Cache for it.
func NewFromURL(rawURL, namespace string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(opts), namespace, ttl), nil
}

// Key hashes value so arbitrary URLs make bounded, safe keys.
func (c *Cache) Key(prefix, value string) string {
	sum := sha256.Sum256([]byte(value))
	return c.namespace + ":" + prefix + ":" + hex.EncodeToString(sum[:])
}

// Get decodes the value stored at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("rediscache: get failed", "key", key, "error", err.Error())
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		slog.Debug("rediscache: decode failed", "key", key, "error", err.Error())
		return false
	}
	return true
}

// Set stores value at key. Failures are logged; caching is best effort.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Debug("rediscache: encode failed", "key", key, "error", err.Error())
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("rediscache: set failed", "key", key, "error", err.Error())
	}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
