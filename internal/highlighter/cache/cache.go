// Package cache stores computed document highlights in Redis. Values are
// compressed JSON (zstd by default, lz4 optional) and keys are grouped per
// document so one document's highlights can be dropped when it changes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/search-highlighter/internal/highlighter"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-highlighter/pkg/redis"
)

const keyPrefix = "highlight:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type HighlightCache struct {
	backend     Backend
	ttl         time.Duration
	compression Compression
	group       singleflight.Group
	logger      *slog.Logger
	hits        atomic.Int64
	misses      atomic.Int64
}

type Option func(*HighlightCache)

// WithCompression sets the compression of newly stored values.
func WithCompression(c Compression) Option {
	return func(hc *HighlightCache) { hc.compression = c }
}

func New(backend Backend, ttl time.Duration, opts ...Option) *HighlightCache {
	c := &HighlightCache{
		backend:     backend,
		ttl:         ttl,
		compression: CompressionZstd,
		logger:      slog.Default().With("component", "highlight-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up the highlight of docID for the normalised query.
func (c *HighlightCache) Get(ctx context.Context, docID, query string, maxPassages int) (*highlighter.Result, bool) {
	key := BuildKey(docID, query, maxPassages)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	raw, err := decode(data)
	if err != nil {
		c.logger.Error("cache decompress failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	var result highlighter.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "document_id", docID, "key", key)
	return &result, true
}

func (c *HighlightCache) Set(ctx context.Context, docID, query string, maxPassages int, result *highlighter.Result) {
	key := BuildKey(docID, query, maxPassages)
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, encode(c.compression, raw), c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached highlight or computes, stores and returns
// it. Concurrent callers for the same key share one computation.
func (c *HighlightCache) GetOrCompute(
	ctx context.Context,
	docID, query string,
	maxPassages int,
	computeFn func() (*highlighter.Result, error),
) (*highlighter.Result, bool, error) {
	if result, ok := c.Get(ctx, docID, query, maxPassages); ok {
		return result, true, nil
	}
	key := BuildKey(docID, query, maxPassages)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, docID, query, maxPassages, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*highlighter.Result), false, nil
}

// InvalidateDocument drops every cached highlight of docID.
func (c *HighlightCache) InvalidateDocument(ctx context.Context, docID string) error {
	deleted, err := c.backend.FlushByPattern(ctx, documentPrefix(docID)+"*")
	if err != nil {
		return fmt.Errorf("invalidating document %s: %w", docID, err)
	}
	c.logger.Info("document cache invalidated", "document_id", docID, "keys_deleted", deleted)
	return nil
}

// Invalidate drops every cached highlight.
func (c *HighlightCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *HighlightCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey is highlight:<doc hash>:<query hash>. query should already be
// normalised so equivalent queries share an entry.
func BuildKey(docID, query string, maxPassages int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:passages=%d", query, maxPassages)))
	return fmt.Sprintf("%s%x", documentPrefix(docID), hash[:16])
}

func documentPrefix(docID string) string {
	hash := sha256.Sum256([]byte(docID))
	return fmt.Sprintf("%s%x:", keyPrefix, hash[:8])
}
