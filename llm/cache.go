package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"traffic-fine-chatbot/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheConfig configures the redis embedding cache
type CacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
	// Namespace separates vectors of different embedding models
	Namespace string
}

// DefaultCacheConfig returns an enabled cache with a 24h TTL
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour,
		KeyPrefix: "emb:",
	}
}

// CachedEmbedder is a read-through redis cache in front of an Embedder.
// Redis failures never fail a call; the provider is used instead.
type CachedEmbedder struct {
	provider Embedder
	redis    redis.UniversalClient
	config   CacheConfig
	logger   *zap.Logger
}

// NewCachedEmbedder wraps provider. A nil client disables caching.
func NewCachedEmbedder(provider Embedder, client redis.UniversalClient, cfg CacheConfig, logger *zap.Logger) *CachedEmbedder {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultCacheConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		provider: provider,
		redis:    client,
		config:   cfg,
		logger:   logger,
	}
}

func (c *CachedEmbedder) enabled() bool {
	return c.config.Enabled && c.redis != nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.config.Namespace + "\x00" + text))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or computes and stores it
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled() {
		return c.provider.Embed(ctx, text)
	}

	key := c.cacheKey(text)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var embedding []float32
		if err := json.Unmarshal(data, &embedding); err == nil && len(embedding) > 0 {
			metrics.RecordCacheLookup("hit")
			return embedding, nil
		}
		c.logger.Warn("dropping corrupt cached embedding", zap.String("key", key))
		_ = c.redis.Del(ctx, key).Err()
		metrics.RecordCacheLookup("miss")
	case errors.Is(err, redis.Nil):
		metrics.RecordCacheLookup("miss")
	default:
		c.logger.Warn("redis get failed, using provider", zap.Error(err))
		metrics.RecordCacheLookup("error")
	}

	embedding, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(ctx, map[string][]float32{key: embedding})
	return embedding, nil
}

// EmbedBatch serves cached vectors and sends only the misses to the provider
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.enabled() || len(texts) == 0 {
		return c.provider.EmbedBatch(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	out := make([][]float32, len(texts))
	var missing []int

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis mget failed, using provider", zap.Error(err))
		metrics.RecordCacheLookup("error")
		values = make([]interface{}, len(texts))
	}

	for i, v := range values {
		s, ok := v.(string)
		if ok {
			var embedding []float32
			if err := json.Unmarshal([]byte(s), &embedding); err == nil && len(embedding) > 0 {
				out[i] = embedding
				metrics.RecordCacheLookup("hit")
				continue
			}
		}
		missing = append(missing, i)
		metrics.RecordCacheLookup("miss")
	}

	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}

	computed, err := c.provider.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(pending) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(pending), len(computed))
	}

	fresh := make(map[string][]float32, len(missing))
	for j, i := range missing {
		out[i] = computed[j]
		fresh[keys[i]] = computed[j]
	}
	c.store(ctx, fresh)

	c.logger.Debug("embedding batch served",
		zap.Int("total", len(texts)),
		zap.Int("computed", len(missing)),
	)
	return out, nil
}

func (c *CachedEmbedder) store(ctx context.Context, entries map[string][]float32) {
	pipe := c.redis.Pipeline()
	for key, embedding := range entries {
		data, err := json.Marshal(embedding)
		if err != nil {
			c.logger.Warn("failed to encode embedding for cache", zap.Error(err))
			continue
		}
		pipe.Set(ctx, key, data, c.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to cache embeddings", zap.Error(err))
	}
}

// Clear deletes every key under the cache prefix
func (c *CachedEmbedder) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	deleted := 0
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

var _ Embedder = (*CachedEmbedder)(nil)
