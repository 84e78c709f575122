package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKV is the subset of redis.Cmdable used by CachedEmbedder.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder memoizes another Embedding in Redis, keyed by namespace and
// a digest of the text. Cache failures are logged and bypassed.
type CachedEmbedder struct {
	next      Embedding
	rdb       redisKV
	namespace string
	ttl       time.Duration
}

// NewCachedEmbedder wraps next. namespace should identify the embedding model
// so vectors of different models never mix.
func NewCachedEmbedder(next Embedding, rdb redisKV, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, rdb: rdb, namespace: namespace, ttl: ttl}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "ethika:emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

var _ BatchEmbedding = (*CachedEmbedder)(nil)

// ModelID reports the model id of the wrapped embedding.
func (c *CachedEmbedder) ModelID() string { return ModelID(c.next) }

// lookup returns the cached vector for key, or nil on a miss.
func (c *CachedEmbedder) lookup(ctx context.Context, key string) []float32 {
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, decErr := decodeFloat32s(b); decErr == nil && len(vec) > 0 {
			return vec
		}
		slog.Warn("discarding malformed cached embedding", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.Warn("embedding cache read failed", "error", err)
	}
	return nil
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	if err := c.rdb.Set(ctx, key, encodeFloat32s(vec), c.ttl).Err(); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
}

// EmbedMany serves cached texts from Redis and sends only the misses to the
// wrapped embedding through EmbedBatch, so a batching backend keeps batching.
func (c *CachedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec := c.lookup(ctx, keys[i]); vec != nil {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := EmbedBatch(ctx, c.next, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.store(ctx, keys[i], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec := c.lookup(ctx, key); vec != nil {
		return vec, nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}
