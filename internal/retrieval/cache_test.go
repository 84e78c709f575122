package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = value.([]byte)
	f.lastTTL = ttl
	return redis.NewStatusResult("OK", nil)
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func TestCachedEmbedder_HitAfterMiss(t *testing.T) {
	rdb := newFakeRedis()
	next := &countingEmbedder{}
	c := NewCachedEmbedder(next, rdb, "nomic-embed-text", time.Hour)
	ctx := context.Background()

	first, err := c.Embed(ctx, "ethics")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "ethics")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, time.Hour, rdb.lastTTL)
	assert.Len(t, rdb.data, 1)
}

func TestCachedEmbedder_NamespacesDoNotCollide(t *testing.T) {
	rdb := newFakeRedis()
	next := &countingEmbedder{}
	ctx := context.Background()

	_, err := NewCachedEmbedder(next, rdb, "model-a", time.Minute).Embed(ctx, "bias")
	require.NoError(t, err)
	_, err = NewCachedEmbedder(next, rdb, "model-b", time.Minute).Embed(ctx, "bias")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
	assert.Len(t, rdb.data, 2)
}

func TestCachedEmbedder_RedisDownFallsThrough(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	rdb.setErr = errors.New("connection refused")
	next := &countingEmbedder{}

	vec, err := NewCachedEmbedder(next, rdb, "m", time.Minute).Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0.5}, vec)
	assert.Equal(t, 1, next.calls)
}

func TestCachedEmbedder_PropagatesEmbedError(t *testing.T) {
	next := &countingEmbedder{err: errors.New("model unavailable")}
	_, err := NewCachedEmbedder(next, newFakeRedis(), "m", time.Minute).Embed(context.Background(), "abc")
	require.Error(t, err)
}

func TestCachedEmbedder_BatchesMissesOnly(t *testing.T) {
	eng := &batchEngine{}
	c := NewCachedEmbedder(NewEmbedder(eng, "nomic-embed-text"), newFakeRedis(), "ollama:nomic-embed-text", time.Hour)
	ctx := context.Background()

	texts := make([]string, batchSize+4)
	for i := range texts {
		texts[i] = strings.Repeat("y", i+1)
	}
	vecs, err := EmbedBatch(ctx, c, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(2), atomic.LoadInt32(&eng.calls), "misses go out in batches")

	vecs, err = EmbedBatch(ctx, c, append(texts, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&eng.calls), "only the new text is embedded")
	for i, v := range vecs {
		want := len("fresh")
		if i < len(texts) {
			want = i + 1
		}
		assert.Equal(t, float32(want), v[0], "vecs[%d]", i)
	}
}

func TestCachedEmbedder_ModelID(t *testing.T) {
	c := NewCachedEmbedder(NewHashEmbedder(64), newFakeRedis(), "hash", time.Hour)
	assert.Equal(t, "hash-64", ModelID(c))
	assert.Equal(t, "nomic-embed-text", ModelID(NewEmbedder(&mockEngine{}, "nomic-embed-text")))
	assert.Equal(t, "", ModelID(&countingEmbedder{}))
}
