package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/ethika/internal/engine"
	"golang.org/x/sync/errgroup"
)

// Embedding turns text into a vector. Implementations must be deterministic
// for identical input.
type Embedding interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedding is implemented by embeddings that schedule a whole batch
// themselves. EmbedBatch hands them the full input.
type BatchEmbedding interface {
	Embedding
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	// batchLimit bounds concurrent embedding calls.
	batchLimit = 4
	// batchSize is the number of texts per call to a batching backend.
	batchSize = 16
)

// ModelID identifies the vector space e produces: vectors from different
// model ids must not be compared. Embeddings that do not report one yield "".
func ModelID(e Embedding) string {
	if m, ok := e.(interface{ ModelID() string }); ok {
		return m.ModelID()
	}
	return ""
}

// Embedder embeds resource and query text with one model of an Engine.
type Embedder struct {
	engine engine.Engine
	batch  engine.BatchEmbedder
	model  string
}

var _ BatchEmbedding = (*Embedder)(nil)

// NewEmbedder creates an Embedder. Engines that implement
// engine.BatchEmbedder receive batchSize texts per call from EmbedMany.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	emb := &Embedder{engine: e, model: model}
	if b, ok := e.(engine.BatchEmbedder); ok {
		emb.batch = b
	}
	return emb
}

// ModelID returns the embedding model name.
func (e *Embedder) ModelID() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedMany embeds texts in input order, in chunks of batchSize when the
// engine batches and one text per call otherwise. At most batchLimit calls
// are in flight.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if e.batch == nil {
		return embedEach(ctx, e, texts)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.batch.EmbedMany(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedBatch embeds texts preserving input order. A BatchEmbedding schedules
// the work itself; anything else is called once per text with at most
// batchLimit calls in flight. Returns nil (not error) for empty input.
func EmbedBatch(ctx context.Context, e Embedding, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := e.(BatchEmbedding); ok {
		return b.EmbedMany(ctx, texts)
	}
	return embedEach(ctx, e, texts)
}

func embedEach(ctx context.Context, e Embedding, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
