package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// Ranker embeds query text and runs it against the store.
type Ranker struct {
	embedder Embedding
	store    Store
}

// NewRanker creates a Ranker backed by the given Embedding and Store.
func NewRanker(embedder Embedding, store Store) *Ranker {
	return &Ranker{embedder: embedder, store: store}
}

// Rank returns at most limit hits satisfying pred, ordered by descending
// score with ties broken by ascending resource id. It fails with
// ErrIndexUnavailable when nothing has been indexed yet.
func (r *Ranker) Rank(ctx context.Context, text string, pred Predicate, limit int) (SearchResult, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting indexed resources: %w", err)
	}
	if n == 0 {
		return nil, ErrIndexUnavailable
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Query(ctx, vec, limit, pred)
	if err != nil {
		return nil, fmt.Errorf("querying store: %w", err)
	}
	slog.Debug("ranked resources", "candidates", n, "hits", len(hits), "limit", limit)
	return SearchResult(hits), nil
}

// Search plans q and ranks it.
func (r *Ranker) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	text, pred, err := Plan(q)
	if err != nil {
		return nil, err
	}
	return r.Rank(ctx, text, pred, q.Limit)
}
