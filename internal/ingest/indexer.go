package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

// ResourceStore is the part of the resource store the Indexer writes to.
type ResourceStore interface {
	Upsert(ctx context.Context, resources []resource.Resource) error
	IndexedHashes(ctx context.Context, model string) (map[string]string, error)
}

// Stats summarizes one Index call.
type Stats struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// Indexer embeds and stores resources synchronously.
type Indexer struct {
	store    ResourceStore
	embedder retrieval.Embedding
	logger   *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store ResourceStore, embedder retrieval.Embedding) *Indexer {
	return &Indexer{store: store, embedder: embedder, logger: slog.Default()}
}

// Index normalizes, embeds and upserts resources. Resources whose content
// hash matches a row already embedded by the same model keep their stored
// vector and are not sent to the embedder.
func (ix *Indexer) Index(ctx context.Context, resources []resource.Resource) (Stats, error) {
	if len(resources) == 0 {
		return Stats{}, nil
	}

	model := retrieval.ModelID(ix.embedder)
	known, err := ix.store.IndexedHashes(ctx, model)
	if err != nil {
		return Stats{}, fmt.Errorf("loading indexed hashes: %w", err)
	}

	out := make([]resource.Resource, 0, len(resources))
	var pending []int
	var texts []string
	for _, r := range resources {
		n, err := resource.Normalize(r)
		if err != nil {
			return Stats{}, err
		}
		if known[n.ID] != n.ContentHash {
			pending = append(pending, len(out))
			texts = append(texts, resource.SearchableText(n))
		}
		out = append(out, n)
	}

	vectors, err := retrieval.EmbedBatch(ctx, ix.embedder, texts)
	if err != nil {
		return Stats{}, fmt.Errorf("embedding resources: %w", err)
	}
	for i, idx := range pending {
		out[idx].Vector = vectors[i]
		out[idx].EmbeddingModel = model
	}

	if err := ix.store.Upsert(ctx, out); err != nil {
		return Stats{}, fmt.Errorf("storing resources: %w", err)
	}

	stats := Stats{Embedded: len(pending), Skipped: len(out) - len(pending)}
	ix.logger.Info("indexed resources", "embedded", stats.Embedded, "skipped", stats.Skipped)
	return stats, nil
}
