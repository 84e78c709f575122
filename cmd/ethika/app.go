package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/ethika/internal/config"
	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/engine"
	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/intent"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/retrieval"
	"github.com/kalambet/ethika/internal/service"
	"github.com/kalambet/ethika/internal/storage"
)

// app holds the components shared by serve and index.
type app struct {
	cfg       config.Config
	store     *storage.Store
	resources *retrieval.SQLiteStore
	embedder  retrieval.Embedding
	chat      intent.Chatter
	chatModel string
	closers   []func() error
}

// openApp opens storage and the embedding backend. Readiness output from
// the local inference engine goes to progress.
func openApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{
		cfg:       cfg,
		store:     store,
		resources: retrieval.NewSQLiteStore(store.DB()),
		closers:   []func() error{store.Close},
	}

	if err := a.openEmbedder(ctx, progress); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openEmbedder(ctx context.Context, progress io.Writer) error {
	cfg := a.cfg

	var model string
	switch cfg.Embedding.Provider {
	case "hash":
		a.embedder = retrieval.NewHashEmbedder(cfg.Embedding.Dimensions)
		slog.Warn("using hash embeddings; search quality is lexical only")
		return nil
	case engine.ProviderGemini:
		model = cfg.Gemini.EmbedModel
		a.chatModel = cfg.Gemini.Model
	default:
		model = cfg.Embedding.Model
		a.chatModel = cfg.Ollama.ChatModel
	}

	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:      cfg.Embedding.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		GeminiAPIKey:  cfg.Gemini.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	ready, err := engine.Prepare(ctx, eng, progress, a.chatModel, model)
	if err != nil {
		if errors.Is(err, engine.ErrUnreachable) {
			return fmt.Errorf("%s backend: %w", cfg.Embedding.Provider, err)
		}
		return err
	}
	for _, m := range ready.Pulled {
		slog.Info("model downloaded", "model", m)
	}
	a.chat = eng

	var emb retrieval.Embedding = retrieval.NewEmbedder(eng, model)
	if cfg.Embedding.CacheRedisAddr != "" {
		rdb, err := retrieval.NewRedisClient(ctx, cfg.Embedding.CacheRedisAddr)
		if err != nil {
			slog.Warn("embedding cache disabled", "addr", cfg.Embedding.CacheRedisAddr, "error", err)
		} else {
			a.closers = append(a.closers, rdb.Close)
			emb = retrieval.NewCachedEmbedder(emb, rdb, cfg.Embedding.Provider+":"+model, cfg.Embedding.CacheTTL)
			slog.Info("embedding cache enabled", "addr", cfg.Embedding.CacheRedisAddr)
		}
	}
	a.embedder = emb
	return nil
}

// generator builds the configured generation backend. A backend that
// cannot be built leaves generation disabled; prompt requests then degrade
// to resource synthesis.
func (a *app) generator(ctx context.Context) generation.Generator {
	cfg := a.cfg
	gen, err := generation.New(ctx, generation.Options{
		Provider:      cfg.Generation.Provider,
		Model:         cfg.Generation.Model,
		APIKey:        cfg.Generation.APIKey,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.ChatModel,
		GeminiAPIKey:  cfg.Gemini.APIKey,
		GeminiModel:   cfg.Gemini.Model,
		RateLimit:     cfg.Generation.RateLimit,
	})
	if err != nil {
		slog.Warn("generation disabled", "provider", cfg.Generation.Provider, "error", err)
		return nil
	}
	if gen == nil {
		slog.Info("generation disabled by configuration")
	}
	return gen
}

// newService assembles the search, curriculum and prompt services.
func (a *app) newService(ctx context.Context) *service.Engine {
	cfg := a.cfg
	gen := a.generator(ctx)
	policy := generation.Policy{
		MaxAttempts:    cfg.Generation.MaxAttempts,
		InitialBackoff: cfg.Generation.InitialBackoff,
		Deadline:       cfg.Generation.Deadline,
	}

	ranker := retrieval.NewRanker(a.embedder, a.resources)
	curricula := curriculum.NewGenerator(ranker, gen, curriculum.Options{
		MaxResources:      cfg.Curriculum.MaxResources,
		ResourcesPerTopic: cfg.Curriculum.ResourcesPerTopic,
		Schedule: curriculum.ScheduleOptions{
			MinBlockMinutes: cfg.Curriculum.MinBlockMinutes,
			MaxBlockMinutes: cfg.Curriculum.MaxBlockMinutes,
		},
		Policy: policy,
	})

	topics := intent.NewExtractor(a.chat, a.chatModel)
	prompts := orchestrator.New(ranker, topics, gen, orchestrator.Options{
		PromptLimit: cfg.Retrieval.PromptLimit,
		Policy:      policy,
	})

	return service.New(ranker, a.resources, curricula, prompts)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing", "error", err)
		}
	}
}
