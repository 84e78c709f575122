package generation

import (
	"context"
	"fmt"

	"github.com/kalambet/ethika/internal/engine"
	"github.com/kalambet/ethika/internal/proxy"
)

// Providers accepted by New.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
	ProviderNone       = "none"
)

// Options selects and configures a generation backend.
type Options struct {
	Provider      string
	Model         string
	APIKey        string
	OllamaBaseURL string
	OllamaModel   string
	GeminiAPIKey  string
	GeminiModel   string
	RateLimit     float64
}

// New builds the configured Generator. It returns nil, nil for ProviderNone,
// in which case prompt generation always falls back to resource synthesis.
func New(ctx context.Context, opts Options) (Generator, error) {
	var g Generator
	switch opts.Provider {
	case ProviderNone:
		return nil, nil
	case "", ProviderOpenRouter:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an api key")
		}
		g = NewOpenRouter(proxy.NewClient(opts.APIKey), opts.Model)
	case ProviderGemini:
		e, err := engine.NewGeminiEngine(ctx, opts.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("creating gemini engine: %w", err)
		}
		g = NewEngineGenerator(e, opts.GeminiModel)
	case ProviderOllama:
		g = NewEngineGenerator(engine.NewOllamaEngine(opts.OllamaBaseURL), opts.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", opts.Provider)
	}
	return NewLimited(g, opts.RateLimit), nil
}
