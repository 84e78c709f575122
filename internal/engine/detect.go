package engine

import (
	"context"
	"fmt"
)

// Providers accepted by Detect.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	GeminiAPIKey  string
}

// Detect returns the Engine for the configured provider. An empty provider
// selects Ollama.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderGemini:
		e, err := NewGeminiEngine(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
