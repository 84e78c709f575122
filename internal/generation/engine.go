package generation

import (
	"context"

	"github.com/kalambet/ethika/internal/engine"
)

// EngineGenerator generates text through an inference Engine (Ollama or Gemini).
type EngineGenerator struct {
	engine engine.Engine
	model  string
}

// NewEngineGenerator creates a Generator for model on e.
func NewEngineGenerator(e engine.Engine, model string) *EngineGenerator {
	return &EngineGenerator{engine: e, model: model}
}

func (g *EngineGenerator) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := g.engine.Chat(ctx, g.model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, engine.ChatOptions{MaxTokens: maxTokens})
	if err != nil {
		return "", classify(err, engine.IsRateLimited(err), 0)
	}
	return out, nil
}
