package generation

import (
	"context"

	"github.com/kalambet/ethika/internal/proxy"
)

// OpenRouter generates text through the OpenRouter chat completions API.
type OpenRouter struct {
	client *proxy.Client
	model  string
}

// NewOpenRouter creates a Generator for model using client.
func NewOpenRouter(client *proxy.Client, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model}
}

func (g *OpenRouter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := g.client.Complete(ctx, proxy.ChatRequest{
		Model:     g.model,
		Messages:  []proxy.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		if rl, ok := proxy.IsRateLimit(err); ok {
			return "", classify(err, true, rl.RetryAfter)
		}
		return "", classify(err, false, 0)
	}
	return out, nil
}
