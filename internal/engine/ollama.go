package engine

import (
	"context"

	"github.com/kalambet/ethika/internal/ollama"
)

var (
	_ Engine        = (*OllamaEngine)(nil)
	_ ModelManager  = (*OllamaEngine)(nil)
	_ BatchEmbedder = (*OllamaEngine)(nil)
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	return e.client.Chat(ctx, model, msgs, ollama.ChatOptions{
		Format:      toOllamaSchema(opts.Schema),
		NumPredict:  opts.MaxTokens,
		Temperature: opts.Temperature,
	})
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toOllamaProperty(v)
		}
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{Type: p.Type, Description: p.Description}
	if p.Items != nil {
		items := toOllamaProperty(*p.Items)
		out.Items = &items
	}
	return out
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.EmbedMany(ctx, model, texts)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
