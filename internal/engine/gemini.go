package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var (
	_ Engine        = (*GeminiEngine)(nil)
	_ BatchEmbedder = (*GeminiEngine)(nil)
)

// geminiModels is the subset of *genai.Models used by GeminiEngine.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEngine talks to the Gemini API through the genai SDK.
type GeminiEngine struct {
	models geminiModels
}

// NewGeminiEngine creates a GeminiEngine authenticated with apiKey.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiEngine{models: client.Models}, nil
}

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), "")
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		config.Temperature = &t
	}
	if opts.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(opts.Schema)
	}

	resp, err := e.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in one EmbedContent call, one content per text.
func (e *GeminiEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := e.models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini returned no embedding for input %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// IsRunning reports whether a client is configured. The hosted API has no
// cheap health probe.
func (e *GeminiEngine) IsRunning(_ context.Context) bool {
	return e.models != nil
}

var genaiTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"array":   genai.TypeArray,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
}

func toGenaiSchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genaiTypes[s.Type],
		Required:   s.Required,
		Properties: make(map[string]*genai.Schema, len(s.Properties)),
	}
	for k, v := range s.Properties {
		out.Properties[k] = toGenaiProperty(v)
	}
	return out
}

func toGenaiProperty(p SchemaProperty) *genai.Schema {
	out := &genai.Schema{Type: genaiTypes[p.Type], Description: p.Description}
	if p.Items != nil {
		out.Items = toGenaiProperty(*p.Items)
	}
	return out
}
