package engine

import "context"

// Engine abstracts an inference backend (Ollama or Gemini). Embedding,
// generation and topic extraction use this interface instead of depending
// on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEmbedder is implemented by backends that embed many texts per call.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	// Schema requests structured JSON output when non-nil.
	Schema *Schema
	// MaxTokens caps the response length. Zero leaves the backend default.
	MaxTokens int
	// Temperature overrides the backend's sampling temperature when set.
	Temperature *float64
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is a JSON object schema for structured chat output.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is one field of a Schema. Items describes array elements.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// PullProgress is a progress update from a local model download.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
