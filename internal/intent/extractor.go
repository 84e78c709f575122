package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/ethika/internal/engine"
)

const (
	extractionTimeout = 3 * time.Second

	// MaxTopics caps the number of sub-queries derived from one prompt.
	MaxTopics = 10
)

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

// Topics is the structured extraction result for a prompt.
type Topics struct {
	Topics []string `json:"topics"`
}

// Extractor derives search topics from a free-text generation prompt. With a
// chat engine configured it asks the model first; without one, or on any
// model failure, it falls back to lexical heuristics.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor. client may be nil.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract returns at most MaxTopics unique topics for prompt. It never
// fails; an empty prompt yields no topics.
func (e *Extractor) Extract(ctx context.Context, prompt string) []string {
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	if e != nil && e.client != nil {
		if topics := e.extractLLM(ctx, prompt); len(topics) > 0 {
			return topics
		}
	}
	return Heuristic(prompt)
}

func (e *Extractor) extractLLM(ctx context.Context, prompt string) []string {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	zero := 0.0
	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(prompt), engine.ChatOptions{
		Schema:      topicsSchema(),
		Temperature: &zero,
	})
	if err != nil {
		slog.Warn("topic extraction chat failed", "error", err)
		return nil
	}

	var result Topics
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("failed to unmarshal topics from LLM response", "error", err, "response", raw)
		return nil
	}
	return unique(result.Topics, 3)
}

// topicsSchema returns the JSON schema for structured topic output.
func topicsSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"topics": {
				Type:        "array",
				Description: "Short search phrases naming the subjects the request covers",
				Items:       &engine.SchemaProperty{Type: "string"},
			},
		},
		Required: []string{"topics"},
	}
}

// unique trims, drops entries shorter than minLen, dedups case-insensitively
// keeping first occurrence and caps the result at MaxTopics.
func unique(values []string, minLen int) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len([]rune(v)) < minLen {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}
