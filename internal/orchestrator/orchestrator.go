// Package orchestrator turns a free-text prompt into a grounded, cited
// document: it retrieves resources, builds the prompt, calls the generation
// backend under the quota retry policy and maps citations back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/ethika/internal/composer"
	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

const (
	defaultPromptLimit = 50
	defaultTopicLimit  = 15
)

// Notes attached to degraded results.
const (
	NoteLLMDisabled   = "Content generated from database resources only (LLM disabled)"
	NoteNoGenerator   = "Content generated from database resources only (no generation backend configured)"
	NoteQuotaExceeded = "LLM quota exceeded. Content generated from database resources only. Please wait a few minutes and try again for LLM-generated content."
)

// Ranker runs a planned similarity query.
type Ranker interface {
	Rank(ctx context.Context, text string, pred retrieval.Predicate, limit int) (retrieval.SearchResult, error)
}

// TopicExtractor derives sub-queries from a prompt.
type TopicExtractor interface {
	Extract(ctx context.Context, prompt string) []string
}

// Options tunes retrieval breadth, the prompt budget and retries.
type Options struct {
	PromptLimit      int
	TopicLimit       int
	MaxContextTokens int
	Policy           generation.Policy
}

// Orchestrator runs prompt generation requests.
type Orchestrator struct {
	ranker   Ranker
	topics   TopicExtractor
	gen      generation.Generator
	composer *composer.Composer
	opts     Options
}

// New creates an Orchestrator. topics and gen may be nil.
func New(ranker Ranker, topics TopicExtractor, gen generation.Generator, opts Options) *Orchestrator {
	if opts.PromptLimit <= 0 {
		opts.PromptLimit = defaultPromptLimit
	}
	if opts.TopicLimit <= 0 {
		opts.TopicLimit = defaultTopicLimit
	}
	return &Orchestrator{
		ranker:   ranker,
		topics:   topics,
		gen:      gen,
		composer: composer.New(opts.MaxContextTokens),
		opts:     opts,
	}
}

// Generate runs one request to completion. It never panics on backend
// failure; every path ends in exactly one Outcome.
func (o *Orchestrator) Generate(ctx context.Context, req Request) Outcome {
	id := uuid.NewString()
	log := slog.With("request_id", id)
	transition(log, StateReceived)

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return o.fail(log, id, fmt.Errorf("%w: prompt is empty", retrieval.ErrInvalidQuery))
	}
	if req.MaxTokens <= 0 {
		return o.fail(log, id, fmt.Errorf("%w: max_tokens must be positive, got %d", retrieval.ErrInvalidQuery, req.MaxTokens))
	}

	transition(log, StateRetrieving)
	resources, err := o.retrieve(ctx, prompt)
	if err != nil {
		return o.fail(log, id, err)
	}
	sources := composer.Number(resources)

	transition(log, StatePromptBuilt, "resources", len(sources))

	if !req.UseLLM {
		return o.degrade(log, id, prompt, sources, NoteLLMDisabled, nil)
	}
	if o.gen == nil {
		return o.degrade(log, id, prompt, sources, NoteNoGenerator, nil)
	}

	transition(log, StateGenerating)
	text, err := o.opts.Policy.Complete(ctx, o.gen, o.composer.Compose(prompt, sources), req.MaxTokens)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return o.fail(log, id, ctx.Err())
	case errors.Is(err, generation.ErrQuotaExceeded):
		return o.degrade(log, id, prompt, sources, NoteQuotaExceeded, err)
	default:
		return o.fail(log, id, fmt.Errorf("generating content: %w", err))
	}

	if strings.TrimSpace(text) == "" {
		return o.fail(log, id, &generation.UnavailableError{Err: errors.New("empty response")})
	}

	content, cited := composer.Renumber(text, len(sources))
	ordered := composer.Reorder(sources, cited)
	transition(log, StateSucceeded, "cited", len(cited))
	return Succeeded{
		RequestID: id,
		Result: Result{
			Content:          content,
			ResourcesCited:   citations(ordered),
			NumResourcesUsed: len(sources),
			LLMUsed:          true,
		},
	}
}

func (o *Orchestrator) degrade(log *slog.Logger, id, prompt string, sources []composer.Source, note string, cause error) Outcome {
	transition(log, StateDegraded, "reason", note)
	return Degraded{
		RequestID: id,
		Err:       cause,
		Result: Result{
			Content:          composer.Fallback(prompt, sources),
			ResourcesCited:   citations(sources),
			NumResourcesUsed: len(sources),
			QuotaError:       errors.Is(cause, generation.ErrQuotaExceeded),
			Note:             note,
		},
	}
}

func (o *Orchestrator) fail(log *slog.Logger, id string, err error) Outcome {
	transition(log, StateFailed, "error", err)
	return Failed{RequestID: id, Err: err}
}

func transition(log *slog.Logger, s State, args ...any) {
	log.Debug("generation state", append([]any{"state", string(s)}, args...)...)
}

// retrieve runs the broad prompt query and the topic sub-queries. An empty
// index or a failing sub-query shrinks the context instead of failing the
// request; only cancellation is returned.
func (o *Orchestrator) retrieve(ctx context.Context, prompt string) ([]resource.Resource, error) {
	var hits retrieval.SearchResult
	broad, err := o.ranker.Rank(ctx, prompt, retrieval.MatchAll, o.opts.PromptLimit)
	switch {
	case err == nil:
		hits = append(hits, broad...)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		return []resource.Resource{}, nil
	default:
		slog.Warn("prompt search failed", "error", err)
	}

	if o.topics != nil {
		for _, topic := range o.topics.Extract(ctx, prompt) {
			more, err := o.ranker.Rank(ctx, topic, retrieval.MatchAll, o.opts.TopicLimit)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("topic search failed", "topic", topic, "error", err)
				continue
			}
			hits = append(hits, more...)
		}
	}
	return dedupe(hits), nil
}

// dedupe keeps the first occurrence of each resource id, then of each
// source path, falling back to the normalized title.
func dedupe(hits retrieval.SearchResult) []resource.Resource {
	seenID := make(map[string]struct{}, len(hits))
	seenKey := make(map[string]struct{}, len(hits))
	out := make([]resource.Resource, 0, len(hits))
	for _, h := range hits {
		if _, ok := seenID[h.ResourceID]; ok {
			continue
		}
		seenID[h.ResourceID] = struct{}{}

		key := h.Resource.SourcePath
		if key == "" {
			key = "title:" + strings.ToLower(strings.Join(strings.Fields(h.Resource.Title), " "))
		}
		if key != "title:" {
			if _, ok := seenKey[key]; ok {
				continue
			}
			seenKey[key] = struct{}{}
		}
		out = append(out, h.Resource)
	}
	return out
}

func citations(sources []composer.Source) []Citation {
	out := make([]Citation, len(sources))
	for i, s := range sources {
		out[i] = Citation{
			Number:     s.Number,
			ResourceID: s.Resource.ID,
			Label:      fmt.Sprintf("[Source %d]", s.Number),
			Title:      s.Resource.Title,
			Author:     s.Resource.Author,
			URL:        s.Resource.URL,
		}
	}
	return out
}
