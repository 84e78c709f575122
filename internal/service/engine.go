// Package service is the single entry point the API, MCP and CLI layers use
// to search resources, assemble curricula and generate documents.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

const tracerName = "github.com/kalambet/ethika/internal/service"

// Searcher plans and ranks a search query.
type Searcher interface {
	Search(ctx context.Context, q retrieval.SearchQuery) (retrieval.SearchResult, error)
}

// Catalog lists stored resources.
type Catalog interface {
	ListAll(ctx context.Context, limit int) ([]resource.Resource, error)
	Count(ctx context.Context) (int, error)
	Total(ctx context.Context) (int, error)
}

// CurriculumGenerator assembles curricula.
type CurriculumGenerator interface {
	Generate(ctx context.Context, req curriculum.Request, advanced bool) (curriculum.Curriculum, error)
}

// PromptGenerator runs prompt generation requests.
type PromptGenerator interface {
	Generate(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
}

// Engine exposes the retrieval and assembly operations.
type Engine struct {
	searcher     Searcher
	catalog      Catalog
	curricula    CurriculumGenerator
	orchestrator PromptGenerator
	tracer       trace.Tracer
}

// New creates an Engine from its collaborators.
func New(searcher Searcher, catalog Catalog, curricula CurriculumGenerator, prompts PromptGenerator) *Engine {
	return &Engine{
		searcher:     searcher,
		catalog:      catalog,
		curricula:    curricula,
		orchestrator: prompts,
		tracer:       otel.Tracer(tracerName),
	}
}

// Search returns ranked resources for q.
func (e *Engine) Search(ctx context.Context, q retrieval.SearchQuery) (retrieval.SearchResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Search", trace.WithAttributes(
		attribute.Int("search.limit", q.Limit),
	))
	defer span.End()

	res, err := e.searcher.Search(ctx, q)
	if err != nil {
		record(span, err)
		return nil, err
	}
	if res == nil {
		res = retrieval.SearchResult{}
	}
	span.SetAttributes(attribute.Int("search.hits", len(res)))
	return res, nil
}

// GenerateCurriculum assembles a curriculum, with a detailed plan when
// useAdvanced is set.
func (e *Engine) GenerateCurriculum(ctx context.Context, req curriculum.Request, useAdvanced bool) (curriculum.Curriculum, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GenerateCurriculum", trace.WithAttributes(
		attribute.StringSlice("curriculum.topics", req.Topics),
		attribute.Float64("curriculum.duration_hours", req.DurationHours),
		attribute.Bool("curriculum.advanced", useAdvanced),
	))
	defer span.End()

	c, err := e.curricula.Generate(ctx, req, useAdvanced)
	if err != nil {
		record(span, err)
		return curriculum.Curriculum{}, err
	}
	span.SetAttributes(attribute.Int("curriculum.resources", len(c.Resources)))
	return c, nil
}

// GenerateFromPrompt generates a cited document for a free-text prompt.
func (e *Engine) GenerateFromPrompt(ctx context.Context, req orchestrator.Request) orchestrator.Outcome {
	ctx, span := e.tracer.Start(ctx, "Engine.GenerateFromPrompt", trace.WithAttributes(
		attribute.Bool("generation.use_llm", req.UseLLM),
		attribute.Int("generation.max_tokens", req.MaxTokens),
	))
	defer span.End()

	out := e.orchestrator.Generate(ctx, req)
	switch o := out.(type) {
	case orchestrator.Succeeded:
		span.SetAttributes(attribute.String("generation.outcome", "succeeded"), attribute.String("generation.request_id", o.RequestID))
	case orchestrator.Degraded:
		span.SetAttributes(attribute.String("generation.outcome", "degraded"), attribute.Bool("generation.quota_error", o.Result.QuotaError))
	case orchestrator.Failed:
		span.SetAttributes(attribute.String("generation.outcome", "failed"))
		record(span, o.Err)
	}
	return out
}

// ListResources returns up to limit stored resources; a non-positive limit
// returns all of them.
func (e *Engine) ListResources(ctx context.Context, limit int) ([]resource.Resource, error) {
	rs, err := e.catalog.ListAll(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return rs, nil
}

// Stats reports how many resources are stored and how many of them carry
// an embedding.
func (e *Engine) Stats(ctx context.Context) (total, indexed int, err error) {
	total, err = e.catalog.Total(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("counting resources: %w", err)
	}
	indexed, err = e.catalog.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("counting indexed resources: %w", err)
	}
	return total, indexed, nil
}

func record(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
