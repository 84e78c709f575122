package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/intent"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
	"github.com/kalambet/ethika/internal/storage"
)

type quotaGenerator struct{}

func (quotaGenerator) Complete(context.Context, string, int) (string, error) {
	return "", &generation.QuotaError{Err: errors.New("429 RESOURCE_EXHAUSTED")}
}

func newEngine(t *testing.T, gen generation.Generator, rs ...resource.Resource) (*Engine, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	store := retrieval.NewSQLiteStore(st.DB())
	emb := retrieval.NewHashEmbedder(256)
	ctx := context.Background()
	for i := range rs {
		n, err := resource.Normalize(rs[i])
		require.NoError(t, err)
		n.Vector, err = emb.Embed(ctx, resource.SearchableText(n))
		require.NoError(t, err)
		rs[i] = n
	}
	if len(rs) > 0 {
		require.NoError(t, store.Upsert(ctx, rs))
	}

	ranker := retrieval.NewRanker(emb, store)
	policy := generation.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, Deadline: time.Second}
	curricula := curriculum.NewGenerator(ranker, gen, curriculum.Options{Schedule: curriculum.DefaultScheduleOptions(), Policy: policy})
	prompts := orchestrator.New(ranker, intent.NewExtractor(nil, ""), gen, orchestrator.Options{Policy: policy})
	return New(ranker, store, curricula, prompts), sr
}

func catalog() []resource.Resource {
	return []resource.Resource{
		{ID: "ml-elem", Title: "Teachable Machine for Kids", Tags: []string{"machine learning"}, TargetAudience: []string{"elementary"},
			Content: "Machine learning activities where elementary students train image classifiers."},
		{ID: "robots-elem", Title: "Robot Friends", Tags: []string{"robotics"}, TargetAudience: []string{"elementary"},
			Content: "Elementary activities about robots and sensors."},
		{ID: "ml-hs", Title: "Neural Networks from Scratch", Tags: []string{"machine learning"}, TargetAudience: []string{"high_school"},
			Content: "High school students implement machine learning models in Python."},
		{ID: "mit-ethics", Title: "Ethics of Everyday AI", Institution: "MIT", Tags: []string{"ethics"}, TargetAudience: []string{"middle_school"},
			Content: "Middle school students discuss the ethics of everyday AI tools."},
		{ID: "bias-ms", Title: "Algorithmic Bias Detectives", Tags: []string{"bias"}, TargetAudience: []string{"middle_school"},
			Content: "Middle school students investigate bias in recommendation systems."},
	}
}

func TestScenarioA_SearchWithAudienceFilter(t *testing.T) {
	e, sr := newEngine(t, nil, catalog()...)

	res, err := e.Search(context.Background(), retrieval.SearchQuery{
		Text:    "machine learning activities for elementary students",
		Filters: retrieval.Filters{TargetAudience: []string{"elementary"}},
		Limit:   5,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res), 5)
	require.NotEmpty(t, res)
	for _, h := range res {
		assert.Contains(t, h.Resource.TargetAudience, "elementary")
	}

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, "Engine.Search", spans[len(spans)-1].Name())
}

func TestScenarioB_Curriculum(t *testing.T) {
	e, _ := newEngine(t, nil, catalog()...)

	c, err := e.GenerateCurriculum(context.Background(), curriculum.Request{
		Institution:    "MIT",
		TargetAudience: []string{"middle_school"},
		Topics:         []string{"ethics", "bias"},
		DurationHours:  3,
	}, false)
	require.NoError(t, err)

	var total float64
	for _, b := range c.Schedule {
		total += b.DurationMinutes
	}
	assert.LessOrEqual(t, total, 180.0)

	var tags []string
	for _, r := range c.Resources {
		tags = append(tags, r.Tags...)
	}
	assert.Contains(t, tags, "ethics")
	assert.Contains(t, tags, "bias")
}

func TestScenarioC_EmptyStore(t *testing.T) {
	e, sr := newEngine(t, nil)

	_, err := e.Search(context.Background(), retrieval.SearchQuery{Text: "anything", Limit: 5})
	require.ErrorIs(t, err, retrieval.ErrIndexUnavailable)

	c, err := e.GenerateCurriculum(context.Background(), curriculum.Request{
		TargetAudience: []string{"middle_school"},
		Topics:         []string{"ethics"},
		DurationHours:  2,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, c.Resources)
	assert.Empty(t, c.Schedule)

	var failed bool
	for _, s := range sr.Ended() {
		if s.Name() == "Engine.Search" && s.Status().Code == codes.Error {
			failed = true
		}
	}
	assert.True(t, failed, "search span should record the error")
}

func TestScenarioD_QuotaDegrades(t *testing.T) {
	e, _ := newEngine(t, quotaGenerator{}, catalog()...)

	out := e.GenerateFromPrompt(context.Background(), orchestrator.Request{
		Prompt:    "Create a workshop on machine learning for elementary students",
		MaxTokens: 512,
		UseLLM:    true,
	})
	d, ok := out.(orchestrator.Degraded)
	require.True(t, ok, "outcome = %T, want Degraded", out)
	assert.True(t, d.Result.QuotaError)
	assert.False(t, d.Result.LLMUsed)
	assert.NotEmpty(t, d.Result.Content)
	assert.NotEmpty(t, d.Result.ResourcesCited)
}

func TestListResourcesAndStats(t *testing.T) {
	e, _ := newEngine(t, nil, catalog()...)

	rs, err := e.ListResources(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, rs, 2)

	all, err := e.ListResources(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	total, indexed, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, indexed)
}
