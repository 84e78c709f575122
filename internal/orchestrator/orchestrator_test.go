package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

// --- mock ranker ---

type mockRanker struct {
	mu     sync.Mutex
	rankFn func(ctx context.Context, text string, limit int) (retrieval.SearchResult, error)
	calls  []string
}

func (m *mockRanker) Rank(ctx context.Context, text string, _ retrieval.Predicate, limit int) (retrieval.SearchResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	return m.rankFn(ctx, text, limit)
}

// --- mock topic extractor ---

type mockTopics []string

func (m mockTopics) Extract(context.Context, string) []string { return m }

// --- mock generator ---

type mockGenerator struct {
	completeFn func(ctx context.Context, prompt string, maxTokens int) (string, error)
	prompt     string
	maxTokens  int
	calls      int
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.calls++
	m.prompt = prompt
	m.maxTokens = maxTokens
	return m.completeFn(ctx, prompt, maxTokens)
}

// --- helpers ---

func hit(id, title string, score float64) retrieval.Hit {
	return retrieval.Hit{ResourceID: id, Score: score, Resource: resource.Resource{
		ID: id, Title: title, Author: "Author " + id, Content: "content of " + title,
	}}
}

func fixedRanker(hits ...retrieval.Hit) *mockRanker {
	return &mockRanker{rankFn: func(context.Context, string, int) (retrieval.SearchResult, error) {
		return hits, nil
	}}
}

func reply(text string) *mockGenerator {
	return &mockGenerator{completeFn: func(context.Context, string, int) (string, error) { return text, nil }}
}

func fastPolicy() generation.Policy {
	return generation.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Deadline: time.Second}
}

func build(r Ranker, topics TopicExtractor, g generation.Generator) *Orchestrator {
	return New(r, topics, g, Options{Policy: fastPolicy()})
}

// --- tests ---

func TestGenerate_SucceededRenumbersCitations(t *testing.T) {
	r := fixedRanker(hit("a", "Alpha", 0.9), hit("b", "Beta", 0.8), hit("c", "Gamma", 0.7))
	g := reply("Intro [Source 3]. Then [Source 1]. Unknown [Source 7]. Again [Source 3].")

	out := build(r, nil, g).Generate(context.Background(), Request{Prompt: "teach bias", MaxTokens: 100, UseLLM: true})
	s, ok := out.(Succeeded)
	if !ok {
		t.Fatalf("outcome = %T, want Succeeded", out)
	}

	wantContent := "Intro [Source 1]. Then [Source 2]. Unknown [Source 7]. Again [Source 1]."
	if s.Result.Content != wantContent {
		t.Errorf("content = %q, want %q", s.Result.Content, wantContent)
	}
	wantIDs := []string{"c", "a", "b"}
	if len(s.Result.ResourcesCited) != len(wantIDs) {
		t.Fatalf("cited %d resources, want %d", len(s.Result.ResourcesCited), len(wantIDs))
	}
	for i, c := range s.Result.ResourcesCited {
		if c.Number != i+1 {
			t.Errorf("citation %d number = %d", i, c.Number)
		}
		if c.ResourceID != wantIDs[i] {
			t.Errorf("citation %d resource = %q, want %q", i, c.ResourceID, wantIDs[i])
		}
	}
	if !s.Result.LLMUsed || s.Result.QuotaError {
		t.Errorf("flags = llm_used %v quota_error %v", s.Result.LLMUsed, s.Result.QuotaError)
	}
	if s.Result.NumResourcesUsed != 3 {
		t.Errorf("NumResourcesUsed = %d, want 3", s.Result.NumResourcesUsed)
	}
	if g.maxTokens != 100 {
		t.Errorf("maxTokens = %d, want 100", g.maxTokens)
	}
	if !strings.Contains(g.prompt, "[Source 1]: Alpha by Author a") {
		t.Errorf("prompt missing source label:\n%s", g.prompt)
	}
	if s.RequestID == "" {
		t.Error("expected a request id")
	}
}

func TestGenerate_LLMDisabled(t *testing.T) {
	g := reply("never")
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, g).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: false})

	d, ok := out.(Degraded)
	if !ok {
		t.Fatalf("outcome = %T, want Degraded", out)
	}
	if d.Result.Note != NoteLLMDisabled {
		t.Errorf("note = %q", d.Result.Note)
	}
	if d.Result.LLMUsed || d.Result.QuotaError {
		t.Errorf("flags = llm_used %v quota_error %v", d.Result.LLMUsed, d.Result.QuotaError)
	}
	if !strings.Contains(d.Result.Content, "[Source 1] Alpha") {
		t.Errorf("fallback content missing resource:\n%s", d.Result.Content)
	}
	if g.calls != 0 {
		t.Errorf("generator called %d times, want 0", g.calls)
	}
}

func TestGenerate_QuotaDegradesScenarioD(t *testing.T) {
	g := &mockGenerator{completeFn: func(context.Context, string, int) (string, error) {
		return "", &generation.QuotaError{Err: errors.New("429")}
	}}
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, g).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 10, UseLLM: true})

	d, ok := out.(Degraded)
	if !ok {
		t.Fatalf("outcome = %T, want Degraded", out)
	}
	if !d.Result.QuotaError || d.Result.LLMUsed {
		t.Errorf("flags = llm_used %v quota_error %v", d.Result.LLMUsed, d.Result.QuotaError)
	}
	if d.Result.Content == "" {
		t.Error("expected synthesized content")
	}
	if d.Result.Note != NoteQuotaExceeded {
		t.Errorf("note = %q", d.Result.Note)
	}
	if !errors.Is(d.Err, generation.ErrQuotaExceeded) {
		t.Errorf("Err = %v, want quota error", d.Err)
	}
	if g.calls != 3 {
		t.Errorf("generator called %d times, want 3", g.calls)
	}
}

func TestGenerate_QuotaThenSuccess(t *testing.T) {
	g := &mockGenerator{}
	g.completeFn = func(context.Context, string, int) (string, error) {
		if g.calls == 1 {
			return "", &generation.QuotaError{Err: errors.New("429")}
		}
		return "ok [Source 1]", nil
	}
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, g).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: true})
	if _, ok := out.(Succeeded); !ok {
		t.Fatalf("outcome = %T, want Succeeded", out)
	}
}

func TestGenerate_UnavailableFails(t *testing.T) {
	g := &mockGenerator{completeFn: func(context.Context, string, int) (string, error) {
		return "", &generation.UnavailableError{Err: errors.New("500")}
	}}
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, g).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: true})

	f, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if !errors.Is(f.Err, generation.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", f.Err)
	}
	if g.calls != 1 {
		t.Errorf("generator called %d times, want 1", g.calls)
	}
}

func TestGenerate_EmptyResponseFails(t *testing.T) {
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, reply("   ")).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: true})
	f, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if !errors.Is(f.Err, generation.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", f.Err)
	}
}

func TestGenerate_CallerCancellationFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &mockGenerator{completeFn: func(ctx context.Context, _ string, _ int) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, g).Generate(ctx, Request{Prompt: "p", MaxTokens: 100, UseLLM: true})

	f, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if !errors.Is(f.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", f.Err)
	}
}

func TestGenerate_InvalidRequest(t *testing.T) {
	o := build(fixedRanker(), nil, reply("x"))
	for _, req := range []Request{{Prompt: "  ", MaxTokens: 10}, {Prompt: "p", MaxTokens: -1}, {Prompt: "p", UseLLM: true}} {
		f, ok := o.Generate(context.Background(), req).(Failed)
		if !ok {
			t.Fatalf("request %+v: expected Failed", req)
		}
		if !errors.Is(f.Err, retrieval.ErrInvalidQuery) {
			t.Errorf("request %+v: Err = %v, want ErrInvalidQuery", req, f.Err)
		}
	}
}

func TestGenerate_EmptyIndexStillGenerates(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, int) (retrieval.SearchResult, error) {
		return nil, retrieval.ErrIndexUnavailable
	}}
	g := reply("generic text")
	out := build(r, mockTopics{"bias"}, g).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: true})

	s, ok := out.(Succeeded)
	if !ok {
		t.Fatalf("outcome = %T, want Succeeded", out)
	}
	if s.Result.NumResourcesUsed != 0 || len(s.Result.ResourcesCited) != 0 {
		t.Errorf("expected no resources, got %+v", s.Result)
	}
	if s.Result.ResourcesCited == nil {
		t.Error("ResourcesCited must be an empty slice, not nil")
	}
}

func TestGenerate_NoGenerator(t *testing.T) {
	out := build(fixedRanker(hit("a", "Alpha", 0.9)), nil, nil).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 100, UseLLM: true})
	d, ok := out.(Degraded)
	if !ok {
		t.Fatalf("outcome = %T, want Degraded", out)
	}
	if d.Result.Note != NoteNoGenerator || d.Result.QuotaError {
		t.Errorf("unexpected result %+v", d.Result)
	}
}

func TestRetrieve_TopicsAndDedupe(t *testing.T) {
	r := &mockRanker{rankFn: func(_ context.Context, text string, limit int) (retrieval.SearchResult, error) {
		switch text {
		case "broad prompt":
			if limit != defaultPromptLimit {
				t.Errorf("broad limit = %d, want %d", limit, defaultPromptLimit)
			}
			return retrieval.SearchResult{hit("a", "Alpha", 0.9), hit("b", "Beta", 0.8)}, nil
		case "bias":
			if limit != defaultTopicLimit {
				t.Errorf("topic limit = %d, want %d", limit, defaultTopicLimit)
			}
			dup := hit("b2", "  beta ", 0.7)
			return retrieval.SearchResult{hit("a", "Alpha", 0.9), dup, hit("c", "Gamma", 0.6)}, nil
		default:
			return nil, errors.New("sub-query failure")
		}
	}}
	o := build(r, mockTopics{"bias", "broken"}, nil)

	got, err := o.retrieve(context.Background(), "broad prompt")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	var ids []string
	for _, res := range got {
		ids = append(ids, res.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v, want [a b c]", ids)
	}
	if len(r.calls) != 3 {
		t.Errorf("rank calls = %v, want 3", r.calls)
	}
}

func TestDedupe_SourcePath(t *testing.T) {
	h1 := hit("x", "One", 0.9)
	h1.Resource.SourcePath = "docs/a.md"
	h2 := hit("y", "Two", 0.8)
	h2.Resource.SourcePath = "docs/a.md"

	got := dedupe(retrieval.SearchResult{h1, h2})
	if len(got) != 1 || got[0].ID != "x" {
		t.Errorf("dedupe = %+v, want only x", got)
	}
}
