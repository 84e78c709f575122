package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
	"github.com/kalambet/ethika/internal/storage"
)

// --- mocks ---

type mockService struct {
	mu sync.Mutex

	hits      retrieval.SearchResult
	searchErr error
	lastQuery retrieval.SearchQuery

	curriculum    curriculum.Curriculum
	curriculumErr error
	lastCurReq    curriculum.Request
	lastAdvanced  bool

	outcome    orchestrator.Outcome
	lastPrompt orchestrator.Request

	resources []resource.Resource
	statsErr  error
}

func (m *mockService) Search(_ context.Context, q retrieval.SearchQuery) (retrieval.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	return m.hits, m.searchErr
}

func (m *mockService) GenerateCurriculum(_ context.Context, req curriculum.Request, useAdvanced bool) (curriculum.Curriculum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCurReq = req
	m.lastAdvanced = useAdvanced
	return m.curriculum, m.curriculumErr
}

func (m *mockService) GenerateFromPrompt(_ context.Context, req orchestrator.Request) orchestrator.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrompt = req
	if m.outcome == nil {
		return orchestrator.Succeeded{RequestID: "req-1", Result: orchestrator.Result{Content: "ok", LLMUsed: true}}
	}
	return m.outcome
}

func (m *mockService) ListResources(_ context.Context, limit int) ([]resource.Resource, error) {
	if limit > 0 && limit < len(m.resources) {
		return m.resources[:limit], nil
	}
	return m.resources, nil
}

func (m *mockService) Stats(context.Context) (int, int, error) {
	return len(m.resources), len(m.resources), m.statsErr
}

type mockResourceWriter struct {
	mu       sync.Mutex
	upserted []resource.Resource
}

func (m *mockResourceWriter) Upsert(_ context.Context, rs []resource.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, rs...)
	return nil
}

// --- helpers ---

type testServer struct {
	handler   http.Handler
	svc       *mockService
	store     *storage.Store
	resources *mockResourceWriter
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := &mockService{}
	rw := &mockResourceWriter{}
	h := NewHandler(Deps{
		Service:     svc,
		History:     store,
		Resources:   rw,
		Jobs:        store,
		Token:       token,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return &testServer{handler: h, svc: svc, store: store, resources: rw}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeJSON(t, w, &env)
	return env.Error.Type
}

// --- tests ---

func TestHealth_NoAuthRequired(t *testing.T) {
	s := newTestServer(t, "secret")
	s.svc.resources = []resource.Resource{{ID: "a"}, {ID: "b"}}

	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	decodeJSON(t, w, &body)
	if body["status"] != "ok" || body["resources"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHealth_StoreFailure(t *testing.T) {
	s := newTestServer(t, "")
	s.svc.statsErr = errors.New("disk gone")

	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := s.do(t, http.MethodGet, "/api/resources", "", headers)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && errorType(t, w) != errAuthentication {
				t.Fatalf("error type = %q", errorType(t, w))
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSearch_DefaultsAndFilters(t *testing.T) {
	s := newTestServer(t, "")
	s.svc.hits = retrieval.SearchResult{{ResourceID: "r1", Score: 0.9, Resource: resource.Resource{ID: "r1", Title: "Robots"}}}

	w := s.do(t, http.MethodPost, "/api/search",
		`{"query":"robots","target_audience":"elementary","tags":["robotics","ai"],"resource_type":"video"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	q := s.svc.lastQuery
	if q.Limit != defaultSearchLimit {
		t.Errorf("limit = %d, want %d", q.Limit, defaultSearchLimit)
	}
	if len(q.Filters.TargetAudience) != 1 || q.Filters.TargetAudience[0] != "elementary" {
		t.Errorf("target_audience = %v", q.Filters.TargetAudience)
	}
	if len(q.Filters.Tags) != 2 || q.Filters.Type != "video" {
		t.Errorf("filters = %+v", q.Filters)
	}

	var body struct {
		Results []retrieval.Hit `json:"results"`
	}
	decodeJSON(t, w, &body)
	if len(body.Results) != 1 || body.Results[0].ResourceID != "r1" {
		t.Fatalf("results = %+v", body.Results)
	}
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"invalid query", fmt.Errorf("%w: empty", retrieval.ErrInvalidQuery), http.StatusBadRequest, errInvalidRequest},
		{"empty index", retrieval.ErrIndexUnavailable, http.StatusServiceUnavailable, errIndexUnavailable},
		{"stale index", fmt.Errorf("querying store: %w", retrieval.ErrStaleIndex), http.StatusServiceUnavailable, errIndexStale},
		{"generation", fmt.Errorf("wrap: %w", generation.ErrUnavailable), http.StatusBadGateway, errGeneration},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, errAPI},
		{"other", errors.New("boom"), http.StatusInternalServerError, errAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			s.svc.searchErr = tt.err
			w := s.do(t, http.MethodPost, "/api/search", `{"query":"x"}`, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := errorType(t, w); got != tt.wantType {
				t.Fatalf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestSearch_MalformedBody(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/search", `{"query":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCurriculum_DefaultsAndHistory(t *testing.T) {
	s := newTestServer(t, "")
	s.svc.curriculum = curriculum.Curriculum{Topics: []string{"ethics"}, DurationHours: 2}

	w := s.do(t, http.MethodPost, "/api/curriculum", `{"topics":"ethics","target_audience":["middle_school"]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if s.svc.lastCurReq.DurationHours != defaultDurationHours {
		t.Errorf("duration = %v, want %v", s.svc.lastCurReq.DurationHours, defaultDurationHours)
	}
	if !s.svc.lastAdvanced {
		t.Error("use_advanced should default to true")
	}

	gens, err := s.store.ListGenerations(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(gens) != 1 || gens[0].Kind != storage.KindCurriculum || gens[0].Status != "succeeded" {
		t.Fatalf("history = %+v", gens)
	}
}

func TestCurriculum_InvalidRequest(t *testing.T) {
	s := newTestServer(t, "")
	s.svc.curriculumErr = fmt.Errorf("%w: no topics", curriculum.ErrInvalidRequest)

	w := s.do(t, http.MethodPost, "/api/curriculum", `{"duration_hours":1,"use_advanced":false}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if s.svc.lastAdvanced {
		t.Error("explicit use_advanced=false was ignored")
	}
}

func TestGenerate_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    orchestrator.Outcome
		wantCode   int
		wantStatus string
	}{
		{
			name:       "succeeded",
			outcome:    orchestrator.Succeeded{RequestID: "r1", Result: orchestrator.Result{Content: "doc [Source 1]", LLMUsed: true}},
			wantCode:   http.StatusOK,
			wantStatus: "succeeded",
		},
		{
			name:       "degraded",
			outcome:    orchestrator.Degraded{RequestID: "r2", Result: orchestrator.Result{Content: "fallback", QuotaError: true}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "failed",
			outcome:    orchestrator.Failed{RequestID: "r3", Err: fmt.Errorf("calling model: %w", generation.ErrUnavailable)},
			wantCode:   http.StatusBadGateway,
			wantStatus: "failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			s.svc.outcome = tt.outcome

			w := s.do(t, http.MethodPost, "/api/generate-from-prompt", `{"prompt":"teach bias"}`, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusOK {
				var resp generateResponse
				decodeJSON(t, w, &resp)
				if resp.Status != tt.wantStatus || resp.Content == "" {
					t.Fatalf("response = %+v", resp)
				}
			}

			gens, err := s.store.ListGenerations(context.Background(), 10)
			if err != nil {
				t.Fatalf("listing history: %v", err)
			}
			if len(gens) != 1 || gens[0].Status != tt.wantStatus {
				t.Fatalf("history = %+v", gens)
			}
		})
	}
}

func TestGenerate_Defaults(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/api/generate-from-prompt", `{"prompt":"x"}`, nil)
	if s.svc.lastPrompt.MaxTokens != defaultMaxTokens || !s.svc.lastPrompt.UseLLM {
		t.Fatalf("request = %+v", s.svc.lastPrompt)
	}

	s.do(t, http.MethodPost, "/api/generate-from-prompt", `{"prompt":"x","max_tokens":100,"use_llm":false}`, nil)
	if s.svc.lastPrompt.MaxTokens != 100 || s.svc.lastPrompt.UseLLM {
		t.Fatalf("request = %+v", s.svc.lastPrompt)
	}
}

func TestGenerate_RejectsNonPositiveMaxTokens(t *testing.T) {
	for _, body := range []string{`{"prompt":"x","max_tokens":0}`, `{"prompt":"x","max_tokens":-5}`} {
		s := newTestServer(t, "")
		w := s.do(t, http.MethodPost, "/api/generate-from-prompt", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, w.Code)
		}
		if got := errorType(t, w); got != errInvalidRequest {
			t.Fatalf("%s: error type = %q", body, got)
		}
		if s.svc.lastPrompt.Prompt != "" {
			t.Fatalf("%s: service should not be called, got %+v", body, s.svc.lastPrompt)
		}
	}
}

func TestResources_List(t *testing.T) {
	s := newTestServer(t, "")
	s.svc.resources = []resource.Resource{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	w := s.do(t, http.MethodGet, "/api/resources?limit=2", "", nil)
	var body struct {
		Resources []resource.Resource `json:"resources"`
		Count     int                 `json:"count"`
	}
	decodeJSON(t, w, &body)
	if body.Count != 2 || len(body.Resources) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestResources_UpsertQueuesEmbedding(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/api/resources",
		`{"title":"Robot Friends","tags":["Robotics"],"content":"Elementary activities about robots."}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	decodeJSON(t, w, &body)
	if body["status"] != "queued" || body["id"] == "" {
		t.Fatalf("body = %v", body)
	}

	if len(s.resources.upserted) != 1 {
		t.Fatalf("upserted %d resources, want 1", len(s.resources.upserted))
	}
	got := s.resources.upserted[0]
	if got.ID != body["id"] || got.ContentHash == "" || got.Tags[0] != "robotics" {
		t.Fatalf("stored resource = %+v", got)
	}

	counts, err := s.store.JobCounts(context.Background())
	if err != nil {
		t.Fatalf("job counts: %v", err)
	}
	if counts["pending"] != 1 {
		t.Fatalf("pending jobs = %d, want 1", counts["pending"])
	}
}

func TestResources_UpsertInvalid(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/resources", `{"author":"nobody"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(s.resources.upserted) != 0 {
		t.Fatal("invalid resource was stored")
	}
}

func TestHistory_ListAndGet(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/api/generate-from-prompt", `{"prompt":"x"}`, nil)

	w := s.do(t, http.MethodGet, "/api/history", "", nil)
	var list struct {
		History []historyEntry `json:"history"`
		Count   int            `json:"count"`
	}
	decodeJSON(t, w, &list)
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}
	entry := list.History[0]
	if !strings.Contains(string(entry.Request), `"prompt":"x"`) {
		t.Fatalf("request = %s", entry.Request)
	}

	w = s.do(t, http.MethodGet, "/api/history/"+entry.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/history/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
