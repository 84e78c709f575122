// Package api exposes the engine over HTTP (chi) and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kalambet/ethika/internal/catalog"
	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/ingest"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
	"github.com/kalambet/ethika/internal/storage"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxResourceBodySize = 10 << 20 // 10MB

const (
	defaultSearchLimit   = 10
	defaultDurationHours = 2
	defaultMaxTokens     = 8192
)

// Service is the engine surface the API serves.
type Service interface {
	Search(ctx context.Context, q retrieval.SearchQuery) (retrieval.SearchResult, error)
	GenerateCurriculum(ctx context.Context, req curriculum.Request, useAdvanced bool) (curriculum.Curriculum, error)
	GenerateFromPrompt(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
	ListResources(ctx context.Context, limit int) ([]resource.Resource, error)
	Stats(ctx context.Context) (total, indexed int, err error)
}

// History persists generation responses.
type History interface {
	SaveGeneration(ctx context.Context, g storage.Generation) error
	GetGeneration(ctx context.Context, id string) (storage.Generation, error)
	ListGenerations(ctx context.Context, limit int) ([]storage.Generation, error)
}

// ResourceWriter stores resources submitted through the API.
type ResourceWriter interface {
	Upsert(ctx context.Context, resources []resource.Resource) error
}

type Deps struct {
	Service      Service
	History      History
	Resources    ResourceWriter
	Jobs         ingest.JobEnqueuer
	Token        string   // bearer token; empty disables auth
	CORSOrigins  []string // allowed browser origins
	DefaultLimit int      // search limit when the request omits one
}

// NewHandler returns the HTTP API. Every /api route except /api/health
// requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultLimit <= 0 {
		deps.DefaultLimit = defaultSearchLimit
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/api/search", handleSearch(deps))
		r.Post("/api/curriculum", handleCurriculum(deps))
		r.Post("/api/generate-from-prompt", handleGenerate(deps))
		r.Get("/api/resources", handleListResources(deps))
		r.Post("/api/resources", handleUpsertResource(deps))
		r.Get("/api/history", handleListHistory(deps))
		r.Get("/api/history/{id}", handleGetHistory(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, _, err := deps.Service.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, errAPI, "counting resources: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "resources": total})
	}
}

type searchRequest struct {
	Query          string     `json:"query"`
	Limit          *int       `json:"limit"`
	Institution    string     `json:"institution"`
	TargetAudience stringList `json:"target_audience"`
	Tags           stringList `json:"tags"`
	ResourceType   string     `json:"resource_type"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		limit := deps.DefaultLimit
		if req.Limit != nil {
			limit = *req.Limit
		}
		res, err := deps.Service.Search(r.Context(), retrieval.SearchQuery{
			Text: req.Query,
			Filters: retrieval.Filters{
				Institution:    req.Institution,
				TargetAudience: req.TargetAudience,
				Tags:           req.Tags,
				Type:           req.ResourceType,
			},
			Limit: limit,
		})
		if err != nil {
			serviceError(w, "searching resources", err)
			return
		}
		writeJSON(w, map[string]any{"results": res})
	}
}

type curriculumRequest struct {
	Institution        string     `json:"institution"`
	TargetAudience     stringList `json:"target_audience"`
	Topics             stringList `json:"topics"`
	DurationHours      *float64   `json:"duration_hours"`
	PreferredTypes     stringList `json:"preferred_types"`
	LearningObjectives stringList `json:"learning_objectives"`
	InstitutionContext string     `json:"institution_context"`
	UseAdvanced        *bool      `json:"use_advanced"`
}

func handleCurriculum(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body curriculumRequest
		if !decodeBody(w, r, maxRequestBodySize, &body) {
			return
		}

		req := curriculum.Request{
			Institution:        body.Institution,
			TargetAudience:     body.TargetAudience,
			Topics:             body.Topics,
			DurationHours:      defaultDurationHours,
			PreferredTypes:     body.PreferredTypes,
			LearningObjectives: body.LearningObjectives,
			InstitutionContext: body.InstitutionContext,
		}
		if body.DurationHours != nil {
			req.DurationHours = *body.DurationHours
		}
		advanced := body.UseAdvanced == nil || *body.UseAdvanced

		c, err := deps.Service.GenerateCurriculum(r.Context(), req, advanced)
		if err != nil {
			serviceError(w, "generating curriculum", err)
			return
		}
		saveHistory(r.Context(), deps.History, storage.KindCurriculum, req, c, "succeeded")
		writeJSON(w, c)
	}
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens *int   `json:"max_tokens"`
	UseLLM    *bool  `json:"use_llm"`
}

type generateResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	orchestrator.Result
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body generateRequest
		if !decodeBody(w, r, maxRequestBodySize, &body) {
			return
		}

		req := orchestrator.Request{
			Prompt:    body.Prompt,
			MaxTokens: defaultMaxTokens,
			UseLLM:    body.UseLLM == nil || *body.UseLLM,
		}
		if body.MaxTokens != nil {
			if *body.MaxTokens <= 0 {
				httpError(w, http.StatusBadRequest, errInvalidRequest, "max_tokens must be positive, got %d", *body.MaxTokens)
				return
			}
			req.MaxTokens = *body.MaxTokens
		}

		switch o := deps.Service.GenerateFromPrompt(r.Context(), req).(type) {
		case orchestrator.Succeeded:
			resp := generateResponse{RequestID: o.RequestID, Status: string(orchestrator.StateSucceeded), Result: o.Result}
			saveHistory(r.Context(), deps.History, storage.KindPrompt, req, resp, resp.Status)
			writeJSON(w, resp)
		case orchestrator.Degraded:
			resp := generateResponse{RequestID: o.RequestID, Status: string(orchestrator.StateDegraded), Result: o.Result}
			saveHistory(r.Context(), deps.History, storage.KindPrompt, req, resp, resp.Status)
			writeJSON(w, resp)
		case orchestrator.Failed:
			saveHistory(r.Context(), deps.History, storage.KindPrompt, req, map[string]string{
				"request_id": o.RequestID,
				"error":      o.Err.Error(),
			}, string(orchestrator.StateFailed))
			serviceError(w, "generating content", o.Err)
		}
	}
}

func handleListResources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 1000)
		rs, err := deps.Service.ListResources(r.Context(), limit)
		if err != nil {
			serviceError(w, "listing resources", err)
			return
		}
		if rs == nil {
			rs = []resource.Resource{}
		}
		writeJSON(w, map[string]any{"resources": rs, "count": len(rs)})
	}
}

func handleUpsertResource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in resource.Resource
		if !decodeBody(w, r, maxResourceBodySize, &in) {
			return
		}
		if in.ID == "" {
			in.ID = catalog.StableID(in)
		}

		res, err := resource.Normalize(in)
		if err != nil {
			serviceError(w, "validating resource", err)
			return
		}
		if err := deps.Resources.Upsert(r.Context(), []resource.Resource{res}); err != nil {
			serviceError(w, "storing resource", err)
			return
		}
		if err := ingest.EnqueueEmbedding(deps.Jobs, res.ID); err != nil {
			serviceError(w, "queueing embedding", err)
			return
		}

		writeJSON(w, map[string]string{
			"id":     res.ID,
			"status": "queued",
		})
	}
}

type historyEntry struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

func toHistoryEntry(g storage.Generation) historyEntry {
	return historyEntry{
		ID:        g.ID,
		Kind:      g.Kind,
		Status:    g.Status,
		Request:   rawOrNull(g.RequestJSON),
		Result:    rawOrNull(g.ResultJSON),
		CreatedAt: g.CreatedAt,
	}
}

func rawOrNull(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		gens, err := deps.History.ListGenerations(r.Context(), limit)
		if err != nil {
			serviceError(w, "listing history", err)
			return
		}
		entries := make([]historyEntry, 0, len(gens))
		for _, g := range gens {
			entries = append(entries, toHistoryEntry(g))
		}
		writeJSON(w, map[string]any{"history": entries, "count": len(entries)})
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := deps.History.GetGeneration(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, errNotFound, "history entry not found")
			return
		}
		if err != nil {
			serviceError(w, "loading history", err)
			return
		}
		writeJSON(w, toHistoryEntry(g))
	}
}

// saveHistory records a served generation. Failures are logged, never
// surfaced to the client.
func saveHistory(ctx context.Context, h History, kind string, req, result any, status string) {
	if h == nil {
		return
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		slog.Warn("encoding history request", "error", err)
		return
	}
	resJSON, err := json.Marshal(result)
	if err != nil {
		slog.Warn("encoding history result", "error", err)
		return
	}
	g := storage.Generation{
		ID:          uuid.New().String(),
		Kind:        kind,
		RequestJSON: string(reqJSON),
		ResultJSON:  string(resJSON),
		Status:      status,
	}
	if err := h.SaveGeneration(context.WithoutCancel(ctx), g); err != nil {
		slog.Warn("saving history", "kind", kind, "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*l = nil
		} else {
			*l = stringList{s}
		}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	*l = arr
	return nil
}
