package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/retrieval"
)

const maxMCPLimit = 50

// NewMCPServer creates an MCP server exposing search, curriculum and
// generation tools backed by svc.
func NewMCPServer(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ethika",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("ethika: search curated AI-education resources, assemble workshop curricula and generate cited teaching material."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_resources",
			mcp.WithDescription("Semantically search the resource catalog with optional metadata filters."),
			mcp.WithString("query", mcp.Description("Natural-language search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithString("institution", mcp.Description("Only resources from this institution")),
			mcp.WithArray("target_audience", mcp.Description("Audience levels, e.g. middle_school"), mcp.WithStringItems()),
			mcp.WithArray("tags", mcp.Description("Resources must carry at least one of these tags"), mcp.WithStringItems()),
			mcp.WithString("resource_type", mcp.Description("Resource type, e.g. curriculum or video")),
		),
		mcpSearch(svc),
	)

	s.AddTool(
		mcp.NewTool("generate_curriculum",
			mcp.WithDescription("Assemble a time-boxed workshop curriculum covering the given topics."),
			mcp.WithArray("topics", mcp.Description("Topics to cover"), mcp.Required(), mcp.WithStringItems()),
			mcp.WithArray("target_audience", mcp.Description("Audience levels"), mcp.WithStringItems()),
			mcp.WithString("institution", mcp.Description("Preferred institution")),
			mcp.WithNumber("duration_hours", mcp.Description("Workshop length in hours (default 2)")),
			mcp.WithBoolean("use_advanced", mcp.Description("Also produce a detailed plan (default false)")),
		),
		mcpCurriculum(svc),
	)

	s.AddTool(
		mcp.NewTool("generate_from_prompt",
			mcp.WithDescription("Generate educational content for a prompt, citing catalog resources as [Source N]."),
			mcp.WithString("prompt", mcp.Description("What to create"), mcp.Required()),
			mcp.WithNumber("max_tokens", mcp.Description("Generation budget (default 8192)")),
			mcp.WithBoolean("use_llm", mcp.Description("Use the language model (default true)")),
		),
		mcpGenerate(svc),
	)

	s.AddTool(
		mcp.NewTool("list_resources",
			mcp.WithDescription("List resources stored in the catalog."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of resources (default 20)")),
		),
		mcpListResources(svc),
	)

	return s
}

func mcpSearch(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxMCPLimit {
			limit = maxMCPLimit
		}

		res, err := svc.Search(ctx, retrieval.SearchQuery{
			Text: query,
			Filters: retrieval.Filters{
				Institution:    req.GetString("institution", ""),
				TargetAudience: req.GetStringSlice("target_audience", nil),
				Tags:           req.GetStringSlice("tags", nil),
				Type:           req.GetString("resource_type", ""),
			},
			Limit: limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type hitSummary struct {
			ID     string   `json:"id"`
			Score  float64  `json:"score"`
			Title  string   `json:"title"`
			Author string   `json:"author"`
			URL    string   `json:"url,omitempty"`
			Tags   []string `json:"tags"`
		}
		out := make([]hitSummary, len(res))
		for i, h := range res {
			out[i] = hitSummary{
				ID:     h.ResourceID,
				Score:  h.Score,
				Title:  h.Resource.Title,
				Author: h.Resource.Author,
				URL:    h.Resource.URL,
				Tags:   h.Resource.Tags,
			}
		}
		return mcpJSON(out)
	}
}

func mcpCurriculum(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topics := req.GetStringSlice("topics", nil)
		if len(topics) == 0 {
			return mcpError("topics is required"), nil
		}

		c, err := svc.GenerateCurriculum(ctx, curriculum.Request{
			Institution:    req.GetString("institution", ""),
			TargetAudience: req.GetStringSlice("target_audience", nil),
			Topics:         topics,
			DurationHours:  req.GetFloat("duration_hours", defaultDurationHours),
		}, req.GetBool("use_advanced", false))
		if err != nil {
			return mcpError(fmt.Sprintf("curriculum failed: %v", err)), nil
		}
		return mcpJSON(c)
	}
}

func mcpGenerate(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		maxTokens := req.GetInt("max_tokens", defaultMaxTokens)
		if maxTokens <= 0 {
			return mcpError(fmt.Sprintf("max_tokens must be positive, got %d", maxTokens)), nil
		}

		out := svc.GenerateFromPrompt(ctx, orchestrator.Request{
			Prompt:    prompt,
			MaxTokens: maxTokens,
			UseLLM:    req.GetBool("use_llm", true),
		})
		switch o := out.(type) {
		case orchestrator.Succeeded:
			return mcpJSON(generateResponse{RequestID: o.RequestID, Status: string(orchestrator.StateSucceeded), Result: o.Result})
		case orchestrator.Degraded:
			return mcpJSON(generateResponse{RequestID: o.RequestID, Status: string(orchestrator.StateDegraded), Result: o.Result})
		case orchestrator.Failed:
			return mcpError(fmt.Sprintf("generation failed: %v", o.Err)), nil
		default:
			return mcpError(fmt.Sprintf("unexpected outcome %T", out)), nil
		}
	}
}

func mcpListResources(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		rs, err := svc.ListResources(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}

		type resourceSummary struct {
			ID             string   `json:"id"`
			Title          string   `json:"title"`
			Author         string   `json:"author"`
			Type           string   `json:"type,omitempty"`
			Tags           []string `json:"tags"`
			TargetAudience []string `json:"target_audience"`
		}
		out := make([]resourceSummary, len(rs))
		for i, r := range rs {
			out[i] = resourceSummary{
				ID:             r.ID,
				Title:          r.Title,
				Author:         r.Author,
				Type:           r.Type,
				Tags:           r.Tags,
				TargetAudience: r.TargetAudience,
			}
		}
		return mcpJSON(out)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
