package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ethika/internal/catalog"
	"github.com/kalambet/ethika/internal/config"
	"github.com/kalambet/ethika/internal/curriculum"
	"github.com/kalambet/ethika/internal/ingest"
	"github.com/kalambet/ethika/internal/logging"
	"github.com/kalambet/ethika/internal/orchestrator"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <catalog>",
	Short: "Load a resource catalog and embed new or changed resources",
	Long: `Load a YAML or JSON resource catalog into the local index.

Resources whose content is unchanged since the last run keep their
embeddings; the rest are embedded and stored.

Examples:
  ethika index ./resources.yaml
  ethika index ./catalog.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logging.Setup(cfg.Log.Format, cfg.Log.Level, os.Stderr); err != nil {
			return err
		}

		printStep("Loading %s", args[0])
		res, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		if res.Duplicates > 0 {
			printWarning("Skipped %d duplicate entries", res.Duplicates)
		}

		a, err := openApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Indexing %d resources", len(res.Resources))
		start := time.Now()
		stats, err := ingest.NewIndexer(a.resources, a.embedder).Index(ctx, res.Resources)
		if err != nil {
			return err
		}

		printSuccess("Indexed %d resources (%d embedded, %d unchanged) in %s",
			stats.Embedded+stats.Skipped, stats.Embedded, stats.Skipped, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the resource catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		institution, _ := cmd.Flags().GetString("institution")
		audience, _ := cmd.Flags().GetStringSlice("audience")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		resourceType, _ := cmd.Flags().GetString("type")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"query": strings.Join(args, " "),
			"limit": limit,
		}
		if institution != "" {
			req["institution"] = institution
		}
		if len(audience) > 0 {
			req["target_audience"] = audience
		}
		if len(tags) > 0 {
			req["tags"] = tags
		}
		if resourceType != "" {
			req["resource_type"] = resourceType
		}

		resp, err := client.post(cmd.Context(), "/api/search", req)
		if err != nil {
			return err
		}
		var body struct {
			Results retrieval.SearchResult `json:"results"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		if asJSON {
			return printJSON(body.Results)
		}

		if len(body.Results) == 0 {
			fmt.Fprintln(stdout, "No results found.")
			return nil
		}
		for i, h := range body.Results {
			r := h.Resource
			fmt.Fprintf(stdout, "\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, r.Title)), h.Score)
			if r.Author != "" {
				fmt.Fprintf(stdout, "  By: %s\n", r.Author)
			}
			if len(r.TargetAudience) > 0 {
				fmt.Fprintf(stdout, "  Audience: %s\n", strings.Join(r.TargetAudience, ", "))
			}
			if len(r.Tags) > 0 {
				fmt.Fprintf(stdout, "  Tags: %s\n", strings.Join(r.Tags, ", "))
			}
			if r.URL != "" {
				fmt.Fprintf(stdout, "  %s\n", colorize(colorCyan, r.URL))
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("institution", "", "only resources from this institution")
	searchCmd.Flags().StringSlice("audience", nil, "target audience levels (comma-separated)")
	searchCmd.Flags().StringSlice("tags", nil, "resources must carry one of these tags")
	searchCmd.Flags().String("type", "", "resource type")
	searchCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- curriculum ---

var curriculumCmd = &cobra.Command{
	Use:   "curriculum",
	Short: "Assemble a workshop curriculum",
	Long: `Assemble a time-boxed workshop curriculum from the resource catalog.

Examples:
  ethika curriculum --topics ethics,bias --audience middle_school --hours 3
  ethika curriculum --topics "machine learning" --institution MIT --advanced`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topics")
		audience, _ := cmd.Flags().GetStringSlice("audience")
		institution, _ := cmd.Flags().GetString("institution")
		hours, _ := cmd.Flags().GetFloat64("hours")
		advanced, _ := cmd.Flags().GetBool("advanced")
		asJSON, _ := cmd.Flags().GetBool("json")

		if len(topics) == 0 {
			return fmt.Errorf("--topics is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/curriculum", map[string]any{
			"institution":     institution,
			"target_audience": audience,
			"topics":          topics,
			"duration_hours":  hours,
			"use_advanced":    advanced,
		})
		if err != nil {
			return err
		}
		var c curriculum.Curriculum
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		if asJSON {
			return printJSON(c)
		}
		printCurriculum(c)
		return nil
	},
}

func init() {
	curriculumCmd.Flags().StringSlice("topics", nil, "topics to cover (comma-separated)")
	curriculumCmd.Flags().StringSlice("audience", nil, "target audience levels (comma-separated)")
	curriculumCmd.Flags().String("institution", "", "preferred institution")
	curriculumCmd.Flags().Float64("hours", 2, "workshop length in hours")
	curriculumCmd.Flags().Bool("advanced", false, "also generate a detailed plan")
	curriculumCmd.Flags().Bool("json", false, "print raw JSON")
}

func printCurriculum(c curriculum.Curriculum) {
	fmt.Fprintf(stdout, "%s %s (%g h)\n", colorize(colorBold, "Workshop:"), strings.Join(c.Topics, ", "), c.DurationHours)
	if len(c.Schedule) == 0 {
		fmt.Fprintln(stdout, "No matching resources found.")
		return
	}
	for _, b := range c.Schedule {
		fmt.Fprintf(stdout, "  %s  %5.1f min  %s\n", clock(b.StartOffsetMinutes), b.DurationMinutes, b.Title)
	}

	if p := c.Detailed; p != nil {
		fmt.Fprintf(stdout, "\n%s\n%s\n", colorize(colorBold, "Overview"), p.Overview)
		if len(p.LearningObjectives) > 0 {
			fmt.Fprintf(stdout, "\n%s\n", colorize(colorBold, "Learning objectives"))
			for _, o := range p.LearningObjectives {
				fmt.Fprintf(stdout, "  - %s\n", o)
			}
		}
	}
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate cited teaching material from a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		noLLM, _ := cmd.Flags().GetBool("no-llm")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/generate-from-prompt", map[string]any{
			"prompt":     strings.Join(args, " "),
			"max_tokens": maxTokens,
			"use_llm":    !noLLM,
		})
		if err != nil {
			return err
		}
		var out struct {
			RequestID string `json:"request_id"`
			Status    string `json:"status"`
			orchestrator.Result
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if asJSON {
			return printJSON(out)
		}

		if out.Status == string(orchestrator.StateDegraded) {
			if out.QuotaError {
				printWarning("Model quota exhausted; showing content assembled from resources")
			} else {
				printWarning("Generation unavailable; showing content assembled from resources")
			}
		}
		fmt.Fprintln(stdout, out.Content)
		if len(out.ResourcesCited) > 0 {
			fmt.Fprintf(stdout, "\n%s\n", colorize(colorBold, "Sources"))
			for _, c := range out.ResourcesCited {
				line := fmt.Sprintf("  [%d] %s", c.Number, c.Title)
				if c.Author != "" {
					line += " (" + c.Author + ")"
				}
				fmt.Fprintln(stdout, line)
				if c.URL != "" {
					fmt.Fprintf(stdout, "      %s\n", colorize(colorCyan, c.URL))
				}
			}
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().Int("max-tokens", 8192, "generation budget")
	generateCmd.Flags().Bool("no-llm", false, "assemble content from resources without a model")
	generateCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- resources ---

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List stored resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/resources?limit=%d", limit))
		if err != nil {
			return err
		}
		var body struct {
			Resources []resource.Resource `json:"resources"`
			Count     int                 `json:"count"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if body.Count == 0 {
			fmt.Fprintln(stdout, "No resources found.")
			return nil
		}
		for _, r := range body.Resources {
			kind := r.Type
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(stdout, "%s  %-12s  %s\n", colorize(colorCyan, shortID(r.ID)), kind, truncate(r.Title, 70))
		}
		return nil
	},
}

func init() {
	resourcesCmd.Flags().Int("limit", 20, "maximum number of resources to list")
}

// --- history ---

type historyEntry struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// summary is the prompt or topic list of a history request.
func (e historyEntry) summary() string {
	var req struct {
		Prompt string   `json:"prompt"`
		Topics []string `json:"topics"`
	}
	if json.Unmarshal(e.Request, &req) != nil {
		return ""
	}
	if req.Prompt != "" {
		return req.Prompt
	}
	return strings.Join(req.Topics, ", ")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var body struct {
			History []historyEntry `json:"history"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.History) == 0 {
			fmt.Fprintln(stdout, "No history found.")
			return nil
		}
		for _, e := range body.History {
			fmt.Fprintf(stdout, "%s  %s  %-10s  %-9s  %s\n",
				colorize(colorCyan, shortID(e.ID)),
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				e.Kind,
				e.Status,
				truncate(e.summary(), 60),
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var entry historyEntry
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		return printJSON(entry)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	historyCmd.AddCommand(historyShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  ") +
		"\n\nSecrets are read from ETHIKA_API_TOKEN, ETHIKA_OPENROUTER_API_KEY and ETHIKA_GEMINI_API_KEY only.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
