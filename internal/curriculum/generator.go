package curriculum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kalambet/ethika/internal/generation"
	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

const (
	defaultMaxResources = 12
	generalQueryLimit   = 5
	planMaxTokens       = 4096
)

// Ranker runs a planned similarity query.
type Ranker interface {
	Rank(ctx context.Context, text string, pred retrieval.Predicate, limit int) (retrieval.SearchResult, error)
}

// Options configures a Generator.
type Options struct {
	MaxResources      int
	ResourcesPerTopic int
	Schedule          ScheduleOptions
	Policy            generation.Policy
}

// Generator gathers candidates for a request, selects and schedules them,
// and optionally asks a generation backend for a detailed plan.
type Generator struct {
	ranker Ranker
	gen    generation.Generator
	opts   Options
}

// NewGenerator creates a Generator. gen may be nil, in which case advanced
// requests receive the basic plan.
func NewGenerator(ranker Ranker, gen generation.Generator, opts Options) *Generator {
	if opts.MaxResources <= 0 {
		opts.MaxResources = defaultMaxResources
	}
	if opts.ResourcesPerTopic <= 0 {
		opts.ResourcesPerTopic = 1
	}
	return &Generator{ranker: ranker, gen: gen, opts: opts}
}

// Generate assembles a curriculum. An empty index is not an error: the
// result then has no resources and an empty schedule.
func (g *Generator) Generate(ctx context.Context, req Request, advanced bool) (Curriculum, error) {
	if req.DurationHours <= 0 {
		return Curriculum{}, fmt.Errorf("%w: duration_hours must be positive, got %v", ErrInvalidRequest, req.DurationHours)
	}
	req.TargetAudience = resource.NormalizeSet(req.TargetAudience)
	req.Topics = resource.NormalizeSet(req.Topics)
	req.PreferredTypes = resource.NormalizeSet(req.PreferredTypes)
	if req.ResourcesPerTopic <= 0 {
		req.ResourcesPerTopic = g.opts.ResourcesPerTopic
	}

	candidates, err := g.gather(ctx, req)
	if err != nil && !errors.Is(err, retrieval.ErrIndexUnavailable) {
		return Curriculum{}, fmt.Errorf("gathering candidates: %w", err)
	}

	selected := Select(candidates, req, g.opts.MaxResources)
	c := Curriculum{
		Institution:    req.Institution,
		TargetAudience: req.TargetAudience,
		Topics:         req.Topics,
		DurationHours:  req.DurationHours,
		Resources:      selected,
		Schedule:       BuildSchedule(selected, req.DurationHours, g.opts.Schedule),
	}
	slog.Debug("curriculum assembled", "candidates", len(candidates), "selected", len(selected), "advanced", advanced)

	if advanced {
		plan, err := g.plan(ctx, req, c)
		if err != nil {
			return Curriculum{}, err
		}
		c.Detailed = plan
	}
	return c, nil
}

// gather runs one query per topic plus a general audience query and merges
// the hits, keeping each resource's best score.
func (g *Generator) gather(ctx context.Context, req Request) (retrieval.SearchResult, error) {
	audience := audienceLabel(req.TargetAudience)
	perTopic := req.ResourcesPerTopic * 2

	var all retrieval.SearchResult
	for _, topic := range req.Topics {
		text := fmt.Sprintf("%s activities for %s students", topic, audience)
		filters := retrieval.Filters{
			Institution:    req.Institution,
			TargetAudience: req.TargetAudience,
			Tags:           []string{topic},
		}
		hits, err := g.ranker.Rank(ctx, text, withTypes(filters, req.PreferredTypes), perTopic)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 && filters.Institution != "" {
			filters.Institution = ""
			hits, err = g.ranker.Rank(ctx, text, withTypes(filters, req.PreferredTypes), perTopic)
			if err != nil {
				return nil, err
			}
		}
		all = append(all, hits...)
	}

	general := retrieval.Filters{TargetAudience: req.TargetAudience}
	hits, err := g.ranker.Rank(ctx, "AI education resources for "+audience, withTypes(general, req.PreferredTypes), generalQueryLimit)
	if err != nil {
		return nil, err
	}
	all = append(all, hits...)
	return merge(all), nil
}

// withTypes adds a preferred-type constraint to the filters' predicate.
func withTypes(f retrieval.Filters, types []string) retrieval.Predicate {
	pred := retrieval.NewPredicate(f)
	if len(types) == 0 {
		return pred
	}
	return func(r resource.Resource) bool {
		if !pred(r) {
			return false
		}
		typ := resource.NormalizeScalar(r.Type)
		for _, t := range types {
			if t == typ {
				return true
			}
		}
		return false
	}
}

func merge(hits retrieval.SearchResult) retrieval.SearchResult {
	best := make(map[string]retrieval.Hit, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.ResourceID]; !ok || h.Score > cur.Score {
			best[h.ResourceID] = h
		}
	}
	out := make(retrieval.SearchResult, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

func audienceLabel(audience []string) string {
	if len(audience) == 0 {
		return "all"
	}
	return strings.Join(audience, ", ")
}
