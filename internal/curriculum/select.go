package curriculum

import (
	"slices"
	"sort"

	"github.com/kalambet/ethika/internal/resource"
	"github.com/kalambet/ethika/internal/retrieval"
)

// Select greedily picks resources that cover the requested topics.
//
// Candidates outside the requested audience are dropped. Each step takes the
// best-scoring remaining candidate tagged with a topic that still needs
// resources, or the best remaining candidate when none is. Selection ends
// once every topic has ResourcesPerTopic resources, maxResults is reached or
// candidates run out. Without topics it fills by rank up to maxResults; a
// non-positive maxResults means no cap. Equal scores keep input order.
func Select(hits retrieval.SearchResult, req Request, maxResults int) []resource.Resource {
	audience := resource.NormalizeSet(req.TargetAudience)
	topics := resource.NormalizeSet(req.Topics)
	perTopic := req.ResourcesPerTopic
	if perTopic <= 0 {
		perTopic = 1
	}

	candidates := make([]retrieval.Hit, 0, len(hits))
	for _, h := range hits {
		if len(audience) > 0 && !resource.Intersects(h.Resource.TargetAudience, audience) {
			continue
		}
		candidates = append(candidates, h)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if maxResults <= 0 {
		maxResults = len(candidates)
	}

	covered := make(map[string]int, len(topics))
	uncovered := func() []string {
		var out []string
		for _, t := range topics {
			if covered[t] < perTopic {
				out = append(out, t)
			}
		}
		return out
	}

	used := make([]bool, len(candidates))
	out := make([]resource.Resource, 0)
	for len(out) < maxResults {
		open := uncovered()
		if len(topics) > 0 && len(open) == 0 {
			break
		}

		pick := -1
		for i, c := range candidates {
			if !used[i] && resource.Intersects(c.Resource.Tags, open) {
				pick = i
				break
			}
		}
		if pick < 0 {
			for i := range candidates {
				if !used[i] {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			break
		}

		used[pick] = true
		r := candidates[pick].Resource
		out = append(out, r)
		for _, tag := range r.Tags {
			if slices.Contains(topics, tag) {
				covered[tag]++
			}
		}
	}
	return out
}

