package retrieval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/ethika/internal/resource"
)

var (
	// ErrInvalidQuery is returned for empty query text or a non-positive limit.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrIndexUnavailable is returned when the store holds no indexed resources.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrStaleIndex is returned when stored vectors cannot be compared with
	// the query vector, typically after the embedding model changed.
	ErrStaleIndex = errors.New("index built with a different embedding model; re-run ethika index")
)

// Filters restrict a search to resources whose metadata matches. Empty
// fields impose no constraint.
type Filters struct {
	Institution    string   `json:"institution,omitempty"`
	TargetAudience []string `json:"target_audience,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Type           string   `json:"resource_type,omitempty"`
}

// SearchQuery is a natural-language query plus structured constraints.
type SearchQuery struct {
	Text    string  `json:"query"`
	Filters Filters `json:"filters"`
	Limit   int     `json:"limit"`
}

// Hit is one ranked resource. Score is in [0,1], 1 meaning identical.
type Hit struct {
	ResourceID string            `json:"id"`
	Score      float64           `json:"score"`
	Resource   resource.Resource `json:"resource"`
}

// SearchResult is ordered by descending score, ties by resource id.
type SearchResult []Hit

// Predicate reports whether a resource satisfies a search's filters.
type Predicate func(resource.Resource) bool

// MatchAll accepts every resource.
func MatchAll(resource.Resource) bool { return true }

// Plan validates q and returns the text to embed and the filter predicate.
func Plan(q SearchQuery) (string, Predicate, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return "", nil, fmt.Errorf("%w: query text is empty", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return "", nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, q.Limit)
	}
	return q.Text, NewPredicate(q.Filters), nil
}

// NewPredicate builds the conjunction of every non-empty filter field. Set
// fields must intersect and scalar fields compare case-insensitively.
func NewPredicate(f Filters) Predicate {
	institution := resource.NormalizeScalar(f.Institution)
	typ := resource.NormalizeScalar(f.Type)
	audience := resource.NormalizeSet(f.TargetAudience)
	tags := resource.NormalizeSet(f.Tags)

	if institution == "" && typ == "" && len(audience) == 0 && len(tags) == 0 {
		return MatchAll
	}

	return func(r resource.Resource) bool {
		if institution != "" && resource.NormalizeScalar(r.Institution) != institution {
			return false
		}
		if typ != "" && resource.NormalizeScalar(r.Type) != typ {
			return false
		}
		if len(audience) > 0 && !resource.Intersects(r.TargetAudience, audience) {
			return false
		}
		if len(tags) > 0 && !resource.Intersects(r.Tags, tags) {
			return false
		}
		return true
	}
}
