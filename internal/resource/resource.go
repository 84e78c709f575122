package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle  = "Untitled Resource"
	DefaultAuthor = "Unknown Author"
)

// ErrInvalid is returned when a resource fails validation at ingestion.
var ErrInvalid = errors.New("invalid resource")

// Resource is an indexed educational item. Set-valued fields (Tags,
// TargetAudience, KeyConcepts) are always normalized: lowercased, trimmed,
// deduplicated and sorted. Use Normalize before storing a Resource.
type Resource struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	URL            string    `json:"url,omitempty"`
	Type           string    `json:"type,omitempty"`
	Tags           []string  `json:"tags"`
	TargetAudience []string  `json:"target_audience"`
	Institution    string    `json:"institution,omitempty"`
	Year           string    `json:"year,omitempty"`
	KeyConcepts    []string  `json:"key_concepts,omitempty"`
	Relevance      string    `json:"relevance,omitempty"`
	SourcePath     string    `json:"source_path,omitempty"`
	Content        string    `json:"content"`
	Vector         []float32 `json:"-"`
	EmbeddingModel string    `json:"-"`
	ContentHash    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Normalize returns a copy of r with every metadata field coerced to its
// canonical shape. Missing titles and authors are inferred from content when
// possible and otherwise set to DefaultTitle / DefaultAuthor.
func Normalize(r Resource) (Resource, error) {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return Resource{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}

	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		r.Title = InferTitle(r.Content)
	}
	r.Author = strings.TrimSpace(r.Author)
	if r.Author == "" {
		r.Author = InferAuthor(r.Content)
	}
	if r.Title == DefaultTitle && strings.TrimSpace(r.Content) == "" {
		return Resource{}, fmt.Errorf("%w: %s has neither title nor content", ErrInvalid, r.ID)
	}

	r.URL = strings.TrimSpace(r.URL)
	r.Type = NormalizeScalar(r.Type)
	r.Institution = strings.TrimSpace(r.Institution)
	r.Year = strings.TrimSpace(r.Year)
	r.Relevance = strings.TrimSpace(r.Relevance)
	r.SourcePath = strings.TrimSpace(r.SourcePath)
	r.Tags = NormalizeSet(r.Tags)
	r.TargetAudience = NormalizeSet(r.TargetAudience)
	r.KeyConcepts = NormalizeSet(r.KeyConcepts)
	r.ContentHash = Hash(r)
	return r, nil
}

// NormalizeSet lowercases, trims, deduplicates and sorts values. Empty
// entries are dropped. The result is never nil.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = NormalizeScalar(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// NormalizeScalar is the canonical form of a single-valued filter field.
func NormalizeScalar(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Intersects reports whether a and b share at least one value.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// SearchableText is the text that gets embedded for a resource.
func SearchableText(r Resource) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", r.Title)
	if r.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", r.Author)
	}
	if r.Relevance != "" {
		fmt.Fprintf(&sb, "Relevance: %s\n", r.Relevance)
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(r.Tags, ", "))
	}
	if len(r.TargetAudience) > 0 {
		fmt.Fprintf(&sb, "Target audience: %s\n", strings.Join(r.TargetAudience, ", "))
	}
	if len(r.KeyConcepts) > 0 {
		fmt.Fprintf(&sb, "Key concepts: %s\n", strings.Join(r.KeyConcepts, ", "))
	}
	if r.Content != "" {
		sb.WriteString("Content: ")
		sb.WriteString(r.Content)
	}
	return sb.String()
}

// Hash fingerprints the embedded text so unchanged resources can skip
// re-embedding.
func Hash(r Resource) string {
	sum := sha256.Sum256([]byte(SearchableText(r)))
	return hex.EncodeToString(sum[:])
}

// Preview returns at most n runes of the content, with an ellipsis when cut.
func Preview(content string, n int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

var (
	quotedTitleRe  = regexp.MustCompile(`(?im)^\s*title:\s*"([^"]+)"`)
	plainTitleRe   = regexp.MustCompile(`(?im)^\s*title:\s*([^\n]+)`)
	quotedAuthorRe = regexp.MustCompile(`(?im)^\s*author:\s*"([^"]+)"`)
	plainAuthorRe  = regexp.MustCompile(`(?im)^\s*author:\s*([^\n]+)`)
	headingRe      = regexp.MustCompile(`(?m)^#\s+([^\n]+)`)
)

// InferTitle is a best-effort title lookup for documents that arrive
// without structured metadata.
func InferTitle(content string) string {
	for _, re := range []*regexp.Regexp{quotedTitleRe, plainTitleRe, headingRe} {
		if m := re.FindStringSubmatch(content); m != nil {
			if t := strings.Trim(strings.TrimSpace(m[1]), `"`); t != "" {
				return t
			}
		}
	}
	return DefaultTitle
}

// InferAuthor is the author counterpart of InferTitle.
func InferAuthor(content string) string {
	for _, re := range []*regexp.Regexp{quotedAuthorRe, plainAuthorRe} {
		if m := re.FindStringSubmatch(content); m != nil {
			if a := strings.Trim(strings.TrimSpace(m[1]), `"`); a != "" {
				return a
			}
		}
	}
	return DefaultAuthor
}
