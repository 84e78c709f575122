package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/ethika/internal/resource"
)

const (
	defaultMaxContextTokens = 6000
	excerptRunes            = 500
	fallbackExcerptRunes    = 800
)

// Source is a retrieved resource with the citation number it carries in a
// prompt. Numbers start at 1 and follow rank order.
type Source struct {
	Number   int
	Resource resource.Resource
}

// Composer turns a user prompt and ranked resources into a grounded
// generation prompt. It produces a single prompt string ready for the
// generation backend.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for resource excerpts.
// If maxContextTokens <= 0, the default (6000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Number assigns citation numbers 1..n to resources in the given order.
func Number(resources []resource.Resource) []Source {
	out := make([]Source, len(resources))
	for i, r := range resources {
		out[i] = Source{Number: i + 1, Resource: r}
	}
	return out
}

// Compose builds the generation prompt. Excerpt blocks are added in rank
// order while they fit the token budget; a block that does not fit is
// skipped so shorter lower-ranked ones can still be included. The reference
// list always names every source.
func (c *Composer) Compose(prompt string, sources []Source) string {
	var sb strings.Builder
	sb.WriteString("You are an expert AI education content creator. A user wants you to create a complete educational workshop or curriculum based on their request.\n\n")
	sb.WriteString("USER REQUEST:\n")
	sb.WriteString(strings.TrimSpace(prompt))
	sb.WriteString("\n\n")

	if len(sources) > 0 {
		sb.WriteString("RELEVANT RESOURCES FROM DATABASE:\n")
		remaining := c.MaxContextTokens
		for _, s := range sources {
			block := formatExcerpt(s)
			tokens := EstimateTokens(block)
			if tokens > remaining {
				continue
			}
			sb.WriteString(block)
			remaining -= tokens
		}
		sb.WriteString("\n")
	}

	sb.WriteString(requirements)

	if len(sources) > 0 {
		sb.WriteString("\nRESOURCE REFERENCE NUMBERS:\n")
		for _, s := range sources {
			fmt.Fprintf(&sb, "[Source %d]: %s\n", s.Number, Label(s.Resource))
		}
	}

	sb.WriteString(formatting)
	return sb.String()
}

const requirements = `REQUIREMENTS:

1. Structure: title and overview, target audience, duration, 3-5 measurable
   learning objectives, a detailed schedule covering the whole duration,
   activity descriptions, materials needed, assessment methods, a wrap-up and
   a Sources section at the end.
2. Completeness: every section is fully written and ready to use. Do not stop
   mid-sentence.
3. Citations: cite resources inline as [Source 1], [Source 2], etc., using
   only the numbers listed below, and list every cited resource in the
   Sources section.
4. Quality: practical, engaging and suited to the stated audience.
`

const formatting = `
Write the answer in Markdown: # for the title, ## for sections, ### for
subsections, - for lists and Markdown tables where a table helps.
`

func formatExcerpt(s Source) string {
	r := s.Resource
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n--- [Source %d]: %s ---\n", s.Number, Label(r))
	if len(r.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(r.Tags, ", "))
	}
	if len(r.TargetAudience) > 0 {
		fmt.Fprintf(&sb, "Target Audience: %s\n", strings.Join(r.TargetAudience, ", "))
	}
	if r.Relevance != "" {
		fmt.Fprintf(&sb, "Relevance: %s\n", r.Relevance)
	}
	if preview := resource.Preview(r.Content, excerptRunes); preview != "" {
		fmt.Fprintf(&sb, "Content Preview: %s\n", preview)
	}
	return sb.String()
}

// Label renders "Title by Author (URL)", omitting the URL when unknown.
func Label(r resource.Resource) string {
	title := r.Title
	if title == "" {
		title = resource.DefaultTitle
	}
	author := r.Author
	if author == "" {
		author = resource.DefaultAuthor
	}
	label := title + " by " + author
	if r.URL != "" {
		label += " (" + r.URL + ")"
	}
	return label
}

// Fallback synthesizes Markdown content from the sources alone. It is used
// when generation is disabled or the backend keeps refusing for quota.
func Fallback(prompt string, sources []Source) string {
	prompt = strings.TrimSpace(prompt)
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Educational Content: %s\n\n", prompt)
	sb.WriteString("## Overview\n")
	sb.WriteString("The following resources were curated from the database for this request.\n\n")
	sb.WriteString("## Your Request\n")
	sb.WriteString(prompt)
	sb.WriteString("\n\n## Curated Resources\n")

	if len(sources) == 0 {
		sb.WriteString("\nNo matching resources were found. Try a different prompt or index more resources.\n")
	}

	for _, s := range sources {
		r := s.Resource
		fmt.Fprintf(&sb, "\n### [Source %d] %s\n\n", s.Number, orDefault(r.Title, resource.DefaultTitle))
		fmt.Fprintf(&sb, "**Author:** %s\n\n", orDefault(r.Author, resource.DefaultAuthor))
		if r.URL != "" {
			fmt.Fprintf(&sb, "**URL:** %s\n\n", r.URL)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&sb, "**Tags:** %s\n\n", strings.Join(r.Tags, ", "))
		}
		if r.Relevance != "" {
			fmt.Fprintf(&sb, "**Relevance:** %s\n\n", r.Relevance)
		}
		if preview := resource.Preview(r.Content, fallbackExcerptRunes); preview != "" {
			fmt.Fprintf(&sb, "**Content Preview:**\n%s\n\n", preview)
		}
		sb.WriteString("---\n")
	}

	sb.WriteString("\n## How to Use These Resources\n\n")
	sb.WriteString("1. Review each resource above for material that fits your needs.\n")
	sb.WriteString("2. Combine information from several sources.\n")
	sb.WriteString("3. Adapt the content to your audience and context.\n")

	if len(sources) > 0 {
		sb.WriteString("\n## Sources Reference\n")
		for _, s := range sources {
			fmt.Fprintf(&sb, "- [Source %d]: %s\n", s.Number, Label(s.Resource))
		}
	}
	return sb.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
