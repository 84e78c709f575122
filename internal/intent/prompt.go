package intent

import (
	"regexp"
	"strings"

	"github.com/kalambet/ethika/internal/engine"
)

const systemPrompt = `You are a topic extraction engine for an educational resource search. Read the user's request for learning material and list the distinct subjects it covers as short search phrases. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Return at most 10 topics.
- Each topic is 1-5 words, suitable as a search query.
- Prefer concrete subjects (for example "algorithmic bias") over generic words ("workshop", "students").`

// BuildPrompt constructs the chat messages for topic extraction.
func BuildPrompt(prompt string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: prompt},
	}
}

const maxSignificantWords = 8

var (
	quotedRe  = regexp.MustCompile(`"([^"]+)"`)
	subjectRe = regexp.MustCompile(`(?i)\b(?:on|about|regarding|concerning)\s+([^,.!?]+)`)
	scopeRe   = regexp.MustCompile(`(?i)\b(?:for|with|including)\s+([^,.!?]+)`)
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "should": {}, "could": {}, "may": {}, "might": {}, "must": {}, "can": {},
}

// Heuristic extracts topics without a model: quoted phrases, phrases
// following subject prepositions (on, about, regarding, concerning) and
// scope prepositions (for, with, including), then up to eight significant
// words longer than four characters.
func Heuristic(prompt string) []string {
	var topics []string
	for _, m := range quotedRe.FindAllStringSubmatch(prompt, -1) {
		topics = append(topics, m[1])
	}
	for _, re := range []*regexp.Regexp{subjectRe, scopeRe} {
		for _, m := range re.FindAllStringSubmatch(prompt, -1) {
			if phrase := strings.TrimSpace(m[1]); len(phrase) > 3 {
				topics = append(topics, phrase)
			}
		}
	}

	words := 0
	for _, w := range strings.Fields(prompt) {
		if words == maxSignificantWords {
			break
		}
		w = strings.ToLower(strings.Trim(w, `.,!?;:"'()`))
		if len(w) <= 4 {
			continue
		}
		if _, ok := stopWords[w]; ok {
			continue
		}
		topics = append(topics, w)
		words++
	}
	return unique(topics, 3)
}
