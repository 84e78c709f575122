package composer

import (
	"regexp"
	"strconv"
)

// citationRe matches a citation group: "[Source 2]", "[Sources 1, 3]",
// "[Source 1, Source 2]" or "[Source 1 and 4]".
var citationRe = regexp.MustCompile(`\[Sources?\s+\d+(?:\s*(?:,|and|&)\s*(?:Source\s+)?\d+)*\]`)

var numberRe = regexp.MustCompile(`\d+`)

// Renumber rewrites citation markers in text so that the known sources
// (numbers 1..n) are numbered 1..k in order of first appearance. Every
// number inside a grouped marker counts. Unknown numbers are left
// untouched. It returns the rewritten text and the original numbers in
// their new order.
func Renumber(text string, n int) (string, []int) {
	mapping := make(map[int]int)
	var order []int
	for _, group := range citationRe.FindAllString(text, -1) {
		for _, digits := range numberRe.FindAllString(group, -1) {
			num, err := strconv.Atoi(digits)
			if err != nil || num < 1 || num > n {
				continue
			}
			if _, ok := mapping[num]; ok {
				continue
			}
			order = append(order, num)
			mapping[num] = len(order)
		}
	}

	rewritten := citationRe.ReplaceAllStringFunc(text, func(group string) string {
		return numberRe.ReplaceAllStringFunc(group, func(digits string) string {
			num, err := strconv.Atoi(digits)
			if err != nil {
				return digits
			}
			next, ok := mapping[num]
			if !ok {
				return digits
			}
			return strconv.Itoa(next)
		})
	})
	return rewritten, order
}

// Reorder returns sources arranged as cited first (in the order given by
// cited, which holds original numbers) followed by the uncited ones in rank
// order, renumbered 1..n.
func Reorder(sources []Source, cited []int) []Source {
	byNumber := make(map[int]Source, len(sources))
	for _, s := range sources {
		byNumber[s.Number] = s
	}
	used := make(map[int]bool, len(cited))
	out := make([]Source, 0, len(sources))
	for _, num := range cited {
		s, ok := byNumber[num]
		if !ok || used[num] {
			continue
		}
		used[num] = true
		out = append(out, Source{Number: len(out) + 1, Resource: s.Resource})
	}
	for _, s := range sources {
		if used[s.Number] {
			continue
		}
		out = append(out, Source{Number: len(out) + 1, Resource: s.Resource})
	}
	return out
}
