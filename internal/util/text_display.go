package util

import (
	"sort"
	"strings"
	"unicode"
)

const defaultSnippetRunes = 420

var snippetStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {},
	"from": {}, "does": {}, "into": {}, "about": {}, "explain": {}, "define": {},
}

// Snippet flattens whitespace, drops non-printing runes and cuts s to at most
// maxRunes, marking the cut with "...".
func Snippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	s = normalizeWhitespace(SanitizeText(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}

// QuerySnippet picks the sentence of text that mentions the most query terms
// and extends it with the sentences that follow while they fit in maxRunes.
// Without usable terms it falls back to the opening of text.
func QuerySnippet(text, query string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	flat := Snippet(text, 8000)
	terms := queryTerms(query)
	sentences := splitSentences(flat)
	if len(terms) == 0 || len(sentences) < 2 {
		return Snippet(flat, maxRunes)
	}

	scores := make([]int, len(sentences))
	order := make([]int, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		for _, term := range terms {
			if strings.Contains(low, term) {
				scores[i]++
			}
		}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	start := order[0]
	if scores[start] == 0 {
		return Snippet(flat, maxRunes)
	}

	out := sentences[start]
	for i := start + 1; i < len(sentences); i++ {
		next := out + " " + sentences[i]
		if len([]rune(next)) > maxRunes {
			break
		}
		out = next
	}
	return Snippet(out, maxRunes)
}

// splitSentences breaks on '.', '!' or '?' followed by a space, so numbered
// references like "Theorem 2.3" stay whole.
func splitSentences(s string) []string {
	runes := []rune(s)
	out := make([]string, 0, 8)
	begin := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if x := strings.TrimSpace(string(runes[begin : i+1])); x != "" {
			out = append(out, x)
		}
		begin = i + 1
	}
	if rest := strings.TrimSpace(string(runes[begin:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

func queryTerms(q string) []string {
	seen := map[string]struct{}{}
	terms := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := snippetStopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}
