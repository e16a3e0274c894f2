package reader

import (
	"regexp"
	"strings"
)

// A sentence is a run of non-terminators closed by one or more of . ! ?, or
// the unterminated tail of the text. Abbreviations and decimals split too.
var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// Segment splits text into whitespace-normalized sentences.
func Segment(text string) []string {
	normalized := NormalizeSpace(text)
	if normalized == "" {
		return nil
	}
	var out []string
	for _, m := range sentencePattern.FindAllString(normalized, -1) {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeSpace collapses every whitespace run to a single space and trims.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeForMatch is NormalizeSpace plus case folding.
func normalizeForMatch(s string) string {
	return strings.ToLower(NormalizeSpace(s))
}

// WordCount counts whitespace-delimited tokens.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
