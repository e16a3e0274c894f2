package reader

import "strings"

// DefaultLookahead is the number of pages searched when anchoring a sentence.
// Narrow windows fall back to the word-count estimate more often on books
// whose markup drifts from the text; wide windows risk matching a phrase that
// recurs on a later page.
const DefaultLookahead = 3

// MapByWordCount assigns each sentence the page whose cumulative word budget
// first covers the sentence's cumulative word total.
func MapByWordCount(sentences []string, pageWordCounts []int) []int {
	out := make([]int, len(sentences))
	if len(pageWordCounts) == 0 {
		return out
	}

	page := 0
	budget := pageWordCounts[0]
	total := 0
	for i, s := range sentences {
		total += WordCount(s)
		for total > budget && page < len(pageWordCounts)-1 {
			page++
			budget += pageWordCounts[page]
		}
		out[i] = page
	}
	return out
}

// MapSentencesToPages anchors each sentence on the first page within the
// lookahead window whose text contains it, falling back to the word-count
// estimate clamped so the result never decreases.
func MapSentencesToPages(sentences []string, pages []Page, pageWordCounts []int, window int) []int {
	if window <= 0 {
		window = DefaultLookahead
	}
	estimate := MapByWordCount(sentences, pageWordCounts)
	out := make([]int, len(sentences))
	if len(pages) == 0 {
		return out
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = normalizeForMatch(p.Text())
	}

	pointer := 0
	for i, s := range sentences {
		needle := normalizeForMatch(s)
		found := -1
		for j := 0; j < window && pointer+j < len(texts); j++ {
			if strings.Contains(texts[pointer+j], needle) {
				found = pointer + j
				break
			}
		}
		if found < 0 {
			found = min(max(estimate[i], pointer), len(texts)-1)
		}
		out[i] = found
		pointer = found
	}
	return out
}
