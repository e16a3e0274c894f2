package reader

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// MinSelectionLength gates selection-driven UI actions.
	MinSelectionLength = 2
	// MinFragmentLength is the shortest text used for matching.
	MinFragmentLength = 8

	primaryFragmentChars  = 160
	primaryFragmentTokens = 16
	fallbackTokens        = 12
)

var (
	// ErrSelectionTooShort is returned for selections below the matching minimum.
	ErrSelectionTooShort = errors.New("selection too short")
	// ErrSelectionNotFound means no sentence matched; callers must not guess.
	ErrSelectionNotFound = errors.New("no actionable match")
)

// Selectable reports whether text is long enough to offer selection actions.
func Selectable(text string) bool {
	return utf8.RuneCountInString(normalizeForMatch(text)) >= MinSelectionLength
}

// Resolver maps imprecise selected text back to a sentence index.
type Resolver struct {
	sentences []string
	pageOf    []int
}

// NewResolver indexes normalized sentences alongside their mapped pages.
func NewResolver(sentences []string, pageMap []int) *Resolver {
	norm := make([]string, len(sentences))
	for i, s := range sentences {
		norm[i] = normalizeForMatch(s)
	}
	return &Resolver{sentences: norm, pageOf: pageMap}
}

type matcher func(sentence string) bool

// Resolve returns the sentence best matching selected. Sentences on page are
// tried first; otherwise the whole book is searched and the match closest to
// anchor wins. A negative anchor means the first sentence on page.
func (r *Resolver) Resolve(selected string, page, anchor int) (int, error) {
	norm := normalizeForMatch(selected)
	if utf8.RuneCountInString(norm) < MinFragmentLength {
		return -1, ErrSelectionTooShort
	}

	matchers := r.matchers(norm)

	for _, m := range matchers {
		for i, s := range r.sentences {
			if r.pageOf[i] == page && m(s) {
				return i, nil
			}
		}
	}

	if anchor < 0 {
		anchor = r.firstOnPage(page)
	}
	for _, m := range matchers {
		best, bestDist := -1, 0
		for i, s := range r.sentences {
			if !m(s) {
				continue
			}
			d := i - anchor
			if d < 0 {
				d = -d
			}
			if best < 0 || d < bestDist {
				best, bestDist = i, d
			}
		}
		if best >= 0 {
			return best, nil
		}
	}

	return -1, ErrSelectionNotFound
}

// matchers builds the cascade: primary fragment, fallback fragment, then
// containment in either direction.
func (r *Resolver) matchers(norm string) []matcher {
	var out []matcher
	for _, frag := range []string{primaryFragment(norm), fallbackFragment(norm)} {
		if utf8.RuneCountInString(frag) < MinFragmentLength {
			continue
		}
		out = append(out, func(s string) bool { return strings.Contains(s, frag) })
	}
	out = append(out, func(s string) bool {
		if strings.Contains(s, norm) {
			return true
		}
		return utf8.RuneCountInString(s) >= MinFragmentLength && strings.Contains(norm, s)
	})
	return out
}

func (r *Resolver) firstOnPage(page int) int {
	for i, p := range r.pageOf {
		if p == page {
			return i
		}
	}
	return 0
}

// primaryFragment is the first clause, capped by characters then tokens.
func primaryFragment(norm string) string {
	clause := norm
	if i := strings.IndexAny(norm, ".!?"); i >= 0 {
		clause = strings.TrimSpace(norm[:i])
	}
	if clause == "" {
		clause = norm
	}
	if utf8.RuneCountInString(clause) > primaryFragmentChars {
		clause = string([]rune(clause)[:primaryFragmentChars])
	}
	return firstTokens(clause, primaryFragmentTokens)
}

func fallbackFragment(norm string) string {
	return firstTokens(norm, fallbackTokens)
}

func firstTokens(s string, n int) string {
	tokens := strings.Fields(s)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.Join(tokens, " ")
}
