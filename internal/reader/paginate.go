package reader

import "strings"

// DefaultWordLimit is the page budget used when none is configured.
const DefaultWordLimit = 250

// Page is an ordered group of whole paragraphs.
type Page struct {
	Paragraphs []Paragraph
	WordCount  int
}

// Text returns the page's plain text, paragraphs separated by blank lines.
func (p Page) Text() string {
	parts := make([]string, 0, len(p.Paragraphs))
	for _, para := range p.Paragraphs {
		if para.Text != "" {
			parts = append(parts, para.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HTML returns the page's markup for rendering.
func (p Page) HTML() string {
	var b strings.Builder
	for _, para := range p.Paragraphs {
		b.WriteString(para.HTML)
		b.WriteByte('\n')
	}
	return b.String()
}

// Paginate groups paragraphs into pages of at most wordLimit words. A
// paragraph is never split; one that alone exceeds the limit gets its own
// page. The second result holds each page's word count.
func Paginate(paragraphs []Paragraph, wordLimit int) ([]Page, []int) {
	if wordLimit <= 0 {
		wordLimit = DefaultWordLimit
	}

	var pages []Page
	var counts []int
	var current []Paragraph
	currentCount := 0

	flush := func() {
		pages = append(pages, Page{Paragraphs: current, WordCount: currentCount})
		counts = append(counts, currentCount)
		current = nil
		currentCount = 0
	}

	for _, para := range paragraphs {
		words := WordCount(para.Text)
		if currentCount+words > wordLimit && len(current) > 0 {
			flush()
		}
		current = append(current, para)
		currentCount += words
	}
	if len(current) > 0 {
		flush()
	}

	return pages, counts
}
