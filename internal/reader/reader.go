// Package reader provides the text model for narrated reading: pagination,
// sentence segmentation, the sentence-to-page map and selection resolution.
package reader

import (
	"path"
	"strings"
)

// Options controls how a book is laid out into pages.
type Options struct {
	WordLimit int
	Lookahead int
}

func (o Options) withDefaults() Options {
	if o.WordLimit <= 0 {
		o.WordLimit = DefaultWordLimit
	}
	if o.Lookahead <= 0 {
		o.Lookahead = DefaultLookahead
	}
	return o
}

// Position is a reading position within a session.
type Position struct {
	PageIndex     int `json:"page_index"`
	SentenceIndex int `json:"sentence_index"`
}

// Session holds the text model of the active book and the reader's place in
// it. A session is owned by one goroutine; switching books builds a new one.
type Session struct {
	ID   string
	Book *Book

	opts           Options
	paragraphs     []Paragraph
	pages          []Page
	pageWordCounts []int
	sentences      []string
	pageMap        []int
	resolver       *Resolver

	anchors     map[string]int
	sourcePages map[string]int

	pageIndex     int
	sentenceIndex int
}

// NewSession builds pages, sentences and the sentence-page map for book.
func NewSession(id string, book *Book, opts Options) *Session {
	s := &Session{
		ID:         id,
		Book:       book,
		opts:       opts.withDefaults(),
		paragraphs: Paragraphs(book),
	}
	texts := make([]string, 0, len(s.paragraphs))
	for _, p := range s.paragraphs {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	s.sentences = Segment(strings.Join(texts, " "))
	s.layout()
	return s
}

// layout rebuilds everything that depends on the options.
func (s *Session) layout() {
	s.pages, s.pageWordCounts = Paginate(s.paragraphs, s.opts.WordLimit)
	s.pageMap = MapSentencesToPages(s.sentences, s.pages, s.pageWordCounts, s.opts.Lookahead)
	s.resolver = NewResolver(s.sentences, s.pageMap)

	s.anchors = make(map[string]int)
	s.sourcePages = make(map[string]int)
	for pi, page := range s.pages {
		for _, para := range page.Paragraphs {
			src := sourceKey(para.Source)
			if _, ok := s.sourcePages[src]; !ok {
				s.sourcePages[src] = pi
			}
			for _, id := range para.Anchors {
				key := src + "#" + id
				if _, ok := s.anchors[key]; !ok {
					s.anchors[key] = pi
				}
			}
		}
	}
	for i := range s.Book.TOC {
		s.Book.TOC[i].PageIndex = s.pageForHref(s.Book.TOC[i].Href)
	}
}

// Options returns the layout options in effect.
func (s *Session) Options() Options { return s.opts }

// Relayout re-paginates when opts differ from the current layout. The
// current sentence is kept and its page recomputed. It reports whether
// anything changed.
func (s *Session) Relayout(opts Options) bool {
	opts = opts.withDefaults()
	if opts == s.opts {
		return false
	}
	pos := s.Position()
	s.opts = opts
	s.layout()
	if !s.GoToSentence(pos.SentenceIndex) {
		s.Restore(pos)
	}
	return true
}

func (s *Session) PageCount() int          { return len(s.pages) }
func (s *Session) SentenceCount() int      { return len(s.sentences) }
func (s *Session) Sentences() []string     { return s.sentences }
func (s *Session) Paragraphs() []Paragraph { return s.paragraphs }

// Page returns page i.
func (s *Session) Page(i int) (Page, bool) {
	if i < 0 || i >= len(s.pages) {
		return Page{}, false
	}
	return s.pages[i], true
}

// Sentence returns sentence i.
func (s *Session) Sentence(i int) (string, bool) {
	if i < 0 || i >= len(s.sentences) {
		return "", false
	}
	return s.sentences[i], true
}

// PageOfSentence returns the page sentence i is mapped to.
func (s *Session) PageOfSentence(i int) (int, bool) {
	if i < 0 || i >= len(s.pageMap) {
		return 0, false
	}
	return s.pageMap[i], true
}

// SentencePageMap returns a copy of the sentence-page map.
func (s *Session) SentencePageMap() []int {
	out := make([]int, len(s.pageMap))
	copy(out, s.pageMap)
	return out
}

// FirstSentenceOnPage returns the lowest sentence index mapped to page.
func (s *Session) FirstSentenceOnPage(page int) (int, bool) {
	for i, p := range s.pageMap {
		if p == page {
			return i, true
		}
		if p > page {
			break
		}
	}
	return 0, false
}

// Text returns sentences [start, start+n) joined by single spaces.
func (s *Session) Text(start, n int) string {
	if start < 0 || start >= len(s.sentences) {
		return ""
	}
	end := min(start+n, len(s.sentences))
	return strings.Join(s.sentences[start:end], " ")
}

// Position returns the current reading position.
func (s *Session) Position() Position {
	return Position{PageIndex: s.pageIndex, SentenceIndex: s.sentenceIndex}
}

// Clamp maps pos onto the current layout: the page is clamped into range and
// the sentence is replaced by the first sentence on that page unless it
// already maps there. When no sentence maps to the page the nearest sentence
// after it (or the last sentence) is used and the page follows that
// sentence, so the result always satisfies the sentence-page map.
func (s *Session) Clamp(pos Position) Position {
	if len(s.pages) == 0 {
		return Position{}
	}
	page := min(max(pos.PageIndex, 0), len(s.pages)-1)
	if len(s.sentences) == 0 {
		return Position{PageIndex: page}
	}

	sentence := pos.SentenceIndex
	if sentence >= 0 && sentence < len(s.pageMap) && s.pageMap[sentence] == page {
		return Position{PageIndex: page, SentenceIndex: sentence}
	}
	for i, p := range s.pageMap {
		if p >= page {
			return Position{PageIndex: p, SentenceIndex: i}
		}
	}
	last := len(s.sentences) - 1
	return Position{PageIndex: s.pageMap[last], SentenceIndex: last}
}

// Restore moves to the clamped form of pos and returns it.
func (s *Session) Restore(pos Position) Position {
	pos = s.Clamp(pos)
	s.pageIndex, s.sentenceIndex = pos.PageIndex, pos.SentenceIndex
	return pos
}

// GoToSentence moves to sentence i and the page it maps to.
func (s *Session) GoToSentence(i int) bool {
	page, ok := s.PageOfSentence(i)
	if !ok {
		return false
	}
	s.pageIndex, s.sentenceIndex = page, i
	return true
}

// GoToPage moves to page and its first sentence, keeping the sentence when
// no sentence maps to the page.
func (s *Session) GoToPage(page int) bool {
	if page < 0 || page >= len(s.pages) {
		return false
	}
	s.pageIndex = page
	if i, ok := s.FirstSentenceOnPage(page); ok {
		s.sentenceIndex = i
	}
	return true
}

// NextPage advances one page.
func (s *Session) NextPage() bool { return s.GoToPage(s.pageIndex + 1) }

// PrevPage goes back one page.
func (s *Session) PrevPage() bool { return s.GoToPage(s.pageIndex - 1) }

// Resolve maps selected text on page to a sentence index. anchor is the
// current playback sentence, or negative when nothing is playing.
func (s *Session) Resolve(selected string, page, anchor int) (int, error) {
	return s.resolver.Resolve(selected, page, anchor)
}

// PageForAnchor returns the page holding element id of source file. An empty
// id, or an id that is not found, resolves to the file's first page.
func (s *Session) PageForAnchor(source, id string) (int, bool) {
	src := sourceKey(source)
	if id != "" {
		if p, ok := s.anchors[src+"#"+id]; ok {
			return p, true
		}
	}
	p, ok := s.sourcePages[src]
	return p, ok
}

func (s *Session) pageForHref(href string) int {
	file, id, _ := strings.Cut(href, "#")
	if p, ok := s.PageForAnchor(file, id); ok {
		return p
	}
	return 0
}

// Progress returns the 1-based page and page count.
func (s *Session) Progress() (current, total int) {
	return s.pageIndex + 1, len(s.pages)
}

// PercentRead is the share of pages reached, rounded.
func (s *Session) PercentRead() int {
	if len(s.pages) == 0 {
		return 0
	}
	return ((s.pageIndex+1)*100 + len(s.pages)/2) / len(s.pages)
}

func sourceKey(href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	return path.Base(href)
}
