package reader

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	xhtml "golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// maxSpineReaders bounds concurrent spine document decoding.
const maxSpineReaders = 8

// EPUBFormat implements Format for EPUB files.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

func (f *EPUBFormat) Name() string         { return "EPUB" }
func (f *EPUBFormat) Extensions() []string { return []string{".epub"} }

// Load reads the spine in order. Documents that fail to open or carry no
// text are skipped.
func (f *EPUBFormat) Load(filename string) (*Book, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, errors.New("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	// Books without a readable NCX fall back to document titles.
	toc, _ := readNCX(filename, book)
	tocByHref := toc.titles()

	refs := book.Spine.Itemrefs
	chapters := make([]*Chapter, len(refs))

	var g errgroup.Group
	g.SetLimit(maxSpineReaders)
	for i, ref := range refs {
		if ref.Item == nil {
			continue
		}
		g.Go(func() error {
			chapters[i] = readSpineItem(ref.Item, i, tocByHref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Book{
		Title:  strings.TrimSpace(book.Title),
		Author: strings.TrimSpace(book.Creator),
	}
	if out.Title == "" {
		out.Title = "Untitled Book"
	}
	previews := make(map[string]string)
	for _, ch := range chapters {
		if ch != nil {
			out.Chapters = append(out.Chapters, *ch)
			previews[path.Base(ch.SourceHref)] = previewText(ch.Text, previewWords)
		}
	}
	out.TOC = toc.entries(previews)
	return out, nil
}

func readSpineItem(item *epub.Item, index int, tocByHref map[string]string) *Chapter {
	r, err := item.Open()
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil
	}

	markup := string(data)
	text := extractTextFromHTML(markup)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	title := fmt.Sprintf("Chapter %d", index+1)
	if t, ok := tocByHref[item.HREF]; ok {
		title = t
	} else if t, ok := tocByHref[path.Base(item.HREF)]; ok {
		title = t
	} else if t := documentTitle(markup); t != "" {
		title = t
	}

	return &Chapter{
		Title:      title,
		Text:       text,
		HTML:       markup,
		SourceHref: item.HREF,
	}
}

// extractTextFromHTML returns block text separated by newlines so the plain
// text fallback keeps paragraph boundaries.
func extractTextFromHTML(s string) string {
	paras, err := ParagraphsFromHTML(s, "")
	if err != nil {
		return ""
	}
	var out strings.Builder
	for _, p := range paras {
		if p.Text == "" {
			continue
		}
		out.WriteString(p.Text)
		out.WriteString("\n")
	}
	return out.String()
}

func documentTitle(s string) string {
	doc, err := xhtml.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}
	if n := findElement(doc, "title"); n != nil {
		return NormalizeSpace(textContent(n))
	}
	return ""
}
