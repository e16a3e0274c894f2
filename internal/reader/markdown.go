package reader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// MarkdownFormat implements Format for Markdown files. Each level-one
// heading starts a chapter.
type MarkdownFormat struct{}

func init() {
	Register(&MarkdownFormat{})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))
}

func (f *MarkdownFormat) Load(filename string) (*Book, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	md := newMarkdown()
	doc := md.Parser().Parse(text.NewReader(src))
	source := filepath.Base(filename)

	book := &Book{
		Title: strings.TrimSuffix(source, filepath.Ext(source)),
	}

	var current *Chapter
	var markup bytes.Buffer
	var plain []string

	flush := func() {
		if current == nil {
			return
		}
		current.HTML = markup.String()
		current.Text = strings.Join(plain, "\n")
		if strings.TrimSpace(current.Text) != "" {
			book.Chapters = append(book.Chapters, *current)
		}
		current = nil
		markup.Reset()
		plain = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			flush()
			current = &Chapter{Title: nodeText(n, src), SourceHref: source}
		}
		if current == nil {
			current = &Chapter{Title: "Document", SourceHref: source}
		}
		if err := md.Renderer().Render(&markup, src, n); err != nil {
			return nil, fmt.Errorf("render markdown: %w", err)
		}
		if t := nodeText(n, src); t != "" {
			plain = append(plain, t)
		}
	}
	flush()

	book.TOC = markdownTOC(doc, src, source)
	return book, nil
}

// TOC extracts the table of contents from a Markdown file by parsing headers.
func (f *MarkdownFormat) TOC(filename string) ([]TOCEntry, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	doc := newMarkdown().Parser().Parse(text.NewReader(src))
	return markdownTOC(doc, src, filepath.Base(filename)), nil
}

// markdownTOC lists every heading; h1 is level 0. The preview is taken from
// the block that follows the heading.
func markdownTOC(doc ast.Node, src []byte, source string) []TOCEntry {
	var entries []TOCEntry
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		entry := TOCEntry{
			Title: nodeText(n, src),
			Href:  source,
			Level: h.Level - 1,
		}
		if id, ok := h.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				entry.Href = source + "#" + string(b)
			}
		}
		if next := n.NextSibling(); next != nil {
			if _, isHeading := next.(*ast.Heading); !isHeading {
				entry.Preview = previewText(nodeText(next, src), previewWords)
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// nodeText gets the text content of a goldmark AST node.
func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock {
		if _, ok := n.(*ast.FencedCodeBlock); ok || n.Kind() == ast.KindCodeBlock {
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				buf.Write(line.Value(src))
			}
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
			continue
		}
		if s := nodeText(c, src); s != "" {
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(s)
		}
	}
	return NormalizeSpace(buf.String())
}
