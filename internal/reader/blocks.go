package reader

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

var lineBreaks = regexp.MustCompile(`\n+`)

// Paragraphs flattens a book into document-ordered paragraphs. Chapters with
// markup contribute structured blocks; the rest contribute one paragraph per
// non-empty line.
func Paragraphs(book *Book) []Paragraph {
	var out []Paragraph
	for _, ch := range book.Chapters {
		var paras []Paragraph
		if strings.TrimSpace(ch.HTML) != "" {
			p, err := ParagraphsFromHTML(ch.HTML, ch.SourceHref)
			if err == nil {
				paras = p
			}
		}
		if !hasText(paras) {
			paras = ParagraphsFromText(ch.Text, ch.SourceHref)
		}
		out = append(out, paras...)
	}
	return out
}

func hasText(paras []Paragraph) bool {
	for _, p := range paras {
		if p.Text != "" {
			return true
		}
	}
	return false
}

// ParagraphsFromText splits plain text into one paragraph per non-empty line.
func ParagraphsFromText(text, source string) []Paragraph {
	var out []Paragraph
	for _, line := range lineBreaks.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Paragraph{
			Kind:   BlockLine,
			Text:   line,
			HTML:   "<p>" + html.EscapeString(line) + "</p>",
			Source: source,
		})
	}
	return out
}

// ParagraphsFromHTML extracts content blocks from a chapter document. The
// outermost block element wins: a <blockquote> holding two <p> elements is a
// single quote block.
func ParagraphsFromHTML(markup, source string) ([]Paragraph, error) {
	doc, err := xhtml.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse chapter html: %w", err)
	}
	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}

	x := &blockExtractor{source: source}
	x.walk(root)
	if len(x.pending) > 0 && len(x.out) > 0 {
		last := &x.out[len(x.out)-1]
		last.Anchors = append(last.Anchors, x.pending...)
	}
	return x.out, nil
}

type blockExtractor struct {
	source  string
	pending []string
	out     []Paragraph
}

func (x *blockExtractor) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		if t := NormalizeSpace(n.Data); t != "" {
			x.emit(BlockParagraph, t, "<p>"+html.EscapeString(t)+"</p>", nil)
		}
		return
	case xhtml.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			x.walk(c)
		}
		return
	}

	switch n.Data {
	case "script", "style", "head", "title", "template":
		return
	case "img", "image", "svg":
		x.emit(BlockImage, "", render(n), collectIDs(n))
		return
	}

	kind, isBlock := blockKinds[n.Data]
	if !isBlock && isContainer(n.Data) && !hasBlockDescendant(n) && NormalizeSpace(textContent(n)) != "" {
		kind, isBlock = BlockParagraph, true
	}
	if isBlock {
		text := NormalizeSpace(textContent(n))
		if text == "" && !containsImage(n) {
			x.pending = append(x.pending, collectIDs(n)...)
			return
		}
		if text == "" {
			kind = BlockImage
		}
		x.emit(kind, text, render(n), collectIDs(n))
		return
	}

	if id := attr(n, "id"); id != "" {
		x.pending = append(x.pending, id)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		x.walk(c)
	}
}

func (x *blockExtractor) emit(kind BlockKind, text, markup string, ids []string) {
	anchors := append(x.pending, ids...)
	x.pending = nil
	x.out = append(x.out, Paragraph{
		Kind:    kind,
		Text:    text,
		HTML:    markup,
		Source:  x.source,
		Anchors: anchors,
	})
}

var blockKinds = map[string]BlockKind{
	"p":          BlockParagraph,
	"pre":        BlockParagraph,
	"dt":         BlockParagraph,
	"dd":         BlockParagraph,
	"figcaption": BlockParagraph,
	"h1":         BlockHeading,
	"h2":         BlockHeading,
	"h3":         BlockHeading,
	"h4":         BlockHeading,
	"h5":         BlockHeading,
	"h6":         BlockHeading,
	"li":         BlockListItem,
	"blockquote": BlockQuote,
}

func isContainer(tag string) bool {
	switch tag {
	case "div", "section", "article", "aside", "td", "th", "figure", "main":
		return true
	}
	return false
}

func hasBlockDescendant(n *xhtml.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xhtml.ElementNode {
			continue
		}
		if _, ok := blockKinds[c.Data]; ok || isContainer(c.Data) || c.Data == "ul" || c.Data == "ol" || c.Data == "table" {
			return true
		}
		if hasBlockDescendant(c) {
			return true
		}
	}
	return false
}

func containsImage(n *xhtml.Node) bool {
	if n.Type == xhtml.ElementNode && (n.Data == "img" || n.Data == "image" || n.Data == "svg") {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if containsImage(c) {
			return true
		}
	}
	return false
}

func textContent(n *xhtml.Node) string {
	var buf strings.Builder
	var extract func(*xhtml.Node)
	extract = func(n *xhtml.Node) {
		switch {
		case n.Type == xhtml.TextNode:
			buf.WriteString(n.Data)
		case n.Type == xhtml.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		case n.Type == xhtml.ElementNode && n.Data == "br":
			buf.WriteByte(' ')
		}
		_, block := blockKinds[n.Data]
		block = n.Type == xhtml.ElementNode && (block || isContainer(n.Data))
		if block {
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
		if block {
			buf.WriteByte(' ')
		}
	}
	extract(n)
	return buf.String()
}

func collectIDs(n *xhtml.Node) []string {
	var ids []string
	var visit func(*xhtml.Node)
	visit = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			if id := attr(n, "id"); id != "" {
				ids = append(ids, id)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return ids
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findElement(n *xhtml.Node, tag string) *xhtml.Node {
	if n.Type == xhtml.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func render(n *xhtml.Node) string {
	var buf strings.Builder
	if err := xhtml.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
