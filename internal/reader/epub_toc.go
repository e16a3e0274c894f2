package reader

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
)

const ncxMediaType = "application/x-dtbncx+xml"

var errNoNCX = errors.New("no NCX file found in EPUB")

// ncx is the subset of toc.ncx the reader uses.
type ncx struct {
	NavMap struct {
		Points []navPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type navPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []navPoint `xml:"navPoint"`
}

// walk visits every nav point depth first with its nesting level.
func walk(points []navPoint, level int, fn func(np navPoint, level int)) {
	for _, np := range points {
		fn(np, level)
		walk(np.Children, level+1, fn)
	}
}

// titles maps each nav target to the first label pointing at it. Targets
// are keyed as written, without the fragment, and by base name.
func (n *ncx) titles() map[string]string {
	out := make(map[string]string)
	if n == nil {
		return out
	}
	walk(n.NavMap.Points, 0, func(np navPoint, _ int) {
		title := strings.TrimSpace(np.Label)
		doc, _, _ := strings.Cut(np.Content.Src, "#")
		for _, k := range []string{np.Content.Src, doc, path.Base(doc)} {
			if _, ok := out[k]; !ok {
				out[k] = title
			}
		}
	})
	return out
}

// entries flattens the nav map. previews is keyed by document base name.
func (n *ncx) entries(previews map[string]string) []TOCEntry {
	if n == nil {
		return nil
	}
	var out []TOCEntry
	walk(n.NavMap.Points, 0, func(np navPoint, level int) {
		doc, _, _ := strings.Cut(np.Content.Src, "#")
		out = append(out, TOCEntry{
			Title:   strings.TrimSpace(np.Label),
			Href:    np.Content.Src,
			Preview: previews[path.Base(doc)],
			Level:   level,
		})
	})
	return out
}

// readNCX finds the NCX through the manifest, or any .ncx entry in the
// archive, and parses it.
func readNCX(filename string, book *epub.Rootfile) (*ncx, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	file := findNCX(zr.File, book)
	if file == nil {
		return nil, errNoNCX
	}

	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var toc ncx
	if err := xml.NewDecoder(rc).Decode(&toc); err != nil {
		return nil, fmt.Errorf("failed to parse NCX: %w", err)
	}
	return &toc, nil
}

// findNCX prefers the manifest's NCX item and otherwise takes the first
// .ncx entry in the archive.
func findNCX(files []*zip.File, book *epub.Rootfile) *zip.File {
	for _, item := range book.Manifest.Items {
		if item.MediaType != ncxMediaType {
			continue
		}
		for _, f := range files {
			if f.Name == item.HREF || path.Base(f.Name) == path.Base(item.HREF) {
				return f
			}
		}
	}
	for _, f := range files {
		if strings.EqualFold(path.Ext(f.Name), ".ncx") {
			return f
		}
	}
	return nil
}

// TOC extracts the table of contents from an EPUB file's NCX. Page indexes
// are filled in once a session lays the book out.
func (f *EPUBFormat) TOC(filename string) ([]TOCEntry, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()
	if len(rc.Rootfiles) == 0 {
		return nil, errors.New("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]

	toc, err := readNCX(filename, book)
	if err != nil {
		return nil, err
	}

	previews := make(map[string]string)
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil || ref.Item.HREF == "" {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}
		previews[path.Base(ref.Item.HREF)] = previewText(extractTextFromHTML(string(data)), previewWords)
	}
	return toc.entries(previews), nil
}

const previewWords = 10

// previewText returns the first n words of text, with an ellipsis when cut.
func previewText(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		return strings.Join(words[:n], " ") + "..."
	}
	return strings.Join(words, " ")
}
