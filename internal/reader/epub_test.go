package reader

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestEPUB builds a minimal two-chapter EPUB with an NCX table of contents.
func writeTestEPUB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`},
		{"OEBPS/content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Test Book</dc:title>
    <dc:creator>A. Author</dc:creator>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`},
		{"OEBPS/toc.ncx", `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1" playOrder="1">
      <navLabel><text>Beginning</text></navLabel>
      <content src="ch1.xhtml"/>
      <navPoint id="n1a" playOrder="2">
        <navLabel><text>The Storm</text></navLabel>
        <content src="ch1.xhtml#storm"/>
      </navPoint>
    </navPoint>
    <navPoint id="n2" playOrder="3">
      <navLabel><text>Ending</text></navLabel>
      <content src="ch2.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`},
		{"OEBPS/ch1.xhtml", `<html><head><title>One</title></head><body>
<h1>Beginning</h1>
<p>It was a quiet morning in the village. The baker opened early.</p>
<p id="storm">Then the storm arrived without warning.</p>
</body></html>`},
		{"OEBPS/ch2.xhtml", `<html><head><title>Two</title></head><body>
<h1>Ending</h1>
<p>By evening the sky had cleared again.</p>
</body></html>`},
	}

	zw := zip.NewWriter(f)
	for _, file := range files {
		w, err := zw.Create(file.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", file.name, err)
		}
		if _, err := w.Write([]byte(file.body)); err != nil {
			t.Fatalf("zip write %s: %v", file.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}

func TestExtractTextFromHTML(t *testing.T) {
	htmlContent := `
	<html>
		<head><title>Test</title></head>
		<body>
			<h1>Chapter 1</h1>
			<p>This is the <b>first</b> paragraph.</p>
			<p>
				This is the second paragraph
				with a newline.
			</p>
			<div>Some <span>nested</span> text.</div>
		</body>
	</html>
	`

	want := "Chapter 1\nThis is the first paragraph.\nThis is the second paragraph with a newline.\nSome nested text.\n"
	if got := extractTextFromHTML(htmlContent); got != want {
		t.Errorf("extractTextFromHTML() = %q, want %q", got, want)
	}
}

func TestEPUBLoad(t *testing.T) {
	path := writeTestEPUB(t)

	book, err := LoadBook(path)
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	if book.Title != "The Test Book" {
		t.Errorf("Title = %q", book.Title)
	}
	if book.Author != "A. Author" {
		t.Errorf("Author = %q", book.Author)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("got %d chapters, want 2", len(book.Chapters))
	}

	tests := []struct {
		title, href, contains string
	}{
		{"Beginning", "ch1.xhtml", "quiet morning"},
		{"Ending", "ch2.xhtml", "sky had cleared"},
	}
	for i, tt := range tests {
		ch := book.Chapters[i]
		if ch.Title != tt.title {
			t.Errorf("chapter %d title = %q, want %q", i, ch.Title, tt.title)
		}
		if ch.SourceHref != tt.href {
			t.Errorf("chapter %d href = %q, want %q", i, ch.SourceHref, tt.href)
		}
		if !strings.Contains(ch.Text, tt.contains) {
			t.Errorf("chapter %d text %q missing %q", i, ch.Text, tt.contains)
		}
		if ch.HTML == "" {
			t.Errorf("chapter %d has no markup", i)
		}
	}
}

func TestEPUBTOC(t *testing.T) {
	path := writeTestEPUB(t)

	f := &EPUBFormat{}
	toc, err := f.TOC(path)
	if err != nil {
		t.Fatalf("TOC extraction failed: %v", err)
	}

	want := []TOCEntry{
		{Title: "Beginning", Href: "ch1.xhtml", Level: 0},
		{Title: "The Storm", Href: "ch1.xhtml#storm", Level: 1},
		{Title: "Ending", Href: "ch2.xhtml", Level: 0},
	}
	if len(toc) != len(want) {
		t.Fatalf("got %d entries, want %d", len(toc), len(want))
	}
	for i, w := range want {
		got := toc[i]
		if got.Title != w.Title || got.Href != w.Href || got.Level != w.Level {
			t.Errorf("entry %d = %+v, want %+v", i, got, w)
		}
		if got.Preview == "" {
			t.Errorf("entry %d has no preview", i)
		}
	}
}

func TestEPUBSessionAnchors(t *testing.T) {
	book, err := LoadBook(writeTestEPUB(t))
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	s := NewSession("epub", book, Options{WordLimit: 6})

	storm, ok := s.PageForAnchor("ch1.xhtml", "storm")
	if !ok {
		t.Fatal("anchor storm not found")
	}
	page, _ := s.Page(storm)
	if !strings.Contains(page.Text(), "storm arrived") {
		t.Errorf("anchor page %d text %q", storm, page.Text())
	}
	if book.TOC[1].PageIndex != storm {
		t.Errorf("TOC page = %d, want %d", book.TOC[1].PageIndex, storm)
	}

	end, ok := s.PageForAnchor("OEBPS/ch2.xhtml", "")
	if !ok || end <= storm {
		t.Errorf("ch2 page = %d, %v; want after %d", end, ok, storm)
	}
}

func TestEPUBMissingFile(t *testing.T) {
	f := &EPUBFormat{}
	if _, err := f.Load(filepath.Join(t.TempDir(), "missing.epub")); err == nil {
		t.Error("expected error")
	}
}
