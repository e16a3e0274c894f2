package reader

// Book is the text source handed to the engine by a chapter provider.
type Book struct {
	Title    string
	Author   string
	Chapters []Chapter
	TOC      []TOCEntry
}

// Chapter is one spine document. HTML is set for structured sources; Text
// is always set and is used when HTML is empty.
type Chapter struct {
	Title      string
	Text       string
	HTML       string
	SourceHref string
}

// TOCEntry represents a single entry in a table of contents
type TOCEntry struct {
	Title     string
	Href      string
	Preview   string
	Level     int
	PageIndex int
}

// BlockKind classifies a content block extracted from chapter markup.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockListItem
	BlockQuote
	BlockImage
	BlockLine
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockListItem:
		return "list-item"
	case BlockQuote:
		return "quote"
	case BlockImage:
		return "image"
	case BlockLine:
		return "line"
	}
	return "paragraph"
}

// Paragraph is one content block: plain text for matching, markup for
// rendering, and the source file it came from for anchor navigation.
type Paragraph struct {
	Kind    BlockKind
	Text    string
	HTML    string
	Source  string
	Anchors []string
}

// TOCProvider is an optional interface for formats that support TOC extraction
type TOCProvider interface {
	TOC(filename string) ([]TOCEntry, error)
}
