package reader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoChapters is returned when a source yields no readable text.
	ErrNoChapters = errors.New("no readable chapters found")
	// ErrUnsupportedFormat is returned by Lookup for unregistered extensions.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Format defines a chapter provider for one family of file types.
type Format interface {
	Name() string
	Extensions() []string
	Load(filename string) (*Book, error)
}

var registry []Format

// Register adds a format reader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Lookup returns the registered format handling filename's extension.
func Lookup(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// LoadBook loads a book using a registered format or the plain text fallback.
func LoadBook(filename string) (*Book, error) {
	f, err := Lookup(filename)
	if err != nil {
		f = &TextFormat{}
	}
	book, err := f.Load(filename)
	if err != nil {
		return nil, err
	}
	if len(book.Chapters) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filename), ErrNoChapters)
	}
	return book, nil
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

// TextFormat treats a file as a single chapter of plain text lines.
type TextFormat struct{}

func (f *TextFormat) Name() string         { return "Text" }
func (f *TextFormat) Extensions() []string { return []string{".txt"} }

func (f *TextFormat) Load(filename string) (*Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	book := &Book{
		Title: strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
	}
	if text != "" {
		book.Chapters = []Chapter{{Title: book.Title, Text: text, SourceHref: filepath.Base(filename)}}
	}
	return book, nil
}

func init() {
	Register(&TextFormat{})
}
