// Package library activates books: it loads a file, derives its id, builds
// the reader session and restores the saved position.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metcalfc/rebook/internal/reader"
	"github.com/metcalfc/rebook/internal/state"
)

// ErrNotFound is returned when no book in the library has the requested id.
var ErrNotFound = errors.New("book not found")

// Library opens books and persists their positions.
type Library struct {
	store  *state.StateStore
	logger *slog.Logger
}

// New creates a Library backed by store.
func New(store *state.StateStore, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: store, logger: logger}
}

// Book is an opened book and its session.
type Book struct {
	ID      string
	Path    string
	Session *reader.Session
	lib     *Library
}

// Open loads path, lays it out with opts and restores the saved position,
// clamped into the fresh layout.
func (l *Library) Open(path string, opts reader.Options) (*Book, error) {
	id, err := state.ComputeHash(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	rb, err := reader.LoadBook(path)
	if err != nil {
		return nil, err
	}
	sess := reader.NewSession(id, rb, opts)

	if saved, ok := l.store.Load(id); ok {
		want := reader.Position{PageIndex: saved.PageIndex, SentenceIndex: saved.SentenceIndex}
		got := sess.Restore(want)
		if got != want {
			l.logger.Info("saved position clamped", "book", id, "saved", want, "restored", got)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	l.logger.Info("book opened",
		"book", id,
		"title", rb.Title,
		"pages", sess.PageCount(),
		"sentences", sess.SentenceCount(),
		"page", sess.Position().PageIndex,
	)
	return &Book{ID: id, Path: abs, Session: sess, lib: l}, nil
}

// SavePosition clamps pos into the session layout and persists it.
func (b *Book) SavePosition(pos reader.Position) error {
	pos = b.Session.Clamp(pos)
	return b.lib.store.Save(b.ID, state.ReadingState{
		PageIndex:     pos.PageIndex,
		SentenceIndex: pos.SentenceIndex,
		Title:         b.Session.Book.Title,
		Path:          b.Path,
	})
}

// Forget removes the stored position for id.
func (l *Library) Forget(id string) error {
	if err := l.store.Clear(id); err != nil {
		return err
	}
	l.logger.Info("book forgotten", "book", id)
	return nil
}

// ForgetFile removes the stored position for the book at path.
func (l *Library) ForgetFile(path string) (string, error) {
	id, err := state.ComputeHash(path)
	if err != nil {
		return "", err
	}
	return id, l.Forget(id)
}

// Entry describes a book file in a library directory.
type Entry struct {
	ID       string           `json:"id"`
	Path     string           `json:"path"`
	Name     string           `json:"name"`
	Format   string           `json:"format"`
	Position *reader.Position `json:"position,omitempty"`
}

// Scan lists the readable books directly inside dir, sorted by name.
func (l *Library) Scan(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		format, err := reader.Lookup(f.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(dir, f.Name())
		id, err := state.ComputeHash(path)
		if err != nil {
			l.logger.Warn("skipping unreadable book", "path", path, "error", err)
			continue
		}
		e := Entry{ID: id, Path: path, Name: f.Name(), Format: format.Name()}
		if saved, ok := l.store.Load(id); ok {
			e.Position = &reader.Position{PageIndex: saved.PageIndex, SentenceIndex: saved.SentenceIndex}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find returns the entry in dir with the given id.
func (l *Library) Find(dir, id string) (Entry, error) {
	entries, err := l.Scan(dir)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// History returns stored positions, most recent first.
func (l *Library) History() []state.Entry {
	return l.store.List()
}
