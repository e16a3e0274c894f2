package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/metcalfc/rebook/internal/library"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lib.Scan(s.dir)
	if err != nil {
		jsonError(w, "failed to list books: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []library.Entry{}
	}

	s.mu.Lock()
	active := ""
	if s.book != nil {
		active = s.book.ID
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"books": entries, "active": active})
}

// handleActivate replaces the active session with a fresh one for the book.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookID")
	entry, err := s.lib.Find(s.dir, id)
	if errors.Is(err, library.ErrNotFound) {
		jsonError(w, "book not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to list books: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.lib.Open(entry.Path, s.opts)
	if err != nil {
		jsonError(w, "failed to open book: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.book = book
	writeJSON(w, sessionInfo(book))
}

// handleForget clears the stored position and drops the session if the book
// is active.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookID")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lib.Forget(id); err != nil {
		jsonError(w, "failed to forget book: "+err.Error(), http.StatusInternalServerError)
		return
	}
	dropped := s.book != nil && s.book.ID == id
	if dropped {
		s.book = nil
	}
	writeJSON(w, map[string]any{"forgotten": id, "session_closed": dropped})
}
