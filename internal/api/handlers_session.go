package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/metcalfc/rebook/internal/library"
	"github.com/metcalfc/rebook/internal/reader"
)

type sessionResponse struct {
	BookID        string          `json:"book_id"`
	Title         string          `json:"title"`
	Author        string          `json:"author,omitempty"`
	PageCount     int             `json:"page_count"`
	SentenceCount int             `json:"sentence_count"`
	Position      reader.Position `json:"position"`
	Percent       int             `json:"percent"`
}

func sessionInfo(b *library.Book) sessionResponse {
	return sessionResponse{
		BookID:        b.ID,
		Title:         b.Session.Book.Title,
		Author:        b.Session.Book.Author,
		PageCount:     b.Session.PageCount(),
		SentenceCount: b.Session.SentenceCount(),
		Position:      b.Session.Position(),
		Percent:       b.Session.PercentRead(),
	}
}

// withBook runs fn with the active book under the session lock.
func (s *Server) withBook(w http.ResponseWriter, fn func(*library.Book)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil {
		jsonError(w, "no active book", http.StatusConflict)
		return
	}
	fn(s.book)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.withBook(w, func(b *library.Book) {
		writeJSON(w, sessionInfo(b))
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		jsonError(w, "page must be an integer", http.StatusBadRequest)
		return
	}
	s.withBook(w, func(b *library.Book) {
		page, ok := b.Session.Page(n)
		if !ok {
			jsonError(w, "page out of range", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"page_index": n,
			"html":       page.HTML(),
			"text":       page.Text(),
			"word_count": page.WordCount,
		})
	})
}

func (s *Server) handleSentence(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "sentence"))
	if err != nil {
		jsonError(w, "sentence must be an integer", http.StatusBadRequest)
		return
	}
	s.withBook(w, func(b *library.Book) {
		text, ok := b.Session.Sentence(i)
		if !ok {
			jsonError(w, "sentence out of range", http.StatusNotFound)
			return
		}
		page, _ := b.Session.PageOfSentence(i)
		writeJSON(w, map[string]any{
			"sentence_index": i,
			"text":           text,
			"page_index":     page,
		})
	})
}

type resolveRequest struct {
	Text      string `json:"text"`
	PageIndex int    `json:"page_index"`
	Anchor    *int   `json:"anchor,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	anchor := -1
	if req.Anchor != nil {
		anchor = *req.Anchor
	}

	s.withBook(w, func(b *library.Book) {
		i, err := b.Session.Resolve(req.Text, req.PageIndex, anchor)
		switch {
		case errors.Is(err, reader.ErrSelectionTooShort):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case errors.Is(err, reader.ErrSelectionNotFound):
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		page, _ := b.Session.PageOfSentence(i)
		writeJSON(w, map[string]int{"sentence_index": i, "page_index": page})
	})
}

// handlePosition moves the session to the clamped position and saves it.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var pos reader.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.withBook(w, func(b *library.Book) {
		pos = b.Session.Restore(pos)
		if err := b.SavePosition(pos); err != nil {
			s.log.Error("failed to save position", "book", b.ID, "error", err)
			jsonError(w, "failed to save position", http.StatusInternalServerError)
			return
		}
		writeJSON(w, pos)
	})
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	href := r.URL.Query().Get("href")
	if href == "" {
		jsonError(w, "href query parameter is required", http.StatusBadRequest)
		return
	}
	id := r.URL.Query().Get("id")
	s.withBook(w, func(b *library.Book) {
		page, ok := b.Session.PageForAnchor(href, id)
		if !ok {
			jsonError(w, "anchor not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]int{"page_index": page})
	})
}

type tocEntry struct {
	Title     string `json:"title"`
	Href      string `json:"href"`
	Preview   string `json:"preview,omitempty"`
	Level     int    `json:"level"`
	PageIndex int    `json:"page_index"`
}

func (s *Server) handleTOC(w http.ResponseWriter, r *http.Request) {
	s.withBook(w, func(b *library.Book) {
		out := make([]tocEntry, 0, len(b.Session.Book.TOC))
		for _, e := range b.Session.Book.TOC {
			out = append(out, tocEntry{
				Title:     e.Title,
				Href:      e.Href,
				Preview:   e.Preview,
				Level:     e.Level,
				PageIndex: e.PageIndex,
			})
		}
		writeJSON(w, map[string]any{"entries": out})
	})
}
