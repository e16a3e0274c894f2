// Package api exposes the reading engine over HTTP/JSON: book activation,
// pages, sentences, selection resolution and position saving.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/metcalfc/rebook/internal/library"
	"github.com/metcalfc/rebook/internal/reader"
)

// Server is the HTTP API server for rebook.
type Server struct {
	router chi.Router
	lib    *library.Library
	dir    string
	log    *slog.Logger

	mu   sync.Mutex
	opts reader.Options
	book *library.Book
}

// NewServer serves the books in dir. opts is the layout used for activated
// books.
func NewServer(lib *library.Library, dir string, opts reader.Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		lib:  lib,
		dir:  dir,
		log:  log,
		opts: opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api/books", func(r chi.Router) {
		r.Get("/", s.handleListBooks)
		r.Post("/{bookID}/activate", s.handleActivate)
		r.Delete("/{bookID}", s.handleForget)
	})

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Get("/pages/{page}", s.handlePage)
		r.Get("/sentences/{sentence}", s.handleSentence)
		r.Post("/resolve", s.handleResolve)
		r.Put("/position", s.handlePosition)
		r.Get("/anchor", s.handleAnchor)
		r.Get("/toc", s.handleTOC)
	})

	s.router = r
}

// SetOptions changes the layout. The active book is re-paginated and keeps
// its current sentence.
func (s *Server) SetOptions(opts reader.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	if s.book != nil && s.book.Session.Relayout(opts) {
		s.log.Info("session relaid out",
			"book", s.book.ID,
			"pages", s.book.Session.PageCount(),
			"page", s.book.Session.Position().PageIndex,
		)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
