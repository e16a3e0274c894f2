package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metcalfc/rebook/internal/audio"
	"github.com/metcalfc/rebook/internal/config"
	"github.com/metcalfc/rebook/internal/library"
	"github.com/metcalfc/rebook/internal/narration"
	"github.com/metcalfc/rebook/internal/playback"
	"github.com/metcalfc/rebook/internal/reader"
)

// reading is the narrated book shared by the terminal and desktop front
// ends. All methods run on the bubbletea event loop.
type reading struct {
	book   *library.Book
	sched  *playback.Scheduler
	logger *slog.Logger

	status   string
	err      error
	finished bool
}

func newReading(book *library.Book, cfg *config.Config, logger *slog.Logger) (*reading, error) {
	nc := cfg.NarrationConfig()
	nc.Logger = logger
	narrator, err := narration.New(nc)
	if errors.Is(err, narration.ErrMissingAPIKey) {
		// Reading still works; play reports the missing key.
		logger.Warn("narration disabled", "provider", nc.Provider, "error", err)
		narrator = unavailable{name: nc.Provider, err: err}
	} else if err != nil {
		return nil, err
	}
	player, err := audio.New(cfg.Audio.Player, logger)
	if err != nil {
		return nil, err
	}

	sched := playback.New(book.Session, narrator, player, playback.Options{
		Voice:          nc.Voice,
		ChunkSentences: cfg.Playback.ChunkSentences,
		RequestTimeout: cfg.Playback.RequestTimeout,
		Saver:          book,
		Logger:         logger,
	})
	return &reading{
		book:   book,
		sched:  sched,
		logger: logger,
		status: "Paused",
	}, nil
}

func (r *reading) session() *reader.Session { return r.book.Session }

// update records scheduler notifications and forwards completions to the
// scheduler.
func (r *reading) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case playback.ChunkMsg:
		r.err = nil
		r.finished = false
		r.status = fmt.Sprintf("Reading sentence %d of %d", msg.Start+1, r.session().SentenceCount())
	case playback.PageChangedMsg:
		current, total := r.session().Progress()
		r.status = fmt.Sprintf("Page %d of %d", current, total)
	case playback.ProgressMsg:
		r.status = fmt.Sprintf("Reading sentence %d of %d", msg.Sentence+1, msg.Total)
	case playback.CompletedMsg:
		r.finished = true
		r.status = "Finished"
	case playback.FailedMsg:
		r.err = msg.Err
		r.status = "Stopped"
	}
	return r.sched.Update(msg)
}

func (r *reading) toggle() tea.Cmd {
	if r.sched.Active() {
		r.sched.Pause()
		r.status = "Paused"
		return nil
	}
	r.status = "Generating audio..."
	return r.sched.Toggle()
}

func (r *reading) nextPage() bool { return r.session().NextPage() }
func (r *reading) prevPage() bool { return r.session().PrevPage() }

// goToPage moves the view without touching playback.
func (r *reading) goToPage(page int) bool { return r.session().GoToPage(page) }

// jump resolves selected text on the visible page. While playing, narration
// restarts at the match; otherwise only the position moves.
func (r *reading) jump(selected string) (tea.Cmd, error) {
	if !reader.Selectable(selected) {
		return nil, reader.ErrSelectionTooShort
	}
	anchor := -1
	if r.sched.Active() {
		anchor = r.sched.Sentence()
	}
	page := r.session().Position().PageIndex
	i, err := r.session().Resolve(selected, page, anchor)
	if err != nil {
		return nil, err
	}
	if r.sched.Active() {
		r.status = "Generating audio..."
		return r.sched.Restart(i), nil
	}
	r.session().GoToSentence(i)
	r.save()
	current, total := r.session().Progress()
	r.status = fmt.Sprintf("Jumped to page %d of %d", current, total)
	return nil, nil
}

// relayout applies new layout options from a config reload.
func (r *reading) relayout(opts reader.Options) {
	if r.session().Relayout(opts) {
		r.logger.Info("relaid out", "word_limit", opts.WordLimit, "lookahead", opts.Lookahead,
			"pages", r.session().PageCount())
	}
}

func (r *reading) save() {
	if err := r.book.SavePosition(r.session().Position()); err != nil {
		r.logger.Error("failed to save position", "book", r.book.ID, "error", err)
	}
}

// close stops playback and saves the position.
func (r *reading) close() {
	r.sched.Pause()
	r.save()
}

// errorText is the user-facing form of err.
func errorText(err error) string {
	var nerr *narration.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, reader.ErrSelectionNotFound):
		return "No matching sentence found"
	case errors.Is(err, reader.ErrSelectionTooShort):
		return "Selection too short"
	case errors.As(err, &nerr) && nerr.Temporary():
		return fmt.Sprintf("%s is unavailable, try again (%s)", nerr.Provider, nerr.Message)
	case errors.As(err, &nerr):
		return fmt.Sprintf("%s rejected the request: %s", nerr.Provider, nerr.Message)
	}
	return err.Error()
}

// unavailable is the narrator used when the configured provider cannot be
// built.
type unavailable struct {
	name string
	err  error
}

func (u unavailable) Name() string { return u.name }

func (u unavailable) Synthesize(ctx context.Context, text string, voice narration.Voice) (*narration.Clip, error) {
	return nil, u.err
}

// relayoutMsg carries layout options from the config watcher into the event
// loop.
type relayoutMsg reader.Options
