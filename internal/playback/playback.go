// Package playback drives chunked narration of a book: it requests audio for
// two sentences at a time, plays it, keeps one chunk of lookahead in flight,
// and moves the reading position as chunks finish.
//
// The Scheduler is a cooperative state machine in the bubbletea style. Every
// entry point returns a tea.Cmd; the caller runs the command and feeds the
// resulting message back through Update on the same goroutine that owns the
// scheduler. Completions carry the request token that was current when the
// work was issued, and anything stale is dropped.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metcalfc/rebook/internal/audio"
	"github.com/metcalfc/rebook/internal/narration"
	"github.com/metcalfc/rebook/internal/reader"
)

const (
	// DefaultChunkSentences is the number of sentences narrated per clip.
	DefaultChunkSentences = 2
	// DefaultRequestTimeout bounds a single narration request.
	DefaultRequestTimeout = 60 * time.Second
)

// ErrNarrationFailed wraps a provider failure for a scheduled chunk.
var ErrNarrationFailed = errors.New("narration failed")

// State is the scheduler's playback state.
type State int

const (
	Idle State = iota
	Playing
	Generating
	Advancing
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Generating:
		return "generating"
	case Advancing:
		return "advancing"
	}
	return "idle"
}

// Book is the part of a reader session the scheduler walks.
type Book interface {
	SentenceCount() int
	Text(start, n int) string
	PageOfSentence(i int) (int, bool)
	Position() reader.Position
	GoToSentence(i int) bool
}

// PositionSaver persists the reading position.
type PositionSaver interface {
	SavePosition(pos reader.Position) error
}

// Notifications returned to the caller as command results.
type (
	// ChunkMsg reports the sentences whose audio has started.
	ChunkMsg struct {
		Start, Count int
	}
	// PageChangedMsg reports that playback moved onto a new page.
	PageChangedMsg struct {
		Page, Sentence int
	}
	// ProgressMsg reports a sentence advance within the same page.
	ProgressMsg struct {
		Sentence, Total int
	}
	// CompletedMsg reports that the last chunk finished.
	CompletedMsg struct{}
	// FailedMsg reports that playback stopped on an error.
	FailedMsg struct {
		Sentence int
		Err      error
	}
)

type narrationMsg struct {
	token    uint64
	voice    uint64
	start    int
	prefetch bool
	clip     *narration.Clip
	err      error
}

type audioEndedMsg struct {
	token uint64
	start int
	err   error
}

// Options configures a Scheduler.
type Options struct {
	Voice          narration.Voice
	ChunkSentences int
	RequestTimeout time.Duration
	Saver          PositionSaver
	Logger         *slog.Logger
}

// Scheduler owns the playback cursor and prefetch queue for one book.
type Scheduler struct {
	book     Book
	narrator narration.Provider
	player   audio.Player
	saver    PositionSaver
	voice    narration.Voice
	chunk    int
	timeout  time.Duration
	logger   *slog.Logger

	state       State
	sentence    int
	token       uint64
	voiceGen    uint64
	advancing   bool
	prefetching bool
	queue       map[int]*narration.Clip

	// audioCtx is cancelled whenever the token moves, so clips queued to
	// play under an old token never start.
	audioCtx  context.Context
	stopAudio context.CancelFunc

	// finished is the position playback completed at, if it has not moved.
	finished *reader.Position
}

// New creates an idle scheduler positioned at the book's current sentence.
func New(book Book, narrator narration.Provider, player audio.Player, opts Options) *Scheduler {
	if opts.ChunkSentences <= 0 {
		opts.ChunkSentences = DefaultChunkSentences
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scheduler{
		book:     book,
		narrator: narrator,
		player:   player,
		saver:    opts.Saver,
		voice:    opts.Voice,
		chunk:    opts.ChunkSentences,
		timeout:  opts.RequestTimeout,
		logger:   opts.Logger,
		sentence: book.Position().SentenceIndex,
		queue:    make(map[int]*narration.Clip),
	}
	s.audioCtx, s.stopAudio = context.WithCancel(context.Background())
	return s
}

// bump invalidates every outstanding completion and any clip that has not
// started playing.
func (s *Scheduler) bump() {
	s.token++
	s.stopAudio()
	s.audioCtx, s.stopAudio = context.WithCancel(context.Background())
}

// State returns the current playback state.
func (s *Scheduler) State() State { return s.state }

// Active reports whether playback is in progress.
func (s *Scheduler) Active() bool { return s.state != Idle }

// Sentence returns the first sentence of the current chunk.
func (s *Scheduler) Sentence() int { return s.sentence }

// Chunk returns the sentences per chunk.
func (s *Scheduler) Chunk() int { return s.chunk }

// SetVoice changes the voice for subsequent requests. Queued clips and any
// prefetch already in flight are dropped; the chunk playing now finishes.
func (s *Scheduler) SetVoice(v narration.Voice) {
	s.voice = v
	s.voiceGen++
	s.prefetching = false
	clear(s.queue)
}

// Start begins playback at sentence from, stopping any clip that is playing.
// It is a no-op while a chunk advance is already in progress.
func (s *Scheduler) Start(from int) tea.Cmd {
	if s.advancing {
		s.logger.Debug("start ignored, advance in progress", "from", from)
		return nil
	}
	if s.Active() {
		s.Pause()
	}
	if from < 0 {
		from = 0
	}
	s.bump()
	s.finished = nil
	s.sentence = from
	return s.playChunk()
}

// Pause stops playback and invalidates every outstanding completion.
// Requests already sent to the provider are not cancelled; their results
// are discarded when they arrive.
func (s *Scheduler) Pause() {
	s.bump()
	s.state = Idle
	s.advancing = false
	s.prefetching = false
	clear(s.queue)
	s.player.Stop()
}

// Restart jumps to sentence i and plays from there.
func (s *Scheduler) Restart(i int) tea.Cmd {
	s.Pause()
	s.book.GoToSentence(i)
	return s.Start(i)
}

// Toggle pauses active playback or starts it from the book's position. When
// playback already completed and the position has not moved since, it
// reports completion again instead of replaying the last sentence.
func (s *Scheduler) Toggle() tea.Cmd {
	if s.Active() {
		s.Pause()
		return nil
	}
	pos := s.book.Position()
	if s.finished != nil && *s.finished == pos {
		return emit(CompletedMsg{})
	}
	return s.Start(pos.SentenceIndex)
}

// Update applies a completion message and returns follow-up work.
// Messages the scheduler does not own are ignored.
func (s *Scheduler) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case narrationMsg:
		if msg.prefetch {
			return s.prefetched(msg)
		}
		return s.generated(msg)
	case audioEndedMsg:
		return s.audioEnded(msg)
	}
	return nil
}

// playChunk enters Playing for the chunk at the cursor.
func (s *Scheduler) playChunk() tea.Cmd {
	if s.sentence >= s.book.SentenceCount() {
		return s.complete()
	}
	s.advancing = true
	if clip, ok := s.queue[s.sentence]; ok {
		delete(s.queue, s.sentence)
		return s.startAudio(s.sentence, clip)
	}
	s.state = Generating
	return s.generate(s.sentence, false)
}

func (s *Scheduler) generate(start int, prefetch bool) tea.Cmd {
	token, voiceGen := s.token, s.voiceGen
	text := s.book.Text(start, s.chunk)
	voice := s.voice
	narrator := s.narrator
	timeout := s.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		clip, err := narrator.Synthesize(ctx, text, voice)
		return narrationMsg{token: token, voice: voiceGen, start: start, prefetch: prefetch, clip: clip, err: err}
	}
}

func (s *Scheduler) generated(msg narrationMsg) tea.Cmd {
	if msg.token != s.token || s.state != Generating || msg.start != s.sentence {
		s.logger.Debug("discarding stale narration", "start", msg.start, "cursor", s.sentence, "state", s.state)
		return nil
	}
	if msg.err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrNarrationFailed, msg.err))
	}
	return s.startAudio(msg.start, msg.clip)
}

func (s *Scheduler) prefetched(msg narrationMsg) tea.Cmd {
	if msg.token != s.token || msg.voice != s.voiceGen {
		s.logger.Debug("discarding stale prefetch", "start", msg.start)
		return nil
	}
	s.prefetching = false
	if msg.err != nil {
		s.logger.Warn("prefetch failed", "start", msg.start, "error", msg.err)
		return nil
	}
	switch {
	case s.state == Generating && msg.start == s.sentence:
		// The chunk caught up with its own prefetch; play it now and let the
		// synchronous request be discarded.
		return s.startAudio(msg.start, msg.clip)
	case msg.start < s.sentence || (msg.start == s.sentence && s.state == Playing):
		s.logger.Debug("discarding passed prefetch", "start", msg.start)
		if s.state == Playing {
			return s.prefetch(s.sentence + s.chunk)
		}
		return nil
	}
	s.queue[msg.start] = msg.clip
	return nil
}

func (s *Scheduler) startAudio(start int, clip *narration.Clip) tea.Cmd {
	s.state = Playing
	s.advancing = false
	s.sentence = start

	token := s.token
	player := s.player
	ctx := s.audioCtx
	play := func() tea.Msg {
		err := player.Play(ctx, clip)
		return audioEndedMsg{token: token, start: start, err: err}
	}

	count := min(s.chunk, s.book.SentenceCount()-start)
	return tea.Batch(emit(ChunkMsg{Start: start, Count: count}), s.prefetch(start+s.chunk), play)
}

// prefetch requests the chunk at next unless one is in flight, it is
// already queued, or the book ends first.
func (s *Scheduler) prefetch(next int) tea.Cmd {
	if s.prefetching || next >= s.book.SentenceCount() {
		return nil
	}
	if _, ok := s.queue[next]; ok {
		return nil
	}
	s.prefetching = true
	return s.generate(next, true)
}

func (s *Scheduler) audioEnded(msg audioEndedMsg) tea.Cmd {
	if msg.token != s.token || s.state != Playing || msg.start != s.sentence {
		s.logger.Debug("discarding stale audio end", "start", msg.start, "cursor", s.sentence)
		return nil
	}
	if msg.err != nil && !errors.Is(msg.err, audio.ErrStopped) {
		return s.fail(msg.err)
	}
	return s.advance()
}

// advance moves past the finished chunk, reports the move and starts the
// next chunk.
func (s *Scheduler) advance() tea.Cmd {
	s.state = Advancing
	s.advancing = true
	s.sentence += s.chunk

	total := s.book.SentenceCount()
	if s.sentence >= total {
		return s.complete()
	}

	before := s.book.Position().PageIndex
	s.book.GoToSentence(s.sentence)
	pos := s.book.Position()

	var note tea.Cmd
	if pos.PageIndex != before {
		s.save(pos)
		note = emit(PageChangedMsg{Page: pos.PageIndex, Sentence: s.sentence})
	} else {
		note = emit(ProgressMsg{Sentence: s.sentence, Total: total})
	}
	return tea.Batch(note, s.playChunk())
}

func (s *Scheduler) complete() tea.Cmd {
	s.state = Idle
	s.advancing = false
	s.prefetching = false
	clear(s.queue)
	if last := s.book.SentenceCount() - 1; last >= 0 {
		s.book.GoToSentence(last)
		pos := s.book.Position()
		s.finished = &pos
		s.save(pos)
	}
	s.logger.Info("playback complete")
	return emit(CompletedMsg{})
}

func (s *Scheduler) fail(err error) tea.Cmd {
	s.logger.Error("playback stopped", "sentence", s.sentence, "error", err)
	sentence := s.sentence
	s.bump()
	s.state = Idle
	s.advancing = false
	s.prefetching = false
	return emit(FailedMsg{Sentence: sentence, Err: err})
}

func (s *Scheduler) save(pos reader.Position) {
	if s.saver == nil {
		return
	}
	if err := s.saver.SavePosition(pos); err != nil {
		s.logger.Warn("failed to save position", "error", err)
	}
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}
