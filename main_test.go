package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metcalfc/rebook/internal/audio"
	"github.com/metcalfc/rebook/internal/config"
	"github.com/metcalfc/rebook/internal/library"
	"github.com/metcalfc/rebook/internal/narration"
	"github.com/metcalfc/rebook/internal/playback"
	"github.com/metcalfc/rebook/internal/reader"
	"github.com/metcalfc/rebook/internal/state"
)

// Four 8-word paragraphs of two sentences each: with an 8-word limit page i
// holds sentences 2i and 2i+1.
const harborText = `Alpha ships left the harbor. Winds were calm.
Bravo crews sang loudly aboard. Nobody slept well.
Charlie lanterns burned until dawn. The storm came.
Delta waves broke every mast. Silence returned slowly.
`

type echoNarrator struct{}

func (echoNarrator) Name() string { return "echo" }

func (echoNarrator) Synthesize(ctx context.Context, text string, voice narration.Voice) (*narration.Clip, error) {
	return &narration.Clip{Data: []byte(text), MIME: "audio/mpeg"}, nil
}

type fixture struct {
	r      *reading
	store  *state.StateStore
	player *audio.SilentPlayer
	path   string
}

func writeHarbor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harbor.txt")
	if err := os.WriteFile(path, []byte(harborText), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := writeHarbor(t)
	store, err := state.NewStateStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.DiscardHandler)
	book, err := library.New(store, logger).Open(path, reader.Options{WordLimit: 8})
	if err != nil {
		t.Fatal(err)
	}
	player := &audio.SilentPlayer{}
	sched := playback.New(book.Session, echoNarrator{}, player, playback.Options{
		Saver:  book,
		Logger: logger,
	})
	return &fixture{
		r:      &reading{book: book, sched: sched, logger: logger, status: "Paused"},
		store:  store,
		player: player,
		path:   path,
	}
}

// drain executes cmd and feeds every resulting message back through the
// reading until no work is left.
func (f *fixture) drain(cmd tea.Cmd) []tea.Msg {
	var seen []tea.Msg
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		msg := c()
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		seen = append(seen, msg)
		queue = append(queue, f.r.update(msg))
	}
	return seen
}

func TestReadingPlaysToEnd(t *testing.T) {
	f := newFixture(t)

	msgs := f.drain(f.r.toggle())

	if !f.r.finished || f.r.status != "Finished" {
		t.Errorf("finished = %v, status = %q", f.r.finished, f.r.status)
	}
	if f.player.Played() != 4 {
		t.Errorf("played %d clips, want 4", f.player.Played())
	}
	var pages []int
	for _, msg := range msgs {
		if pc, ok := msg.(playback.PageChangedMsg); ok {
			pages = append(pages, pc.Page)
		}
	}
	if len(pages) != 3 || pages[0] != 1 || pages[2] != 3 {
		t.Errorf("page changes = %v, want [1 2 3]", pages)
	}
	st, ok := f.store.Load(f.r.book.ID)
	if !ok || st.PageIndex != 3 || st.SentenceIndex != 7 {
		t.Errorf("saved = %+v", st)
	}

	f.drain(f.r.toggle())
	if f.player.Played() != 4 || f.r.status != "Finished" {
		t.Errorf("toggle after the end played %d clips, status %q", f.player.Played(), f.r.status)
	}
}

func TestReadingToggleWhileActive(t *testing.T) {
	f := newFixture(t)

	cmd := f.r.toggle()
	if cmd == nil || !f.r.sched.Active() {
		t.Fatal("toggle did not start playback")
	}
	if f.r.toggle() != nil || f.r.sched.Active() || f.r.status != "Paused" {
		t.Errorf("second toggle: active=%v status=%q", f.r.sched.Active(), f.r.status)
	}
	// The in-flight request lands after the pause and is dropped.
	f.drain(cmd)
	if f.player.Played() != 0 {
		t.Errorf("played %d clips after pause", f.player.Played())
	}
}

func TestReadingJump(t *testing.T) {
	t.Run("idle moves and saves", func(t *testing.T) {
		f := newFixture(t)
		cmd, err := f.r.jump("nobody slept well")
		if err != nil || cmd != nil {
			t.Fatalf("jump = %v, %v", cmd, err)
		}
		if got := f.r.session().Position(); got != (reader.Position{PageIndex: 1, SentenceIndex: 3}) {
			t.Errorf("position = %+v", got)
		}
		if st, ok := f.store.Load(f.r.book.ID); !ok || st.SentenceIndex != 3 {
			t.Errorf("saved = %+v", st)
		}
	})

	t.Run("playing restarts narration", func(t *testing.T) {
		f := newFixture(t)
		f.r.toggle()
		cmd, err := f.r.jump("Charlie lanterns burned")
		if err != nil || cmd == nil {
			t.Fatalf("jump = %v, %v", cmd, err)
		}
		if f.r.sched.Sentence() != 4 {
			t.Errorf("scheduler at %d, want 4", f.r.sched.Sentence())
		}
	})

	tests := []struct {
		text string
		want error
	}{
		{"x", reader.ErrSelectionTooShort},
		{"storm", reader.ErrSelectionTooShort},
		{"submarine periscope", reader.ErrSelectionNotFound},
	}
	for _, tt := range tests {
		f := newFixture(t)
		if _, err := f.r.jump(tt.text); !errors.Is(err, tt.want) {
			t.Errorf("jump(%q) = %v, want %v", tt.text, err, tt.want)
		}
	}
}

func TestReadingRelayoutAndClose(t *testing.T) {
	f := newFixture(t)
	f.r.session().GoToSentence(5)

	f.r.relayout(reader.Options{WordLimit: 16})
	if got := f.r.session().Position(); got != (reader.Position{PageIndex: 1, SentenceIndex: 5}) {
		t.Errorf("after relayout = %+v", got)
	}

	f.r.close()
	st, ok := f.store.Load(f.r.book.ID)
	if !ok || st.PageIndex != 1 || st.SentenceIndex != 5 {
		t.Errorf("saved on close = %+v", st)
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{reader.ErrSelectionNotFound, "No matching sentence found"},
		{reader.ErrSelectionTooShort, "Selection too short"},
		{
			&narration.Error{Provider: "minimax", StatusCode: 503, Message: "overloaded"},
			"minimax is unavailable, try again (overloaded)",
		},
		{
			&narration.Error{Provider: "elevenlabs", StatusCode: 401, Message: "bad key"},
			"elevenlabs rejected the request: bad key",
		},
		{errors.New("disk full"), "disk full"},
	}
	for _, tt := range tests {
		if got := errorText(tt.err); got != tt.want {
			t.Errorf("errorText(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInspect(t *testing.T) {
	book, err := reader.LoadBook(writeHarbor(t))
	if err != nil {
		t.Fatal(err)
	}
	sess := reader.NewSession("harbor", book, reader.Options{WordLimit: 8})

	out := inspect(sess, true)
	for _, want := range []string{"harbor", "Pages:", "Sentences:", "Drift:", "7-8"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "rebook dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestForgetCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeHarbor(t)

	store, err := state.NewStateStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := state.ComputeHash(path)
	store.Save(id, state.ReadingState{PageIndex: 2, SentenceIndex: 4})

	out, err := execute(t, "--state-dir", dir, "forget", path)
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if !strings.Contains(out, id) {
		t.Errorf("output = %q", out)
	}

	reopened, _ := state.NewStateStore(dir)
	if _, ok := reopened.Load(id); ok {
		t.Error("position survived forget")
	}
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rebook.yaml")
	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "word_limit: 250") {
		t.Errorf("config = %q, %v", data, err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Error("expected error when file exists")
	}
}

func TestNewReadingWithoutKey(t *testing.T) {
	t.Setenv("REBOOK_MINIMAX_API_KEY", "")
	f := newFixture(t)

	cfg := config.DefaultConfig()
	cfg.Audio.Player = audio.SilentName
	r, err := newReading(f.r.book, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newReading: %v", err)
	}
	f.r = r

	f.drain(r.toggle())
	if !errors.Is(r.err, narration.ErrMissingAPIKey) || !errors.Is(r.err, playback.ErrNarrationFailed) {
		t.Errorf("err = %v, want missing key narration failure", r.err)
	}
	if r.sched.Active() {
		t.Error("scheduler still active after failure")
	}
}
