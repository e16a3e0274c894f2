//go:build gui

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/metcalfc/rebook/internal/config"
	"github.com/metcalfc/rebook/internal/reader"
)

// actionMsg runs a UI action on the event loop that owns the reading.
type actionMsg func(m *guiModel) tea.Cmd

type quitMsg struct{}

// snapshot is what the window shows, copied out of the event loop.
type snapshot struct {
	title    string
	pageText string
	status   string
	page     int
	pages    int
	ratio    float64
	active   bool
	toc      []reader.TOCEntry
}

// guiModel runs the reading on a headless bubbletea program and publishes a
// snapshot to the window after every message.
type guiModel struct {
	*reading
	notice  string
	publish func(snapshot)
}

func (m *guiModel) Init() tea.Cmd {
	m.render()
	return nil
}

func (m *guiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case actionMsg:
		m.notice = ""
		cmd = msg(m)
	case relayoutMsg:
		m.relayout(reader.Options(msg))
	case quitMsg:
		m.close()
		return m, tea.Quit
	default:
		cmd = m.update(msg)
	}
	m.render()
	return m, cmd
}

func (m *guiModel) View() string { return "" }

func (m *guiModel) render() {
	sess := m.session()
	pos := sess.Position()
	page, _ := sess.Page(pos.PageIndex)

	sentence := pos.SentenceIndex
	if m.sched.Active() {
		sentence = m.sched.Sentence()
	}
	s := snapshot{
		title:    sess.Book.Title,
		pageText: page.Text(),
		page:     pos.PageIndex,
		pages:    sess.PageCount(),
		active:   m.sched.Active(),
		toc:      append([]reader.TOCEntry(nil), sess.Book.TOC...),
	}
	if n := sess.SentenceCount(); n > 0 {
		s.ratio = float64(sentence+1) / float64(n)
	}
	current, total := sess.Progress()
	switch {
	case m.err != nil:
		s.status = errorText(m.err)
	case m.notice != "":
		s.status = m.notice
	default:
		s.status = fmt.Sprintf("Page %d/%d | Sentence %d/%d | %s",
			current, total, sentence+1, sess.SentenceCount(), m.status)
	}
	m.publish(s)
}

func runReader(ctx context.Context, r *reading, mgr *config.Manager, showTOC bool) error {
	a := app.New()
	w := a.NewWindow("rebook - " + r.session().Book.Title)

	statusLabel := widget.NewLabel("")
	statusLabel.Alignment = fyne.TextAlignCenter

	pageText := widget.NewLabel("")
	pageText.Wrapping = fyne.TextWrapWord
	pageScroll := container.NewVScroll(pageText)

	progressBar := widget.NewProgressBar()

	var p *tea.Program
	send := func(fn actionMsg) {
		go p.Send(fn)
	}

	prevButton := widget.NewButton("◀ Prev", func() {
		send(func(m *guiModel) tea.Cmd { m.prevPage(); return nil })
	})
	nextButton := widget.NewButton("Next ▶", func() {
		send(func(m *guiModel) tea.Cmd { m.nextPage(); return nil })
	})
	playButton := widget.NewButton("Play", func() {
		send(func(m *guiModel) tea.Cmd { return m.toggle() })
	})

	selection := widget.NewEntry()
	selection.SetPlaceHolder("Paste text from this page to read from there")
	readFrom := func(text string) {
		send(func(m *guiModel) tea.Cmd {
			cmd, err := m.jump(text)
			m.notice = errorText(err)
			return cmd
		})
	}
	selection.OnSubmitted = readFrom
	readButton := widget.NewButton("Read from here", func() { readFrom(selection.Text) })

	controlsLabel := widget.NewLabel("SPACE: play/pause  ←/→: page  T: contents  F: fullscreen  Q: quit")
	controlsLabel.Alignment = fyne.TextAlignCenter

	var toc []reader.TOCEntry
	tocList := widget.NewList(
		func() int { return len(toc) },
		func() fyne.CanvasObject {
			return container.NewVBox(
				widget.NewLabel("Title"),
				widget.NewLabel("Preview"),
			)
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			entry := toc[id]
			vbox := obj.(*fyne.Container)
			titleLabel := vbox.Objects[0].(*widget.Label)
			previewLabel := vbox.Objects[1].(*widget.Label)

			indent := strings.Repeat("  ", entry.Level)
			titleLabel.SetText(fmt.Sprintf("%s%s  (p.%d)", indent, entry.Title, entry.PageIndex+1))
			titleLabel.TextStyle.Bold = true

			preview := entry.Preview
			if len(preview) > 50 {
				preview = preview[:50] + "..."
			}
			previewLabel.SetText(indent + preview)
		},
	)

	bottom := container.NewVBox(
		progressBar,
		container.NewBorder(nil, nil, nil, readButton, selection),
		container.NewGridWithColumns(3, prevButton, playButton, nextButton),
		controlsLabel,
	)
	readingContent := container.NewBorder(statusLabel, bottom, nil, nil, pageScroll)

	tocContainer := container.NewBorder(
		widget.NewLabel("Table of Contents"),
		widget.NewLabel("Click to jump • T to close"),
		nil, nil,
		tocList,
	)
	tocPanel := container.NewHSplit(tocContainer, readingContent)
	tocPanel.Offset = 0.33
	tocVisible := showTOC && len(r.session().Book.TOC) > 0
	if !tocVisible {
		tocContainer.Hide()
	}

	tocList.OnSelected = func(id widget.ListItemID) {
		if id < len(toc) {
			page := toc[id].PageIndex
			send(func(m *guiModel) tea.Cmd { m.goToPage(page); return nil })
		}
		tocList.UnselectAll()
	}

	lastPage := -1
	publish := func(s snapshot) {
		fyne.Do(func() {
			w.SetTitle("rebook - " + s.title)
			pageText.SetText(s.pageText)
			if s.page != lastPage {
				pageScroll.ScrollToTop()
				lastPage = s.page
			}
			statusLabel.SetText(s.status)
			progressBar.SetValue(s.ratio)
			if s.active {
				playButton.SetText("Pause")
			} else {
				playButton.SetText("Play")
			}
			if s.page == 0 {
				prevButton.Disable()
			} else {
				prevButton.Enable()
			}
			if s.page >= s.pages-1 {
				nextButton.Disable()
			} else {
				nextButton.Enable()
			}
			toc = s.toc
			tocList.Refresh()
		})
	}

	p = tea.NewProgram(&guiModel{reading: r, publish: publish},
		tea.WithoutRenderer(),
		tea.WithInput(nil),
		tea.WithContext(ctx),
	)

	mgr.OnChange(func(c *config.Config) {
		p.Send(relayoutMsg(c.ReaderOptions()))
	})
	mgr.WatchConfig()

	w.Canvas().SetOnTypedKey(func(key *fyne.KeyEvent) {
		switch key.Name {
		case fyne.KeySpace:
			send(func(m *guiModel) tea.Cmd { return m.toggle() })
		case fyne.KeyLeft:
			send(func(m *guiModel) tea.Cmd { m.prevPage(); return nil })
		case fyne.KeyRight:
			send(func(m *guiModel) tea.Cmd { m.nextPage(); return nil })
		case fyne.KeyF:
			w.SetFullScreen(!w.FullScreen())
		case fyne.KeyT:
			if len(toc) > 0 {
				tocVisible = !tocVisible
				if tocVisible {
					tocContainer.Show()
				} else {
					tocContainer.Hide()
				}
				tocPanel.Refresh()
			}
		case fyne.KeyQ:
			a.Quit()
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		if err != nil {
			r.close()
		}
		done <- err
		if ctx.Err() != nil {
			fyne.Do(a.Quit)
		}
	}()

	w.Resize(fyne.NewSize(900, 700))
	w.SetContent(container.NewStack(tocPanel))
	w.ShowAndRun()

	p.Send(quitMsg{})
	if err := <-done; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
