//go:build !gui

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/metcalfc/rebook/internal/config"
	"github.com/metcalfc/rebook/internal/reader"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)

	currentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Padding(0, 1)

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	tocSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true)

	tocStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))
)

type keyMap struct {
	Play   key.Binding
	Next   key.Binding
	Prev   key.Binding
	First  key.Binding
	Last   key.Binding
	Search key.Binding
	TOC    key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Prev, k.Next, k.Search, k.TOC, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Search},
		{k.Prev, k.Next, k.First, k.Last},
		{k.TOC, k.Help, k.Quit},
	}
}

var keys = keyMap{
	Play:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	Next:   key.NewBinding(key.WithKeys("right", "l", "n"), key.WithHelp("→", "next page")),
	Prev:   key.NewBinding(key.WithKeys("left", "h", "p"), key.WithHelp("←", "prev page")),
	First:  key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "first page")),
	Last:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "last page")),
	Search: key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "read from text")),
	TOC:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "contents")),
	Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type model struct {
	*reading

	viewport  viewport.Model
	progress  progress.Model
	search    textinput.Model
	help      help.Model
	searching bool
	tocOpen   bool
	tocIndex  int
	notice    string
	quitting  bool
	width     int
	height    int
}

func newModel(r *reading, showTOC bool) model {
	search := textinput.New()
	search.Placeholder = "type text from this page"
	search.Prompt = "/ "
	search.CharLimit = 400

	return model{
		reading:  r,
		viewport: viewport.New(80, 20),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		search:   search,
		help:     help.New(),
		tocOpen:  showTOC && len(r.session().Book.TOC) > 0,
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-6, 3)
		m.progress.Width = max(msg.Width-4, 10)
		m.help.Width = msg.Width
		m.refresh()
		return m, nil

	case relayoutMsg:
		m.relayout(reader.Options(msg))
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		if m.tocOpen {
			return m.updateTOC(msg)
		}
		m.notice = ""
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			m.close()
			return m, tea.Quit
		case key.Matches(msg, keys.Play):
			cmd = m.toggle()
		case key.Matches(msg, keys.Next):
			m.nextPage()
		case key.Matches(msg, keys.Prev):
			m.prevPage()
		case key.Matches(msg, keys.First):
			m.goToPage(0)
		case key.Matches(msg, keys.Last):
			m.goToPage(m.session().PageCount() - 1)
		case key.Matches(msg, keys.Search):
			m.searching = true
			m.search.SetValue("")
			cmd = m.search.Focus()
		case key.Matches(msg, keys.TOC):
			if len(m.session().Book.TOC) > 0 {
				m.tocOpen = true
			} else {
				m.notice = "This book has no table of contents"
			}
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		default:
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		m.refresh()
		return m, cmd
	}

	cmd = m.update(msg)
	m.refresh()
	return m, cmd
}

func (m model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		cmd, err := m.jump(m.search.Value())
		m.notice = errorText(err)
		m.refresh()
		return m, cmd
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m model) updateTOC(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	toc := m.session().Book.TOC
	switch msg.String() {
	case "up", "k":
		if m.tocIndex > 0 {
			m.tocIndex--
		}
	case "down", "j":
		if m.tocIndex < len(toc)-1 {
			m.tocIndex++
		}
	case "enter":
		m.goToPage(toc[m.tocIndex].PageIndex)
		m.tocOpen = false
	case "esc", "t", "q":
		m.tocOpen = false
	}
	m.refresh()
	return m, nil
}

// refresh renders the current page, or the contents list, into the viewport.
func (m *model) refresh() {
	if m.tocOpen {
		m.viewport.SetContent(m.tocView())
		return
	}
	pos := m.session().Position()
	page, ok := m.session().Page(pos.PageIndex)
	if !ok {
		m.viewport.SetContent("")
		return
	}
	text := page.Text()
	if m.sched.Active() {
		sentences := m.session().Sentences()
		start := m.sched.Sentence()
		end := min(start+m.sched.Chunk(), len(sentences))
		if start < end {
			text = highlight(text, sentences[start:end])
		}
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(max(m.width-2, 20)).Padding(0, 1).Render(text))
	m.viewport.GotoTop()
}

// highlight styles the first occurrence of each sentence in text. Sentences
// that span a paragraph break stay plain.
func highlight(text string, sentences []string) string {
	for _, s := range sentences {
		if i := strings.Index(text, s); i >= 0 {
			text = text[:i] + currentStyle.Render(s) + text[i+len(s):]
		}
	}
	return text
}

func (m model) tocView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Contents") + "\n\n")
	for i, e := range m.session().Book.TOC {
		line := fmt.Sprintf("%s%s  p.%d", strings.Repeat("  ", e.Level), e.Title, e.PageIndex+1)
		if i == m.tocIndex {
			b.WriteString(tocSelectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString(tocStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	current, total := m.session().Progress()
	header := headerStyle.Render(fmt.Sprintf("%s  ·  Page %d/%d  ·  %d%%",
		m.session().Book.Title, current, total, m.session().PercentRead()))

	sentence := m.session().Position().SentenceIndex
	if m.sched.Active() {
		sentence = m.sched.Sentence()
	}
	count := m.session().SentenceCount()
	ratio := 0.0
	if count > 0 {
		ratio = float64(sentence+1) / float64(count)
	}

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(errorText(m.err))
	case m.finished:
		status = completeStyle.Render(" Finished")
	case m.notice != "":
		status = statusStyle.Render(m.notice)
	default:
		status = statusStyle.Render(fmt.Sprintf("%s · %s · sentence %d/%d",
			m.status, m.sched.State(), sentence+1, count))
	}

	footer := m.help.View(keys)
	if m.searching {
		footer = m.search.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		" "+m.progress.ViewAs(ratio),
		status,
		footer,
	)
}

func runReader(ctx context.Context, r *reading, mgr *config.Manager, showTOC bool) error {
	p := tea.NewProgram(newModel(r, showTOC), tea.WithAltScreen(), tea.WithContext(ctx))

	mgr.OnChange(func(c *config.Config) {
		p.Send(relayoutMsg(c.ReaderOptions()))
	})
	mgr.WatchConfig()

	_, err := p.Run()
	if err != nil {
		r.close()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
	}
	return err
}
