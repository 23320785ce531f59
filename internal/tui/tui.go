package tui

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Zuo-Peng/chimp/internal/store"
)

const debounceDelay = 200 * time.Millisecond

type browseMode int

const (
	modeSearch browseMode = iota // rows are message hits
	modeList                     // rows are sessions until something is typed
)

type searchResultMsg struct {
	query     string
	platform  string
	results   []item
	platforms []string // platforms seen while listing sessions
	err       error
}

type debounceTickMsg struct {
	query string
}

type model struct {
	st         *store.Store
	searchOpts store.SearchOptions
	mode       browseMode

	query      string
	input      textinput.Model
	results    []item
	platforms  []string
	cursor     int
	listOffset int

	preview    viewport.Model
	previewKey string

	width, height int
	ready         bool
	quitting      bool
	chosen        *item
}

func newInput(placeholder, value string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "> "
	ti.PromptStyle = styleInputPrompt
	ti.TextStyle = styleInput
	ti.CharLimit = 256
	ti.SetValue(value)
	ti.Focus()
	return ti
}

// Search opens the browser on message hits for query. It blocks until the
// user quits; a chosen hit's session id is copied to the clipboard.
func Search(st *store.Store, query string, opts store.SearchOptions, out io.Writer) error {
	return run(model{
		st:         st,
		searchOpts: opts,
		mode:       modeSearch,
		query:      query,
		input:      newInput("Search messages...", query),
		preview:    viewport.New(0, 0),
	}, out)
}

// Browse opens the browser on the imported sessions, newest first.
func Browse(st *store.Store, opts store.SearchOptions, out io.Writer) error {
	return run(model{
		st:         st,
		searchOpts: opts,
		mode:       modeList,
		input:      newInput("Type to search messages...", ""),
		preview:    viewport.New(0, 0),
	}, out)
}

func run(m model, out io.Writer) error {
	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if fm, ok := final.(model); ok && fm.chosen != nil {
		copySessionID(fm.chosen.SessionID, out)
	}
	return nil
}

// copySessionID puts id on the clipboard, falling back to printing it.
func copySessionID(id string, out io.Writer) {
	if err := clipboard.WriteAll(id); err != nil {
		fmt.Fprintln(out, id)
		return
	}
	fmt.Fprintf(out, "Copied to clipboard: %s\n", id)
	fmt.Fprintf(out, "Show it with: chimp show %s\n", id)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.reload())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height, m.ready = msg.Width, msg.Height, true
		l := m.layout()
		m.preview = newViewport(l.preview, l.height)
		m.previewKey = ""
		return m, m.loadCurrentPreview()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case debounceTickMsg:
		if msg.query != m.query {
			return m, nil
		}
		return m, m.reload()

	case searchResultMsg:
		return m.applyResults(msg)

	case previewRenderedMsg:
		m.applyPreview(msg)
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	l := m.layout()
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Choose):
		if r, ok := m.selected(); ok {
			m.chosen = &r
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case key.Matches(msg, keys.Up):
		return m.moveCursor(m.cursor - 1)
	case key.Matches(msg, keys.Down):
		return m.moveCursor(m.cursor + 1)
	case key.Matches(msg, keys.Platform):
		m.searchOpts.Platform = nextPlatform(m.platforms, m.searchOpts.Platform)
		return m, m.reload()
	case key.Matches(msg, keys.HalfUp):
		m.preview.LineUp(l.height / 2)
		return m, nil
	case key.Matches(msg, keys.HalfDown):
		m.preview.LineDown(l.height / 2)
		return m, nil
	case key.Matches(msg, keys.PageUp):
		m.preview.LineUp(l.height)
		return m, nil
	case key.Matches(msg, keys.PageDown):
		m.preview.LineDown(l.height)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if q := m.input.Value(); q != m.query {
		m.query = q
		return m, tea.Batch(cmd, debounce(q))
	}
	return m, cmd
}

func (m model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if !m.ready || len(m.results) == 0 {
		return m, nil
	}
	l := m.layout()
	where, row := l.at(msg.X, msg.Y, m.listOffset)
	wheel := msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown

	switch where {
	case regionList:
		switch {
		case msg.Button == tea.MouseButtonWheelUp:
			m.listOffset = max(m.listOffset-1, 0)
		case msg.Button == tea.MouseButtonWheelDown:
			last := max(len(m.results)-l.height/linesPerItem, 0)
			m.listOffset = min(m.listOffset+1, last)
		case msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress:
			if row < len(m.results) && row != m.cursor {
				return m.moveCursor(row)
			}
		}
	case regionPreview:
		if wheel {
			var cmd tea.Cmd
			m.preview, cmd = m.preview.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m model) moveCursor(to int) (tea.Model, tea.Cmd) {
	if to < 0 || to >= len(m.results) {
		return m, nil
	}
	m.cursor = to
	m.adjustListScroll(m.layout().height)
	return m, m.loadCurrentPreview()
}

func (m model) applyResults(msg searchResultMsg) (tea.Model, tea.Cmd) {
	if msg.query != m.query || msg.platform != m.searchOpts.Platform {
		return m, nil
	}
	if len(msg.platforms) > 0 {
		m.platforms = msg.platforms
	}
	m.results, m.cursor, m.listOffset = msg.results, 0, 0
	m.previewKey = ""
	if msg.err != nil {
		m.results = nil
		m.preview.SetContent(styleError.Render("Error: " + msg.err.Error()))
		return m, nil
	}
	if len(m.results) == 0 {
		m.preview.SetContent("")
		return m, nil
	}
	return m, m.loadCurrentPreview()
}

func (m *model) applyPreview(msg previewRenderedMsg) {
	if msg.key == m.previewKey {
		return
	}
	// the cursor moved on while this one rendered
	if r, ok := m.selected(); ok && msg.key != previewCacheKey(r) {
		return
	}
	m.previewKey = msg.key
	if msg.err != nil {
		m.preview.SetContent(styleError.Render("Preview error: " + msg.err.Error()))
		return
	}
	m.preview.SetContent(msg.content)
	if msg.hitLine > 0 {
		m.preview.SetYOffset(msg.hitLine)
	} else {
		m.preview.GotoTop()
	}
}

func (m model) View() string {
	if m.quitting || !m.ready {
		return ""
	}
	l := m.layout()

	list := stylePanelBorder.Width(l.list).Height(l.height).Render(m.renderList(l.list, l.height))
	m.preview.Width, m.preview.Height = l.preview, l.height
	preview := styleActiveBorder.Width(l.preview).Height(l.height).Render(m.preview.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		m.input.View(),
		lipgloss.JoinHorizontal(lipgloss.Top, list, preview),
		m.statusBar(),
	)
}

func (m model) layout() layout {
	return computeLayout(m.width, m.height)
}

func (m model) selected() (item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.results) {
		return item{}, false
	}
	return m.results[m.cursor], true
}

func (m model) listingSessions() bool {
	return m.mode == modeList && strings.TrimSpace(m.query) == ""
}

func (m model) statusBar() string {
	noun := "hits"
	if m.listingSessions() {
		noun = "sessions"
	}
	platform := m.searchOpts.Platform
	if platform == "" {
		platform = "all platforms"
	}
	parts := []string{fmt.Sprintf("%d %s", len(m.results), noun), platform}
	for _, k := range statusKeys {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return styleStatusBar.Render(strings.Join(parts, " | "))
}

// reload fetches rows for the current query and platform filter.
func (m model) reload() tea.Cmd {
	st, opts := m.st, m.searchOpts
	query, listing := m.query, m.listingSessions()
	if !listing && strings.TrimSpace(query) == "" {
		return func() tea.Msg { return searchResultMsg{query: query, platform: opts.Platform} }
	}
	return func() tea.Msg {
		res := searchResultMsg{query: query, platform: opts.Platform}
		ctx := context.Background()
		if listing {
			sessions, err := st.ListSessions(ctx)
			res.err = err
			for _, s := range sessions {
				if !slices.Contains(res.platforms, s.Platform) {
					res.platforms = append(res.platforms, s.Platform)
				}
				if opts.Platform == "" || s.Platform == opts.Platform {
					res.results = append(res.results, sessionItem(s))
				}
			}
			slices.Sort(res.platforms)
			return res
		}
		opts.Query = query
		hits, err := st.Search(ctx, opts)
		res.err = err
		for _, h := range hits {
			res.results = append(res.results, hitItem(h))
		}
		return res
	}
}

func debounce(query string) tea.Cmd {
	return tea.Tick(debounceDelay, func(time.Time) tea.Msg {
		return debounceTickMsg{query: query}
	})
}

// nextPlatform cycles "" -> platforms[0] -> ... -> "".
func nextPlatform(platforms []string, current string) string {
	if current == "" {
		if len(platforms) == 0 {
			return ""
		}
		return platforms[0]
	}
	i := slices.Index(platforms, current)
	if i < 0 || i+1 >= len(platforms) {
		return ""
	}
	return platforms[i+1]
}

func (m model) loadCurrentPreview() tea.Cmd {
	r, ok := m.selected()
	if !ok || previewCacheKey(r) == m.previewKey {
		return nil
	}
	return loadPreviewCmd(m.st, r, m.query, m.layout().preview)
}
