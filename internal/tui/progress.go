package tui

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Zuo-Peng/chimp/internal/importer"
	"github.com/Zuo-Peng/chimp/internal/parse"
	"github.com/Zuo-Peng/chimp/internal/render"
)

type importProgressMsg struct {
	path string
	p    parse.ParseProgress
}

type importsDoneMsg struct {
	results []importer.Result
}

type importRow struct {
	path  string
	stage parse.Stage
	pct   float64
	msgs  int
}

type progressModel struct {
	rows     []importRow
	index    map[string]int
	bar      progress.Model
	spin     spinner.Model
	width    int
	results  []importer.Result
	done     bool
	quitting bool
	cancel   context.CancelFunc
}

func newProgressModel(paths []string, cancel context.CancelFunc) progressModel {
	m := progressModel{
		index:  make(map[string]int, len(paths)),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleInputPrompt)),
		cancel: cancel,
	}
	for _, p := range paths {
		m.index[p] = len(m.rows)
		m.rows = append(m.rows, importRow{path: p})
	}
	return m
}

// Import runs imp over paths with a live progress display and returns the
// results in input order. Esc or Ctrl-C cancels the remaining imports.
func Import(ctx context.Context, imp *importer.Importer, paths []string) ([]importer.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(paths, cancel))
	go func() {
		results := imp.ImportAll(ctx, paths, func(path string, pr parse.ParseProgress) {
			p.Send(importProgressMsg{path: path, p: pr})
		})
		p.Send(importsDoneMsg{results: results})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	fm := final.(progressModel)
	if fm.results == nil {
		// quit before the imports reported back
		return nil, context.Canceled
	}
	return fm.results, nil
}

func (m progressModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-50, 40), 10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case importProgressMsg:
		if i, ok := m.index[msg.path]; ok {
			r := &m.rows[i]
			r.stage = msg.p.Stage
			r.pct = max(r.pct, msg.p.Percentage)
			r.msgs = max(r.msgs, msg.p.MessagesProcessed)
		}
		return m, nil

	case importsDoneMsg:
		m.results = msg.results
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done || m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(styleTitle.Render(fmt.Sprintf("Importing %d file(s)", len(m.rows))))
	b.WriteString("\n\n")
	for _, r := range m.rows {
		name := render.Pad(filepath.Base(r.path), 28)
		switch r.stage {
		case "":
			fmt.Fprintf(&b, "  %s %s\n", name, styleStatusBar.Render("waiting"))
		case parse.StageDone:
			fmt.Fprintf(&b, "  %s %s %s\n", name, m.bar.ViewAs(1), styleDone.Render(fmt.Sprintf("%d messages", r.msgs)))
		default:
			fmt.Fprintf(&b, "%s %s %s %s\n", m.spin.View(), name, m.bar.ViewAs(r.pct/100), styleStatusBar.Render(string(r.stage)))
		}
	}
	b.WriteString("\n")
	b.WriteString(styleStatusBar.Render("Esc cancel"))
	return b.String()
}

// Summary prints one line per result.
func Summary(w io.Writer, results []importer.Result) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", styleError.Render("FAIL"), r.Path, r.Err)
			continue
		}
		fmt.Fprintf(w, "%s %s -> %s (%s, %d messages, %d members)\n",
			styleDone.Render(" OK "), r.Path, r.SessionID, r.Format, r.Messages, r.Members)
	}
}
