package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/chimp/internal/store"
)

// linesPerItem is the number of terminal lines each result occupies.
const linesPerItem = 2

// item is one row of the browser: a whole session in list mode, a single
// message in search mode.
type item struct {
	SessionID string
	Name      string
	Platform  string
	MessageID int64 // -1 for a session row
	When      time.Time
	Detail    string
}

func sessionItem(s store.SessionInfo) item {
	return item{
		SessionID: s.ID,
		Name:      s.Name,
		Platform:  s.Platform,
		MessageID: -1,
		When:      s.ImportedAt,
		Detail:    fmt.Sprintf("%d messages, %d members, %s", s.MessageCount, s.MemberCount, s.Format),
	}
}

func hitItem(h store.Hit) item {
	return item{
		SessionID: h.SessionID,
		Name:      h.SessionName + " / " + h.SenderName,
		Platform:  h.Platform,
		MessageID: h.MessageID,
		When:      h.Timestamp,
		Detail:    h.Snippet,
	}
}

// renderList renders the left panel with scrolling.
func (m model) renderList(width, height int) string {
	if len(m.results) == 0 {
		empty := lipgloss.NewStyle().
			Foreground(colorDim).
			Width(width).
			Height(height).
			Align(lipgloss.Center, lipgloss.Center).
			Render("No results")
		return empty
	}

	var lines []string
	for i, r := range m.results {
		if i < m.listOffset {
			continue
		}
		if len(lines)+linesPerItem > height {
			break
		}
		lines = append(lines, formatItem(r, width, i == m.cursor)...)
	}

	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

// formatItem formats a row as two lines:
//
//	line 1: [>] platform  date  name
//	line 2:    detail (dimmed)
func formatItem(r item, width int, selected bool) []string {
	date := "     "
	if !r.When.IsZero() {
		date = r.When.Local().Format("01-02")
	}

	name := strings.ReplaceAll(r.Name, "\n", " ")
	nameMax := max(width-2-9-6-2, 0)
	if runewidth.StringWidth(name) > nameMax {
		name = runewidth.Truncate(name, nameMax, "")
	}

	line1 := fmt.Sprintf("%s %s %s", platformBadge(r.Platform), date, name)
	if selected {
		line1 = styleListSelected.Render("> ") + line1
	} else {
		line1 = "  " + line1
	}

	detail := strings.ReplaceAll(r.Detail, "\n", " ")
	detail = strings.ReplaceAll(detail, "\t", " ")
	detail = strings.ReplaceAll(detail, ">>>", "")
	detail = strings.ReplaceAll(detail, "<<<", "")
	detailMax := max(width-4, 0)
	if runewidth.StringWidth(detail) > detailMax {
		detail = runewidth.Truncate(detail, detailMax, "")
	}
	line2 := "    " + lipgloss.NewStyle().Foreground(colorDim).Render(detail)

	return []string{line1, line2}
}

// adjustListScroll keeps the cursor visible within the list viewport.
func (m *model) adjustListScroll(listHeight int) {
	visibleItems := max(listHeight/linesPerItem, 1)
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+visibleItems {
		m.listOffset = m.cursor - visibleItems + 1
	}
}
