package tui

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette
var (
	colorAccent = lipgloss.Color("12")
	colorOK     = lipgloss.Color("10")
	colorFail   = lipgloss.Color("9")
	colorDim    = lipgloss.Color("240")
	colorCursor = lipgloss.Color("11")
	colorFrame  = lipgloss.Color("238")
)

var (
	styleInput       = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleInputPrompt = styleInput

	styleListSelected = lipgloss.NewStyle().Foreground(colorCursor).Bold(true)

	stylePanelBorder  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFrame)
	styleActiveBorder = stylePanelBorder.BorderForeground(colorAccent)

	styleStatusBar = lipgloss.NewStyle().Foreground(colorDim).Padding(0, 1)
	styleTitle     = lipgloss.NewStyle().Foreground(colorDim).Bold(true)
	styleError     = lipgloss.NewStyle().Foreground(colorFail)
	styleDone      = lipgloss.NewStyle().Foreground(colorOK)
)

// badge colors; platforms not listed render uncolored
var platformColors = map[string]lipgloss.Color{
	"chatlab":  lipgloss.Color("14"),
	"discord":  lipgloss.Color("13"),
	"line":     lipgloss.Color("2"),
	"telegram": colorAccent,
	"whatsapp": colorOK,
}

// platformBadge renders platform in a fixed-width column.
func platformBadge(platform string) string {
	style := lipgloss.NewStyle().Width(9)
	if c, ok := platformColors[platform]; ok {
		style = style.Foreground(c)
	}
	return style.Render(platform)
}
