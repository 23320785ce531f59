package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Choose   key.Binding
	Quit     key.Binding
	Platform key.Binding
	HalfUp   key.Binding
	HalfDown key.Binding
	PageUp   key.Binding
	PageDown key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "ctrl+k"), key.WithHelp("up/C-k", "previous")),
	Down:     key.NewBinding(key.WithKeys("down", "ctrl+j"), key.WithHelp("dn/C-j", "next")),
	Choose:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "copy session id")),
	Quit:     key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
	Platform: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "platform")),
	HalfUp:   key.NewBinding(key.WithKeys("ctrl+u"), key.WithHelp("C-u", "preview up")),
	HalfDown: key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("C-d", "preview down")),
	PageUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "preview page up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "preview page down")),
}

// statusKeys are listed in the status bar, in order.
var statusKeys = []key.Binding{keys.Choose, keys.Platform, keys.HalfDown, keys.Quit}
