package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keyboard bindings of the watcher.
type KeyMap struct {
	Up        key.Binding
	Down      key.Binding
	Subscribe key.Binding
	Clear     key.Binding
	Refresh   key.Binding
	Quit      key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev type"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next type"),
		),
		Subscribe: key.NewBinding(
			key.WithKeys("enter", "s"),
			key.WithHelp("enter", "subscribe"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear log"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reload types"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
