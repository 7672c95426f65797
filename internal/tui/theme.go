package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorBorder  = lipgloss.Color("#4b5563")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorBg      = lipgloss.Color("#111827")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
	colorAccent  = lipgloss.Color("#3b82f6")
)

var (
	styleDimmed = lipgloss.NewStyle().Foreground(colorDimmed)
	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBright).
			Background(colorBg)
	styleSelected = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleError    = lipgloss.NewStyle().Foreground(colorDanger)
)

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder)
}

// typeColor gives each event family its own colour in the log.
func typeColor(eventType string) lipgloss.Color {
	switch {
	case strings.HasPrefix(eventType, "document."):
		return colorAccent
	case strings.HasPrefix(eventType, "wiki."):
		return colorHealthy
	case strings.HasPrefix(eventType, "system."):
		return colorWarning
	default:
		return colorDimmed
	}
}

