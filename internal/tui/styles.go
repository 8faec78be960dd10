package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleEventsBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleRunning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Bold(true)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
