package report

import (
	"github.com/charmbracelet/lipgloss"
)

// Status styles
var (
	StyleStatusOK = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	StyleSpill = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))
)

// Table element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	StyleCell = lipgloss.NewStyle().
			Padding(0, 1)

	StyleBorder = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)
