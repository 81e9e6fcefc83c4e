package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7D56F4")
	mutedColor   = lipgloss.Color("241")
	errorColor   = lipgloss.Color("#FF5F87")
	selfColor    = lipgloss.Color("#04B575")
	otherColor   = lipgloss.Color("#5FAFFF")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(primaryColor).
			Padding(0, 1)

	identityStyle = lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)

	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(otherColor)
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(selfColor)
	timeStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	bodyStyle   = lipgloss.NewStyle().PaddingLeft(2)

	statusStyle  = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	inputStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primaryColor)
	invalidStyle = inputStyle.BorderForeground(errorColor)
)
