package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
	colorDim    = lipgloss.Color("#4E4E4E")
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	dimStyle       = lipgloss.NewStyle().Foreground(colorGray)
	dividerStyle   = lipgloss.NewStyle().Foreground(colorDim)
	errorStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	footerKeyStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(colorGray)

	statusStyles = map[string]lipgloss.Style{
		"ready":      lipgloss.NewStyle().Foreground(colorGreen),
		"listening":  lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		"processing": lipgloss.NewStyle().Foreground(colorYellow),
		"speaking":   lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
	}
)
