package ui

import "github.com/charmbracelet/lipgloss"

// Colors used by the terminal output.
var (
	ColorRed    = lipgloss.Color("#FF5F5F")
	ColorGreen  = lipgloss.Color("#5FD75F")
	ColorYellow = lipgloss.Color("#FFD75F")
	ColorCyan   = lipgloss.Color("#5FD7FF")
	ColorGray   = lipgloss.Color("#808080")
	ColorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Width(12)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	HintStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	BarFilledStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	BarEmptyStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)
)

// ScoreStyle colors a 0-100 score: green from 80, yellow from 60, red below.
func ScoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	case score >= 60:
		return lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	}
}
