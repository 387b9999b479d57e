package ui

import "github.com/charmbracelet/lipgloss"

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	neonRed     = lipgloss.Color("#FF0000")
	dimWhite    = lipgloss.Color("#B0B0B0")
	darkBg      = lipgloss.Color("#0A0E27")

	headerStyle = lipgloss.NewStyle().
			Foreground(darkBg).
			Background(neonMagenta).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Foreground(dimWhite).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(neonMagenta)

	labelStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(neonYellow)

	titleStyle = lipgloss.NewStyle().
			Background(neonMagenta).
			Foreground(darkBg).
			Bold(true).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().Foreground(neonGreen).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(neonOrange).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(neonRed).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dimWhite).Faint(true)
)

// StatusStyle picks the color for an outcome, run or account status
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded", "completed", "valid":
		return successStyle
	case "deferred", "running", "skipped":
		return warningStyle
	case "errored", "expired", "banned":
		return errorStyle
	default:
		return cellStyle
	}
}
