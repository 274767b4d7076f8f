package report

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#0969DA")
	accentColor  = lipgloss.Color("#2DA44E")
	warningColor = lipgloss.Color("#D29922")
	errorColor   = lipgloss.Color("#CF222E")
	dimColor     = lipgloss.Color("#6E7681")
	sourceColor  = lipgloss.Color("#FFA657")

	TitleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	SectionStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			MarginTop(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Width(18)

	ValueStyle = lipgloss.NewStyle().Bold(true)

	SourceStyle = lipgloss.NewStyle().
			Foreground(sourceColor).
			Bold(true)

	DimStyle = lipgloss.NewStyle().Foreground(dimColor)

	BoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	goodStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	fairStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	poorStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

// healthStyle colors a health score by bucket.
func healthStyle(score int) lipgloss.Style {
	switch {
	case score >= 70:
		return goodStyle
	case score >= 50:
		return fairStyle
	default:
		return poorStyle
	}
}
