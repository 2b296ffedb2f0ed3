package tui

import (
	"github.com/charmbracelet/lipgloss"

	"regaudit/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	queryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))

	// Fallback when glamour cannot render a result.
	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	listItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

var criticalStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("231")).
	Background(lipgloss.Color("160"))

func riskStyle(l model.RiskLevel) lipgloss.Style {
	switch l {
	case model.RiskCritical:
		return criticalStyle
	case model.RiskHigh:
		return errorStyle
	case model.RiskMedium:
		return warnStyle
	case model.RiskCompliant:
		return successStyle
	default:
		return listItemStyle
	}
}
