package widget

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Styles
// =============================================================================

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueInfoStyle = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)

	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// stateStyle colors the worker state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return valueInfoStyle
	case "finished":
		return valueGoodStyle
	case "failed":
		return valueBadStyle
	default:
		return valueStyle
	}
}

// failureRateStyle returns a style based on failure rate.
func failureRateStyle(rate float64) lipgloss.Style {
	switch {
	case rate == 0:
		return valueGoodStyle
	case rate < 0.01: // <1%
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// renderKeyValue renders a label-value pair; the value is already styled.
func renderKeyValue(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		value,
	)
}

// renderProgressBar renders a progress bar with a percentage.
func renderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	filled = min(max(filled, 0), width)

	bar := progressBarStyle.Render(strings.Repeat("█", filled)) +
		progressBarEmptyStyle.Render(strings.Repeat("░", width-filled))

	return bar + progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
