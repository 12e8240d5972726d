// Package styles defines the visual styling for terminal output.
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color definitions for the Antigravity theme.
var (
	// Primary colors
	Primary   = lipgloss.Color("205") // Pink
	Secondary = lipgloss.Color("63")  // Purple
	Subtle    = lipgloss.Color("240") // Gray

	// Brand colors
	Claude = lipgloss.Color("208") // Orange
	Gemini = lipgloss.Color("39")  // Blue

	// Status colors
	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
	Info    = lipgloss.Color("39")  // Blue
	Reset   = lipgloss.Color("51")  // Cyan

	// Text colors
	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")
)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	MarginBottom(1)

// SubTitleStyle is used for section headings.
var SubTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Secondary)

// TableHeaderStyle styles table headers.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	Padding(0, 1)

// TableCellStyle styles table cells.
var TableCellStyle = lipgloss.NewStyle().
	Foreground(TextPrimary).
	Padding(0, 1)

// TableBorderStyle colors table borders.
var TableBorderStyle = lipgloss.NewStyle().
	Foreground(Subtle)

// MutedStyle for secondary details like timestamps.
var MutedStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// QuotaHighStyle for high quota percentages (>50%).
var QuotaHighStyle = lipgloss.NewStyle().
	Foreground(Success)

// QuotaMediumStyle for medium quota percentages (20-50%).
var QuotaMediumStyle = lipgloss.NewStyle().
	Foreground(Warning)

// QuotaLowStyle for low quota percentages (<20%).
var QuotaLowStyle = lipgloss.NewStyle().
	Foreground(Error)

// ErrorTextStyle for error messages.
var ErrorTextStyle = lipgloss.NewStyle().
	Foreground(Error)

// SuccessTextStyle for success messages.
var SuccessTextStyle = lipgloss.NewStyle().
	Foreground(Success)

// WarningTextStyle for warning messages.
var WarningTextStyle = lipgloss.NewStyle().
	Foreground(Warning)

// InfoTextStyle for info messages.
var InfoTextStyle = lipgloss.NewStyle().
	Foreground(Info)

// ResetTextStyle for quota reset messages.
var ResetTextStyle = lipgloss.NewStyle().
	Foreground(Reset).
	Bold(true)

// GetQuotaStyle returns the appropriate style based on quota percentage.
func GetQuotaStyle(percent float64) lipgloss.Style {
	switch {
	case percent > 50:
		return QuotaHighStyle
	case percent > 20:
		return QuotaMediumStyle
	default:
		return QuotaLowStyle
	}
}

// GetCategoryStyle returns the style for a notification category.
func GetCategoryStyle(category string) lipgloss.Style {
	switch category {
	case "success":
		return SuccessTextStyle
	case "warning":
		return WarningTextStyle
	case "danger":
		return ErrorTextStyle.Bold(true)
	case "reset":
		return ResetTextStyle
	default:
		return InfoTextStyle
	}
}

// GetStatusStyle returns the style for a schedule status label.
func GetStatusStyle(status string) lipgloss.Style {
	switch status {
	case "triggered":
		return SuccessTextStyle
	case "notified":
		return ResetTextStyle
	case "pre-warned":
		return WarningTextStyle
	default:
		return MutedStyle
	}
}

// GetModelColor returns the brand color for a model id.
func GetModelColor(modelID string) lipgloss.Color {
	switch {
	case strings.HasPrefix(modelID, "claude"):
		return Claude
	case strings.HasPrefix(modelID, "gemini"):
		return Gemini
	default:
		return TextSecondary
	}
}
