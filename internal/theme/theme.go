// Package theme holds the colors and styles shared by the views.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

var (
	// HeaderStyle is the title bar and list title.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(ColorBlue).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Background(ColorSubtle).
			Padding(0, 1)

	// DetailPanelStyle frames every full-screen panel.
	DetailPanelStyle = lipgloss.NewStyle().
				Padding(1, 2).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBorder)

	ListItemStyle = lipgloss.NewStyle().PaddingLeft(2)

	SelectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Bold(true).
				Foreground(ColorBlue).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(ColorBlue)

	HelpStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)

	ErrorStyle = lipgloss.NewStyle().Foreground(ColorRed)
)

var badge = lipgloss.NewStyle().Bold(true).Padding(0, 1)

// StatusStyle colors an email status by how far along the pipeline it is.
func StatusStyle(status string) lipgloss.Style {
	switch s := model.Status(status); {
	case s == model.StatusNew:
		return badge.Foreground(ColorBlue)
	case s == model.StatusDraftReady:
		return badge.Foreground(ColorGreen)
	case s == model.StatusFailed:
		return badge.Foreground(ColorRed)
	case s.InProgress():
		return badge.Foreground(ColorYellow)
	case s.Valid():
		return badge.Foreground(ColorMagenta)
	}
	return badge.Foreground(ColorGray)
}

// CategoryStyle returns the badge style for a category.
func CategoryStyle(category string) lipgloss.Style {
	switch category {
	case "":
		return badge.Foreground(ColorSubtle)
	case model.Unclassified:
		return badge.Foreground(ColorGray)
	case "Spam", "Newsletter":
		return badge.Foreground(ColorOrange)
	}
	return badge.Foreground(ColorBlue)
}
