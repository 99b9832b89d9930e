package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/theme"
)

// Layout splits the terminal into a header line, the active view and a
// status line.
type Layout struct {
	Width  int
	Height int
}

const (
	headerHeight    = 1
	statusBarHeight = 1
)

// NewLayout creates a Layout for a terminal of the given size.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows left for the active view.
func (l Layout) ContentHeight() int {
	return max(l.Height-headerHeight-statusBarHeight, 0)
}

// RenderHeader renders the title on the left and the mailbox state on the
// right.
func (l Layout) RenderHeader(title, syncStatus string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.HeaderStyle.Render(syncStatus)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, l.fill(theme.HeaderStyle, left, right), right)
}

// RenderStatusBar renders key hints, or notice in their place when one is
// set. Errors are shown in the error color.
func (l Layout) RenderStatusBar(hints, notice string, isErr bool) string {
	style := theme.StatusBarStyle
	text := hints
	if notice != "" {
		text = notice
		if isErr {
			style = style.Foreground(theme.ColorRed).Bold(true)
		}
	}
	rendered := style.Render(text)
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, l.fill(theme.StatusBarStyle, rendered))
}

// fill pads the gap left by parts with the background of style.
func (l Layout) fill(style lipgloss.Style, parts ...string) string {
	gap := l.Width
	for _, p := range parts {
		gap -= lipgloss.Width(p)
	}
	if gap <= 0 {
		return ""
	}
	return lipgloss.NewStyle().Width(gap).Background(style.GetBackground()).Render("")
}

// Frame stacks header, content and status bar.
func (l Layout) Frame(header, content, statusBar string) string {
	content = lipgloss.NewStyle().Height(l.ContentHeight()).MaxHeight(l.ContentHeight()).Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
