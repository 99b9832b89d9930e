package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// EmailItem wraps a model.Email so it can be used in a bubbles/list.
type EmailItem struct {
	Email model.Email
}

// FilterValue returns the string used for fuzzy filtering.
func (i EmailItem) FilterValue() string { return i.Email.Subject }

// Title returns the subject line for the list.
func (i EmailItem) Title() string { return i.Email.Subject }

// Description returns a short summary line for the list.
func (i EmailItem) Description() string {
	parts := []string{
		i.Email.Sender,
		statusLabel(i.Email),
		relativeTime(i.Email.ReceivedAt, time.Now()),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering email rows.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single email row.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ei, ok := item.(EmailItem)
	if !ok {
		return
	}
	e := ei.Email

	statusBadge := theme.StatusStyle(string(e.Status)).Render(statusLabel(e))

	category := e.Category
	if category == "" {
		category = "…"
	}
	categoryBadge := theme.CategoryStyle(e.Category).Render(category)

	marker := "●"
	switch {
	case e.Status == model.StatusFailed:
		marker = lipgloss.NewStyle().Foreground(theme.ColorRed).Render("!")
	case e.NotDraftable:
		marker = lipgloss.NewStyle().Foreground(theme.ColorGray).Render("–")
	case len(e.ActionItems) > 0:
		marker = lipgloss.NewStyle().Foreground(theme.ColorYellow).Render(fmt.Sprintf("%d", len(e.ActionItems)))
	}

	sender := lipgloss.NewStyle().Foreground(theme.ColorGray).Render(e.Sender)
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(e.ReceivedAt, time.Now()))

	line := fmt.Sprintf("%s %s %s %s  %s  %s", marker, statusBadge, categoryBadge, e.Subject, sender, timeStr)

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func statusLabel(e model.Email) string {
	switch e.Status {
	case model.StatusDraftReady:
		if e.NotDraftable {
			return "no reply"
		}
		return "ready"
	case model.StatusFailed:
		return "failed"
	case model.StatusNew:
		return "new"
	}
	return strings.ReplaceAll(string(e.Status), "_", " ")
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}
