package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// Model is the help overlay: key bindings plus a legend of the pipeline
// statuses an email moves through.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(k *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width - 4
	h.ShowAll = true
	return Model{keys: k, help: h, width: width, height: height}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Keys"),
		m.help.View(m.keys),
		"",
		titleStyle.Render("Statuses"),
		legend(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

func legend() string {
	statuses := []model.Status{model.StatusNew}
	for _, s := range model.Stages {
		statuses = append(statuses, s.Running(), s.Completed())
	}
	statuses = append(statuses, model.StatusFailed)

	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, theme.StatusStyle(string(s)).Render(string(s)))
	}
	return strings.Join(parts, theme.HelpStyle.Render("→"))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
