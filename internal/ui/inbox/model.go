package inbox

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/theme"
)

// EmailsLoadedMsg is sent when emails have been loaded from the store.
type EmailsLoadedMsg struct {
	Emails []model.Email
	Err    error
}

// SelectedEmailMsg is sent when the user opens an email.
type SelectedEmailMsg struct {
	EmailID string
}

// Model is the inbox list view.
type Model struct {
	list        list.Model
	store       store.Store
	keys        *keys.KeyMap
	query       string
	searchMode  bool
	searchInput textinput.Model
	err         error
	width       int
	height      int
}

// New creates a new inbox model.
func New(s store.Store, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Inbox"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "sender, subject or category..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		store:       s,
		keys:        k,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the emails.
func (m Model) Init() tea.Cmd {
	return m.LoadEmails()
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EmailsLoadedMsg:
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		var items []list.Item
		for _, e := range msg.Emails {
			if matchQuery(e, m.query) {
				items = append(items, EmailItem{Email: e})
			}
		}
		return m, m.list.SetItems(items)

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.query = strings.TrimSpace(m.searchInput.Value())
		return m, m.LoadEmails()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.query = ""
		return m, m.LoadEmails()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		id, ok := m.SelectedID()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedEmailMsg{EmailID: id}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// SelectedID returns the id of the highlighted email.
func (m Model) SelectedID() (string, bool) {
	item, ok := m.list.SelectedItem().(EmailItem)
	if !ok {
		return "", false
	}
	return item.Email.ID, true
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// View renders the inbox.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if m.err != nil {
		return theme.ErrorStyle.Padding(1, 2).Render("Loading emails failed: " + m.err.Error())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.query != "" {
		return style.Render("No matching emails.\nPress / and clear the filter.")
	}
	return style.Render("The inbox is empty.\n\nPress r to poll the mailbox.")
}

// LoadEmails returns a tea.Cmd that lists the store, newest first.
func (m Model) LoadEmails() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		emails, err := s.List(context.Background())
		return EmailsLoadedMsg{Emails: emails, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

func matchQuery(e model.Email, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, field := range []string{e.Sender, e.Subject, e.Category, string(e.Status)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
