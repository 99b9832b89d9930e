package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	chatservice "github.com/nhle/mail-triage/internal/chat"
	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// CloseMsg signals the parent to close the chat panel.
type CloseMsg struct{}

// ReplyMsg carries the outcome of one send.
type ReplyMsg struct {
	EmailID string
	Reply   string
	Err     error
}

// HistoryMsg carries the stored conversation of an email.
type HistoryMsg struct {
	EmailID string
	Turns   []model.ChatTurn
	Err     error
}

// Model is the chat panel bound to one email.
type Model struct {
	session *chatservice.Session
	emailID string
	subject string
	draft   string
	turns   []model.ChatTurn
	pending string
	sending bool
	err     error

	input    textarea.Model
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a chat panel. A nil session shows a configuration hint.
func New(session *chatservice.Session, k *keys.KeyMap, width, height int) Model {
	ta := textarea.New()
	ta.Placeholder = "How should the draft change?"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.SetWidth(width - 4)
	ta.SetHeight(3)
	ta.CharLimit = 2000
	ta.Focus()

	vp := viewport.New(width-4, viewportHeight(height))
	vp.Style = lipgloss.NewStyle()

	return Model{
		session:  session,
		input:    ta,
		viewport: vp,
		keys:     k,
		width:    width,
		height:   height,
	}
}

func viewportHeight(height int) int {
	return max(height-8, 4)
}

// Open binds the panel to e and shows its conversation.
func (m *Model) Open(e model.Email) tea.Cmd {
	m.emailID = e.ID
	m.subject = e.Subject
	m.draft = e.Draft
	m.turns = e.Conversation
	m.pending = ""
	m.sending = false
	m.err = nil
	m.input.Reset()
	m.refreshViewport()
	return tea.Batch(textarea.Blink, m.input.Focus())
}

// EmailID returns the id of the email the panel is bound to.
func (m Model) EmailID() string {
	return m.emailID
}

// Init returns the initial command for the chat panel.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles messages for the chat panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ReplyMsg:
		if msg.EmailID != m.emailID {
			return m, nil
		}
		m.sending = false
		m.pending = ""
		m.err = msg.Err
		if msg.Err == nil {
			m.draft = msg.Reply
		}
		m.refreshViewport()
		return m, m.loadHistory()

	case HistoryMsg:
		if msg.EmailID != m.emailID {
			return m, nil
		}
		if msg.Err != nil {
			m.err = msg.Err
		} else {
			m.turns = msg.Turns
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		if m.sending {
			return m, nil
		}
		return m, func() tea.Msg { return CloseMsg{} }

	case key.Matches(msg, m.keys.RestartChat):
		if m.session == nil || m.sending {
			return m, nil
		}
		m.turns = nil
		m.err = nil
		m.refreshViewport()
		return m, m.restart()

	case msg.Type == tea.KeyEnter:
		if m.session == nil || m.sending {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.pending = text
		m.sending = true
		m.err = nil
		m.refreshViewport()
		return m, m.send(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(text string) tea.Cmd {
	session, id := m.session, m.emailID
	return func() tea.Msg {
		reply, err := session.Send(context.Background(), id, text)
		return ReplyMsg{EmailID: id, Reply: reply, Err: err}
	}
}

func (m Model) restart() tea.Cmd {
	session, id := m.session, m.emailID
	return func() tea.Msg {
		if err := session.Restart(context.Background(), id); err != nil {
			return HistoryMsg{EmailID: id, Err: err}
		}
		return HistoryMsg{EmailID: id, Turns: nil}
	}
}

func (m Model) loadHistory() tea.Cmd {
	session, id := m.session, m.emailID
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		turns, err := session.History(context.Background(), id)
		return HistoryMsg{EmailID: id, Turns: turns, Err: err}
	}
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m Model) renderConversation() string {
	roleStyle := lipgloss.NewStyle().Bold(true)
	userStyle := roleStyle.Foreground(theme.ColorBlue)
	assistantStyle := roleStyle.Foreground(theme.ColorGreen)
	contentStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	muted := lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true)

	var sections []string

	sections = append(sections, roleStyle.Render("Current draft:"))
	if m.draft == "" {
		sections = append(sections, muted.Render("(empty)"))
	} else {
		sections = append(sections, contentStyle.Render(m.draft))
	}
	sections = append(sections, "")

	if len(m.turns) == 0 && m.pending == "" {
		sections = append(sections, muted.Render(
			"Ask for a change, for example \"make it more formal\". Each reply replaces the draft.",
		))
	}

	for _, t := range m.turns {
		label := userStyle.Render("You:")
		if t.Role == model.RoleAssistant {
			label = assistantStyle.Render("Assistant:")
		}
		sections = append(sections, label, contentStyle.Render(t.Text), "")
	}

	if m.pending != "" && !m.pendingStored() {
		sections = append(sections, userStyle.Render("You:"), contentStyle.Render(m.pending), "")
	}
	if m.sending {
		sections = append(sections, muted.Render("..."))
	}
	if m.err != nil {
		sections = append(sections, theme.ErrorStyle.Render("Error: "+m.err.Error()),
			muted.Render("Press enter with the same text to resend."))
	}

	return strings.Join(sections, "\n")
}

// pendingStored reports whether the text being sent is already the last
// stored turn, as happens on a resend.
func (m Model) pendingStored() bool {
	if len(m.turns) == 0 {
		return false
	}
	last := m.turns[len(m.turns)-1]
	return last.Role == model.RoleUser && last.Text == m.pending
}

// View renders the chat panel.
func (m Model) View() string {
	if m.session == nil {
		return m.renderNoGateway()
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)
	title := titleStyle.Render("Refine draft: " + m.subject)

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-6, 80), 1)))

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		m.viewport.View(),
		separator,
		m.input.View(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

func (m Model) renderNoGateway() string {
	style := lipgloss.NewStyle().
		Width(m.width - 4).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	msg := "Draft refinement needs an API key for the configured provider.\n\n" +
		"Set ANTHROPIC_API_KEY or GEMINI_API_KEY, or store the key in the\n" +
		"system keyring under anthropic_api_key / gemini_api_key.\n\n" +
		"Press Esc to go back."

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(style.Render(msg))
}

// SetSize updates the chat panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.SetWidth(width - 4)
	m.viewport.Width = width - 4
	m.viewport.Height = viewportHeight(height)
}
