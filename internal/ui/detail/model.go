package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// BackMsg signals the parent to navigate back to the inbox.
type BackMsg struct{}

// EmailLoadedMsg carries the email to display.
type EmailLoadedMsg struct {
	Email model.Email
	Err   error
}

// Action names carried by ActionMsg.
const (
	ActionRetry     = "retry"
	ActionRetrigger = "retrigger"
	ActionChat      = "chat"
)

// ActionMsg asks the parent to act on the displayed email. Stage is set
// for ActionRetrigger.
type ActionMsg struct {
	Action  string
	EmailID string
	Stage   model.Stage
}

// DraftEditedMsg carries a draft the user typed in.
type DraftEditedMsg struct {
	EmailID string
	Text    string
}

// DeleteMsg asks the parent to delete the email after the user confirmed.
type DeleteMsg struct {
	EmailID string
}

// draftBindings keeps the form values on the heap so huh's Value() pointers
// survive Bubble Tea's value copies.
type draftBindings struct {
	text          string
	confirmDelete bool
}

// Model is the email detail view.
type Model struct {
	email    *model.Email
	err      error
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
	loading  bool

	form     *huh.Form
	deleting bool
	fb       *draftBindings
}

// New creates a new detail view model.
func New(k *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		width:    width,
		height:   height,
		fb:       &draftBindings{},
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form != nil {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case EmailLoadedMsg:
		m.loading = false
		m.err = msg.Err
		if msg.Err == nil {
			e := msg.Email
			// Keep the scroll position when the same email is refreshed.
			same := m.email != nil && m.email.ID == e.ID
			m.email = &e
			m.viewport.SetContent(m.renderContent())
			if !same {
				m.viewport.GotoTop()
			}
		}
		return m, nil

	case tea.KeyMsg:
		if m.email == nil {
			if key.Matches(msg, m.keys.Back) {
				return m, func() tea.Msg { return BackMsg{} }
			}
			return m, nil
		}
		id := m.email.ID

		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.Chat):
			return m, action(ActionChat, id, "")

		case key.Matches(msg, m.keys.Retry):
			if m.email.Status == model.StatusFailed {
				return m, action(ActionRetry, id, "")
			}
			return m, nil

		case key.Matches(msg, m.keys.RetriggerCategorize):
			return m, action(ActionRetrigger, id, model.StageCategorize)

		case key.Matches(msg, m.keys.RetriggerExtract):
			return m, action(ActionRetrigger, id, model.StageExtractActions)

		case key.Matches(msg, m.keys.RetriggerDraft):
			return m, action(ActionRetrigger, id, model.StageDraft)

		case key.Matches(msg, m.keys.EditDraft):
			m.fb.text = m.email.Draft
			m.form = m.buildDraftForm()
			return m, m.form.Init()

		case key.Matches(msg, m.keys.Delete):
			m.fb.confirmDelete = false
			m.deleting = true
			m.form = m.buildDeleteForm()
			return m, m.form.Init()
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func action(name, id string, stage model.Stage) tea.Cmd {
	return func() tea.Msg {
		return ActionMsg{Action: name, EmailID: id, Stage: stage}
	}
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m.submitForm()
	case huh.StateAborted:
		m.form = nil
		m.deleting = false
		return m, nil
	}
	return m, cmd
}

// submitForm closes the completed form and reports its result.
func (m Model) submitForm() (Model, tea.Cmd) {
	m.form = nil
	id := m.email.ID
	if m.deleting {
		m.deleting = false
		if !m.fb.confirmDelete {
			return m, nil
		}
		return m, func() tea.Msg { return DeleteMsg{EmailID: id} }
	}
	text := m.fb.text
	return m, func() tea.Msg { return DraftEditedMsg{EmailID: id, Text: text} }
}

func (m *Model) buildDeleteForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete %q?", m.email.Subject)).
				Description("The email, its draft and its chat are removed. It will not be fetched again.").
				Affirmative("Delete").
				Negative("Keep").
				Value(&m.fb.confirmDelete),
		),
	).WithWidth(m.width - 4).WithShowHelp(true)
}

func (m *Model) buildDraftForm() *huh.Form {
	lines := m.height - 10
	if lines < 5 {
		lines = 5
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Draft").
				Description("Edit the reply. Submit saves it; Esc discards changes.").
				Lines(lines).
				Value(&m.fb.text),
		),
	).WithWidth(m.width - 4).WithShowHelp(true)
}

// Editing reports whether the draft editor or the delete prompt has focus.
func (m Model) Editing() bool {
	return m.form != nil
}

// Confirming reports whether the delete prompt is open.
func (m Model) Confirming() bool {
	return m.form != nil && m.deleting
}

// EmailID returns the id of the displayed email.
func (m Model) EmailID() string {
	if m.email == nil {
		return ""
	}
	return m.email.ID
}

// View renders the detail view.
func (m Model) View() string {
	centered := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.form != nil:
		return theme.DetailPanelStyle.Width(m.width - 4).Render(m.form.View())
	case m.loading:
		return centered.Render("Loading email...")
	case m.err != nil:
		return centered.Render(theme.ErrorStyle.Render("Loading email failed: " + m.err.Error()))
	case m.email == nil:
		return centered.Render("No email selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.email == nil {
		return ""
	}

	e := m.email
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(e.Subject))

	statusBadge := theme.StatusStyle(string(e.Status)).Render(string(e.Status))
	category := e.Category
	if category == "" {
		category = "uncategorized"
	}
	categoryBadge := theme.CategoryStyle(e.Category).Render(category)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, statusBadge, "  ", categoryBadge))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)

	sections = append(sections, fmt.Sprintf("%s     %s", metaStyle.Render("From:"), valStyle.Render(e.Sender)))
	if !e.ReceivedAt.IsZero() {
		sections = append(sections, fmt.Sprintf(
			"%s %s",
			metaStyle.Render("Received:"),
			valStyle.Render(e.ReceivedAt.Local().Format("2006-01-02 15:04")),
		))
	}
	if e.Status == model.StatusFailed {
		sections = append(sections, "")
		sections = append(sections, theme.ErrorStyle.Render(
			fmt.Sprintf("Stage %s failed: %s", e.FailedStage, e.LastError),
		))
		sections = append(sections, metaStyle.Render("Press x to retry."))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	muted := lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true)

	sections = append(sections, "", separator, "")
	sections = append(sections, headerStyle.Render(fmt.Sprintf("Action items (%d)", len(e.ActionItems))))
	if len(e.ActionItems) == 0 {
		sections = append(sections, muted.Render("None"))
	}
	for _, it := range e.ActionItems {
		line := "• " + it.Task
		if it.Deadline != "" {
			line += metaStyle.Render("  due " + it.Deadline)
		}
		sections = append(sections, line)
	}

	sections = append(sections, "", separator, "")
	sections = append(sections, headerStyle.Render("Draft"))
	switch {
	case e.NotDraftable:
		sections = append(sections, muted.Render("This email does not need a reply."))
	case e.Draft == "":
		sections = append(sections, muted.Render("No draft yet"))
	default:
		sections = append(sections, e.Draft)
	}
	if n := len(e.Conversation); n > 0 {
		sections = append(sections, metaStyle.Render(fmt.Sprintf("Refined over %d chat turns.", n)))
	}

	sections = append(sections, "", separator, "")
	sections = append(sections, headerStyle.Render("Message"))
	body := e.Body
	if strings.TrimSpace(body) == "" {
		body = muted.Render("No body")
	}
	sections = append(sections, body)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetLoading sets the loading state.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.email != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
