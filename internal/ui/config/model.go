package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/templates"
	"github.com/nhle/mail-triage/internal/theme"
)

// EditorMode represents the current state of the template editor.
type EditorMode int

const (
	ModeList         EditorMode = iota // Pick a template
	ModeEdit                           // Edit the selected template
	ModeConfirmRerun                   // Offer to re-run the stage for all emails
)

// DoneMsg signals the editor should close and return to the main app.
type DoneMsg struct{}

// RerunStageMsg asks the parent to re-run stage for every email after its
// template changed.
type RerunStageMsg struct {
	Stage model.Stage
}

// templateSavedMsg is sent after an edit or reset was persisted.
type templateSavedMsg struct {
	name model.Stage
	err  error
}

// formBindings holds form field values on the heap so that huh's Value()
// pointers stay valid across Bubble Tea's value copies.
type formBindings struct {
	body  string
	rerun bool
}

var templateTitles = map[model.Stage]string{
	model.StageCategorize:     "Categorization",
	model.StageExtractActions: "Action item extraction",
	model.StageDraft:          "Reply drafting",
}

// Model is the Bubble Tea model for the prompt template editor.
type Model struct {
	mode        EditorMode
	tpl         *templates.Manager
	selectedIdx int
	editing     model.Stage

	editForm    *huh.Form
	confirmForm *huh.Form
	fb          *formBindings

	// Status message for transient feedback
	statusMsg string
	statusErr bool

	keys          *keys.KeyMap
	width, height int
}

// New creates a new template editor.
func New(tpl *templates.Manager, k *keys.KeyMap, width, height int) Model {
	return Model{
		mode:   ModeList,
		tpl:    tpl,
		keys:   k,
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the template editor.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if saved, ok := msg.(templateSavedMsg); ok {
		return m.handleSaved(saved)
	}

	switch m.mode {
	case ModeEdit:
		return m.updateEditForm(msg)
	case ModeConfirmRerun:
		return m.updateConfirmForm(msg)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Back), key.Matches(keyMsg, m.keys.Quit):
		return m, func() tea.Msg { return DoneMsg{} }

	case key.Matches(keyMsg, m.keys.Down):
		if m.selectedIdx < len(model.Stages)-1 {
			m.selectedIdx++
		}

	case key.Matches(keyMsg, m.keys.Up):
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}

	case key.Matches(keyMsg, m.keys.Select):
		return m.startEdit(model.Stages[m.selectedIdx])

	case keyMsg.String() == "d":
		name := model.Stages[m.selectedIdx]
		tpl := m.tpl
		return m, func() tea.Msg {
			return templateSavedMsg{name: name, err: tpl.Reset(context.Background(), name)}
		}
	}
	return m, nil
}

func (m Model) startEdit(name model.Stage) (Model, tea.Cmd) {
	body, err := m.tpl.Get(name)
	if err != nil {
		m.setStatus(err.Error(), true)
		return m, nil
	}

	m.editing = name
	m.fb.body = body
	m.statusMsg = ""
	m.mode = ModeEdit
	m.editForm = m.buildEditForm(name)
	return m, m.editForm.Init()
}

func (m *Model) buildEditForm(name model.Stage) *huh.Form {
	tpl := m.tpl
	lines := max(m.height-12, 6)

	return huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title(templateTitles[name]).
				Description(editHint(name)).
				Lines(lines).
				CharLimit(20000).
				Validate(func(body string) error {
					return tpl.ValidateEdit(name, body)
				}).
				Value(&m.fb.body),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

func editHint(name model.Stage) string {
	switch name {
	case model.StageCategorize:
		return "Keep a bracketed category list such as [Meeting, Task, Spam]."
	case model.StageExtractActions:
		return "Keep the <example> ... </example> block with a JSON array of action items."
	}
	return "Free-form instructions for the reply."
}

func (m Model) updateEditForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.editForm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.editForm = f
	}

	switch m.editForm.State {
	case huh.StateCompleted:
		m.mode = ModeList
		m.editForm = nil
		name, body, tpl := m.editing, m.fb.body, m.tpl
		return m, func() tea.Msg {
			return templateSavedMsg{name: name, err: tpl.Edit(context.Background(), name, body)}
		}
	case huh.StateAborted:
		m.mode = ModeList
		m.editForm = nil
		m.setStatus("Edit discarded", false)
		return m, nil
	}
	return m, cmd
}

func (m Model) handleSaved(msg templateSavedMsg) (Model, tea.Cmd) {
	if msg.err != nil {
		m.mode = ModeList
		m.setStatus(fmt.Sprintf("Template not saved: %v", msg.err), true)
		return m, nil
	}

	m.editing = msg.name
	m.fb.rerun = false
	m.mode = ModeConfirmRerun
	m.confirmForm = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s template saved.", templateTitles[msg.name])).
				Description("Re-run this stage for all emails? Existing results of this stage and the stages after it are replaced.").
				Affirmative("Re-run").
				Negative("Keep results").
				Value(&m.fb.rerun),
		),
	).WithWidth(m.formWidth())
	return m, m.confirmForm.Init()
}

func (m Model) updateConfirmForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.confirmForm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.confirmForm = f
	}

	switch m.confirmForm.State {
	case huh.StateCompleted:
		m.mode = ModeList
		m.confirmForm = nil
		if !m.fb.rerun {
			m.setStatus("Template saved", false)
			return m, nil
		}
		stage := m.editing
		m.setStatus(fmt.Sprintf("Re-running %s for all emails", stage), false)
		return m, func() tea.Msg { return RerunStageMsg{Stage: stage} }
	case huh.StateAborted:
		m.mode = ModeList
		m.confirmForm = nil
		m.setStatus("Template saved", false)
		return m, nil
	}
	return m, cmd
}

func (m *Model) setStatus(text string, isErr bool) {
	m.statusMsg = text
	m.statusErr = isErr
}

// Active reports whether a form holds keyboard focus.
func (m Model) Active() bool {
	return m.mode != ModeList
}

// View renders the template editor.
func (m Model) View() string {
	var content string
	switch m.mode {
	case ModeEdit:
		content = m.editForm.View()
	case ModeConfirmRerun:
		content = m.confirmForm.View()
	default:
		content = m.renderList()
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

func (m Model) renderList() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1)
	muted := lipgloss.NewStyle().Foreground(theme.ColorGray)

	lines := []string{titleStyle.Render("Prompt templates")}
	for i, name := range model.Stages {
		line := fmt.Sprintf("%-26s %s", templateTitles[name], muted.Render(string(name)))
		if i == m.selectedIdx {
			lines = append(lines, theme.SelectedItemStyle.Render(line))
		} else {
			lines = append(lines, theme.ListItemStyle.Render(line))
		}
	}

	cats := m.tpl.Categories()
	lines = append(lines, "", muted.Render("Categories: "+strings.Join(cats, ", ")))

	if m.statusMsg != "" {
		style := lipgloss.NewStyle().Foreground(theme.ColorGreen)
		if m.statusErr {
			style = theme.ErrorStyle
		}
		lines = append(lines, "", style.Render(m.statusMsg))
	}

	lines = append(lines, "", theme.HelpStyle.Render("enter edit • d restore default • esc back"))
	return strings.Join(lines, "\n")
}

func (m Model) formWidth() int {
	return max(m.width-8, 20)
}

// SetSize updates the editor dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
