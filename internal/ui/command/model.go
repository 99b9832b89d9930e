package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// Command names understood by Parse.
const (
	Process   = "process"
	Poll      = "poll"
	Rerun     = "rerun"
	Templates = "templates"
	Quit      = "quit"
)

// Command is a parsed palette entry. Stage is set for Rerun.
type Command struct {
	Name  string
	Stage model.Stage
}

// CommandMsg is emitted when the user executes a valid command.
type CommandMsg Command

// CancelMsg is emitted when the palette is dismissed.
type CancelMsg struct{}

var errEmpty = errors.New("empty command")

// Parse reads one palette line such as "rerun draft".
func Parse(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, errEmpty
	}

	name, args := fields[0], fields[1:]
	switch name {
	case Process, Poll, Templates, Quit:
		if len(args) > 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return Command{Name: name}, nil
	case "q", "exit":
		return Command{Name: Quit}, nil
	case Rerun:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: rerun %s", stageList())
		}
		stage := model.Stage(args[0])
		if !stage.Valid() {
			return Command{}, fmt.Errorf("unknown stage %q, want one of %s", args[0], stageList())
		}
		return Command{Name: Rerun, Stage: stage}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", name)
}

func stageList() string {
	names := make([]string, 0, len(model.Stages))
	for _, s := range model.Stages {
		names = append(names, string(s))
	}
	return strings.Join(names, "|")
}

func suggestions() []string {
	out := []string{Process, Poll, Templates, Quit}
	for _, s := range model.Stages {
		out = append(out, Rerun+" "+string(s))
	}
	return out
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    error
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "process, poll, rerun <stage>, templates, quit"
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(suggestions())
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyEnter:
			c, err := Parse(m.input.Value())
			if errors.Is(err, errEmpty) {
				return m, nil
			}
			if err != nil {
				m.err = err
				return m, nil
			}
			m.input.Reset()
			m.err = nil
			return m, func() tea.Msg { return CommandMsg(c) }

		case tea.KeyEsc:
			m.input.Reset()
			m.err = nil
			return m, func() tea.Msg { return CancelMsg{} }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Command"), m.input.View()}
	if m.err != nil {
		parts = append(parts, "", theme.ErrorStyle.Render(m.err.Error()))
	}
	parts = append(parts, "", theme.HelpStyle.Render("tab complete • enter run • esc cancel"))

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
