package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Selection
	Select key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Search
	Search key.Binding

	// Help toggle
	Help key.Binding

	// Poll the mailbox now
	Refresh key.Binding

	// Run the pipeline over every unfinished email
	ProcessAll key.Binding

	// Email actions
	Chat                key.Binding
	EditDraft           key.Binding
	Retry               key.Binding
	RetriggerCategorize key.Binding
	RetriggerExtract    key.Binding
	RetriggerDraft      key.Binding
	Delete              key.Binding

	// Template editor
	Templates key.Binding

	// Command palette
	Command key.Binding

	// Chat panel
	RestartChat key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open email"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "poll mailbox"),
		),
		ProcessAll: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "process pending"),
		),
		Chat: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "refine draft"),
		),
		EditDraft: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit draft"),
		),
		Retry: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "retry failed"),
		),
		RetriggerCategorize: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "re-categorize"),
		),
		RetriggerExtract: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "re-extract actions"),
		),
		RetriggerDraft: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "re-draft"),
		),
		Delete: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete email"),
		),
		Templates: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "edit templates"),
		),
		Command: key.NewBinding(
			key.WithKeys(":"),
			key.WithHelp(":", "command palette"),
		),
		RestartChat: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "restart chat"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Select, k.Back,
		k.Quit, k.Help, k.Search,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit},
		{k.Search, k.Help, k.Command, k.Refresh, k.ProcessAll, k.Templates},
		{k.Chat, k.EditDraft, k.Retry, k.RestartChat, k.Delete},
		{k.RetriggerCategorize, k.RetriggerExtract, k.RetriggerDraft},
	}
}
