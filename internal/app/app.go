package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/chat"
	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/pipeline"
	"github.com/nhle/mail-triage/internal/store"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/templates"
	"github.com/nhle/mail-triage/internal/ui"
	chatview "github.com/nhle/mail-triage/internal/ui/chat"
	"github.com/nhle/mail-triage/internal/ui/command"
	configview "github.com/nhle/mail-triage/internal/ui/config"
	"github.com/nhle/mail-triage/internal/ui/detail"
	helpview "github.com/nhle/mail-triage/internal/ui/help"
	"github.com/nhle/mail-triage/internal/ui/inbox"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewInbox ViewState = iota
	ViewDetail
	ViewChat
	ViewTemplates
	ViewHelp
	ViewCommand
)

// Deps are the services the UI drives. Pipeline, Chat and Poller may be nil:
// without an API key nothing can be enriched, and without a mailbox nothing
// is polled.
type Deps struct {
	Store     store.Store
	Templates *templates.Manager
	Pipeline  *pipeline.Pipeline
	Chat      *chat.Session
	Poller    *appsync.Poller
	Log       *zap.Logger
}

// Model is the root Bubble Tea model that manages view routing,
// layout, and access to the services.
type Model struct {
	ctx  context.Context
	deps Deps
	keys *keys.KeyMap

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	ready        bool

	inbox     inbox.Model
	detail    detail.Model
	chat      chatview.Model
	templates configview.Model
	helpView  helpview.Model
	palette   command.Model

	// Transient message for the status bar.
	notice    string
	noticeErr bool
	authError bool
}

// New creates the root model. ctx bounds every background operation the
// UI starts.
func New(ctx context.Context, d Deps) Model {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	k := keys.DefaultKeyMap()

	return Model{
		ctx:       ctx,
		deps:      d,
		keys:      k,
		inbox:     inbox.New(d.Store, k, 80, 24),
		detail:    detail.New(k, 80, 24),
		chat:      chatview.New(d.Chat, k, 80, 24),
		templates: configview.New(d.Templates, k, 80, 24),
		helpView:  helpview.New(k, 80, 24),
		palette:   command.New(80, 24),
	}
}

// Init loads the inbox and starts listening for background updates.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.inbox.Init(), m.waitForEvent()}
	if m.deps.Poller != nil {
		cmds = append(cmds, m.deps.Poller.Start(m.ctx))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := msg.Width, m.layout.ContentHeight()
		m.inbox.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.chat.SetSize(w, h)
		m.templates.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.palette.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case eventMsg:
		return m, tea.Batch(m.refresh(msg.EmailID), m.waitForEvent())

	case appsync.SyncResultMsg:
		m.authError = msg.AuthFailed
		switch {
		case msg.AuthFailed:
			m.setNotice("Mailbox login rejected. Check the IMAP credentials.", true)
		case msg.Error != nil:
			m.setNotice("Mailbox unreachable: "+msg.Error.Error(), true)
		case len(msg.NewIDs) > 0:
			m.setNotice(fmt.Sprintf("%d new emails", len(msg.NewIDs)), false)
		}
		return m, tea.Batch(m.inbox.LoadEmails(), m.deps.Poller.WaitForNextResult())

	case opDoneMsg:
		if msg.err != nil {
			m.deps.Log.Warn("operation failed", zap.String("op", msg.op), zap.Error(msg.err))
			m.setNotice(fmt.Sprintf("%s: %v", msg.op, msg.err), true)
		} else if msg.done != "" {
			m.setNotice(msg.done, false)
		}
		return m, m.refresh(msg.emailID)

	case inbox.SelectedEmailMsg:
		m.currentView = ViewDetail
		m.detail.SetLoading(true)
		return m, m.loadEmail(msg.EmailID)

	case detail.EmailLoadedMsg:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewInbox
		return m, m.inbox.LoadEmails()

	case detail.ActionMsg:
		return m.handleAction(msg)

	case detail.DraftEditedMsg:
		return m, m.saveDraft(msg.EmailID, msg.Text)

	case detail.DeleteMsg:
		return m, m.deleteEmail(msg.EmailID)

	case deletedMsg:
		if msg.err != nil {
			m.deps.Log.Warn("delete failed", zap.String("email_id", msg.emailID), zap.Error(msg.err))
			m.setNotice("delete: "+msg.err.Error(), true)
			return m, nil
		}
		m.deps.Log.Info("email deleted", zap.String("email_id", msg.emailID))
		m.setNotice("Email deleted", false)
		if m.currentView == ViewDetail && m.detail.EmailID() == msg.emailID {
			m.currentView = ViewInbox
		}
		return m, m.inbox.LoadEmails()

	case chatEmailMsg:
		if msg.err != nil {
			m.setNotice("Opening chat: "+msg.err.Error(), true)
			return m, nil
		}
		m.currentView = ViewChat
		return m, m.chat.Open(msg.email)

	case chatview.ReplyMsg, chatview.HistoryMsg:
		// Replies may land after the panel was closed.
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd

	case chatview.CloseMsg:
		m.currentView = ViewDetail
		return m, m.loadEmail(m.chat.EmailID())

	case configview.DoneMsg:
		m.currentView = ViewInbox
		return m, nil

	case configview.RerunStageMsg:
		return m, m.rerunStage(msg.Stage)

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.execute(command.Command(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
		if handled, next, cmd := m.handleInboxKey(msg); handled {
			return next, cmd
		}
	}

	return m.updateActiveView(msg)
}

// typing reports whether a text input owns the keyboard.
func (m Model) typing() bool {
	switch m.currentView {
	case ViewInbox:
		return m.inbox.Searching()
	case ViewDetail:
		return m.detail.Editing()
	case ViewChat:
		return true
	case ViewTemplates:
		return m.templates.Active()
	case ViewCommand:
		return true
	}
	return false
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m.quit(), true
	}
	if m.typing() {
		return nil, false
	}

	if key.Matches(msg, m.keys.Help) {
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
		} else {
			m.previousView = m.currentView
			m.currentView = ViewHelp
		}
		return nil, true
	}
	if key.Matches(msg, m.keys.Command) && m.currentView != ViewHelp {
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.palette.Focus(), true
	}
	if m.currentView == ViewHelp && key.Matches(msg, m.keys.Back) {
		m.currentView = m.previousView
		return nil, true
	}
	return nil, false
}

func (m Model) handleInboxKey(msg tea.KeyMsg) (bool, Model, tea.Cmd) {
	if m.currentView != ViewInbox || m.inbox.Searching() {
		return false, m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return true, m, m.quit()

	case key.Matches(msg, m.keys.Refresh):
		next, cmd := m.execute(command.Command{Name: command.Poll})
		return true, next, cmd

	case key.Matches(msg, m.keys.ProcessAll):
		next, cmd := m.execute(command.Command{Name: command.Process})
		return true, next, cmd

	case key.Matches(msg, m.keys.Templates):
		next, cmd := m.execute(command.Command{Name: command.Templates})
		return true, next, cmd
	}
	return false, m, nil
}

// execute runs a palette command. The inbox shortcuts go through here too.
func (m Model) execute(c command.Command) (Model, tea.Cmd) {
	switch c.Name {
	case command.Quit:
		return m, m.quit()

	case command.Poll:
		if m.deps.Poller == nil {
			m.setNotice("No mailbox configured", true)
			return m, m.inbox.LoadEmails()
		}
		m.setNotice("Polling mailbox...", false)
		return m, m.deps.Poller.Refresh()

	case command.Process:
		return m, m.runPending()

	case command.Rerun:
		m.setNotice(fmt.Sprintf("Re-running %s for all emails", c.Stage), false)
		return m, m.rerunStage(c.Stage)

	case command.Templates:
		m.currentView = ViewTemplates
		return m, m.templates.Init()
	}
	return m, nil
}

func (m Model) handleAction(msg detail.ActionMsg) (tea.Model, tea.Cmd) {
	switch msg.Action {
	case detail.ActionChat:
		return m, m.loadForChat(msg.EmailID)
	case detail.ActionRetry:
		return m, m.retry(msg.EmailID)
	case detail.ActionRetrigger:
		return m, m.retrigger(msg.EmailID, msg.Stage)
	}
	return m, nil
}

func (m Model) quit() tea.Cmd {
	if m.deps.Poller != nil {
		m.deps.Poller.Stop()
	}
	return tea.Quit
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

// refresh reloads the inbox and, when it is on screen, the email id.
func (m Model) refresh(id string) tea.Cmd {
	cmds := []tea.Cmd{m.inbox.LoadEmails()}
	if id != "" && m.detail.EmailID() == id && m.currentView == ViewDetail {
		cmds = append(cmds, m.loadEmail(id))
	}
	return tea.Batch(cmds...)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewChat:
		m.chat, cmd = m.chat.Update(msg)
	case ViewTemplates:
		m.templates, cmd = m.templates.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.palette, cmd = m.palette.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Mail Triage", m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.notice, m.noticeErr)
	return m.layout.Frame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewInbox:
		return m.inbox.View()
	case ViewDetail:
		return m.detail.View()
	case ViewChat:
		return m.chat.View()
	case ViewTemplates:
		return m.templates.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.palette.View()
	}
	return ""
}

// syncStatus returns a short string describing the mailbox poller.
func (m Model) syncStatus() string {
	if m.deps.Poller == nil {
		return "no mailbox"
	}
	st := m.deps.Poller.Status()
	switch {
	case st.State == appsync.SyncRunning:
		return "syncing"
	case m.authError:
		return "login failed"
	case st.State == appsync.SyncError:
		return "unreachable"
	case st.LastSync.IsZero():
		return "idle"
	}
	return "synced " + st.LastSync.Local().Format("15:04")
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewDetail:
		if m.detail.Confirming() {
			return "←/→ choose | enter confirm | esc cancel"
		}
		if m.detail.Editing() {
			return "ctrl+j newline | enter save | esc discard"
		}
		return "esc back | c refine | e edit draft | x retry | 1/2/3 re-run stage | D delete | j/k scroll"
	case ViewChat:
		return "enter send | ctrl+r restart | esc back"
	case ViewCommand:
		return "tab complete | enter run | esc cancel"
	case ViewTemplates:
		return "enter edit | d restore default | esc back"
	}
	if m.deps.Pipeline == nil {
		return "q quit | ? help | / filter | set an API key to enable processing"
	}
	return "q quit | ? help | / filter | : command | p process | r poll | t templates"
}
