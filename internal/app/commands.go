package app

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/pipeline"
	"github.com/nhle/mail-triage/internal/ui/detail"
)

var errNoGateway = errors.New("no API key configured")

// eventMsg wraps a pipeline progress update.
type eventMsg pipeline.Event

// opDoneMsg is sent when a background operation finished. done is the
// notice shown on success.
type opDoneMsg struct {
	op      string
	emailID string
	done    string
	err     error
}

// chatEmailMsg carries the email the chat panel should open on.
type chatEmailMsg struct {
	email model.Email
	err   error
}

// deletedMsg reports the outcome of deleting an email.
type deletedMsg struct {
	emailID string
	err     error
}

// waitForEvent returns a command that blocks until the pipeline reports
// progress.
func (m Model) waitForEvent() tea.Cmd {
	if m.deps.Pipeline == nil {
		return nil
	}
	events := m.deps.Pipeline.Events()
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

func (m Model) loadEmail(id string) tea.Cmd {
	ctx, s := m.ctx, m.deps.Store
	return func() tea.Msg {
		e, err := s.Get(ctx, id)
		return detail.EmailLoadedMsg{Email: e, Err: err}
	}
}

func (m Model) loadForChat(id string) tea.Cmd {
	ctx, s := m.ctx, m.deps.Store
	return func() tea.Msg {
		e, err := s.Get(ctx, id)
		return chatEmailMsg{email: e, err: err}
	}
}

func (m Model) retry(id string) tea.Cmd {
	ctx, p := m.ctx, m.deps.Pipeline
	return func() tea.Msg {
		if p == nil {
			return opDoneMsg{op: "retry", emailID: id, err: errNoGateway}
		}
		return opDoneMsg{op: "retry", emailID: id, err: p.Retry(ctx, id)}
	}
}

func (m Model) retrigger(id string, stage model.Stage) tea.Cmd {
	ctx, p := m.ctx, m.deps.Pipeline
	op := "re-run " + string(stage)
	return func() tea.Msg {
		if p == nil {
			return opDoneMsg{op: op, emailID: id, err: errNoGateway}
		}
		return opDoneMsg{op: op, emailID: id, err: p.Retrigger(ctx, id, stage)}
	}
}

func (m Model) runPending() tea.Cmd {
	ctx, p := m.ctx, m.deps.Pipeline
	return func() tea.Msg {
		if p == nil {
			return opDoneMsg{op: "process", err: errNoGateway}
		}
		return opDoneMsg{op: "process", done: "Processing finished", err: p.RunPending(ctx)}
	}
}

func (m Model) rerunStage(stage model.Stage) tea.Cmd {
	ctx, p := m.ctx, m.deps.Pipeline
	op := "re-run " + string(stage)
	return func() tea.Msg {
		if p == nil {
			return opDoneMsg{op: op, err: errNoGateway}
		}
		err := p.RetriggerAll(ctx, stage)
		return opDoneMsg{op: op, done: fmt.Sprintf("Re-ran %s for all emails", stage), err: err}
	}
}

// saveDraft stores a hand-edited draft. Without a chat session the store is
// written directly.
func (m Model) saveDraft(id, text string) tea.Cmd {
	ctx, s, session := m.ctx, m.deps.Store, m.deps.Chat
	return func() tea.Msg {
		var err error
		if session != nil {
			err = session.EditDraft(ctx, id, text)
		} else {
			_, err = s.Update(ctx, id, func(e *model.Email) error {
				e.Draft = text
				e.NotDraftable = false
				return nil
			})
		}
		return opDoneMsg{op: "save draft", emailID: id, done: "Draft saved", err: err}
	}
}

func (m Model) deleteEmail(id string) tea.Cmd {
	ctx, s := m.ctx, m.deps.Store
	return func() tea.Msg {
		return deletedMsg{emailID: id, err: s.Delete(ctx, id)}
	}
}
