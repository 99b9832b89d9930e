package app

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/gateway/gatewaytest"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/pipeline"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/templates"
	"github.com/nhle/mail-triage/internal/testutil"
	"github.com/nhle/mail-triage/internal/ui/command"
	"github.com/nhle/mail-triage/internal/ui/detail"
	"github.com/nhle/mail-triage/internal/ui/inbox"
)

func newApp(t *testing.T, withPipeline bool) (Model, store.Store, *gatewaytest.Fake) {
	t.Helper()
	s := testutil.NewJSONStore(t)
	tpl, err := templates.New(context.Background(), nil, nil)
	require.NoError(t, err)

	d := Deps{Store: s, Templates: tpl}
	fake := gatewaytest.New()
	if withPipeline {
		d.Pipeline = pipeline.New(s, tpl, fake, pipeline.Config{
			Workers:     1,
			MaxAttempts: 1,
			Timeout:     time.Second,
		})
	}

	m := New(context.Background(), d)
	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, s, fake
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestView_Frame(t *testing.T) {
	m, _, _ := newApp(t, false)

	v := m.View()
	assert.Contains(t, v, "Mail Triage")
	assert.Contains(t, v, "no mailbox")
	assert.Contains(t, v, "set an API key")
}

func TestQuitFromInbox(t *testing.T) {
	m, _, _ := newApp(t, false)

	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestHelpToggle(t *testing.T) {
	m, _, _ := newApp(t, false)

	m = step(t, m, runes("?"))
	assert.Equal(t, ViewHelp, m.currentView)
	assert.Contains(t, m.View(), "draft_ready")

	m = step(t, m, runes("?"))
	assert.Equal(t, ViewInbox, m.currentView)
}

func TestProcessPending(t *testing.T) {
	m, s, fake := newApp(t, true)
	fake.Default = &gatewaytest.Reply{Text: "Meeting"}
	fake.On("Respond with JSON only", gatewaytest.Text(`[{"task":"Reply"}]`))
	fake.On("Produce a polite reply.", gatewaytest.Text("Sounds good."))

	e := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	testutil.Seed(t, s, e)

	m, cmd := update(t, m, runes("p"))
	require.NotNil(t, cmd)
	msg := cmd()
	done, ok := msg.(opDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)

	m = step(t, m, msg)
	assert.Equal(t, "Processing finished", m.notice)

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraftReady, got.Status)
	assert.Equal(t, "Sounds good.", got.Draft)
}

func TestActionsWithoutGateway(t *testing.T) {
	m, s, _ := newApp(t, false)
	e := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	testutil.Seed(t, s, e)

	m = step(t, m, inbox.SelectedEmailMsg{EmailID: e.ID})
	assert.Equal(t, ViewDetail, m.currentView)

	_, cmd := update(t, m, detail.ActionMsg{Action: detail.ActionRetrigger, EmailID: e.ID, Stage: model.StageDraft})
	require.NotNil(t, cmd)
	m = step(t, m, cmd())

	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "no API key configured")
}

func TestDraftEditWithoutSession(t *testing.T) {
	m, s, _ := newApp(t, false)
	e := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	e.NotDraftable = true
	testutil.Seed(t, s, e)

	_, cmd := update(t, m, detail.DraftEditedMsg{EmailID: e.ID, Text: "See you then."})
	require.NotNil(t, cmd)
	m = step(t, m, cmd())
	assert.Equal(t, "Draft saved", m.notice)

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "See you then.", got.Draft)
	assert.False(t, got.NotDraftable)
}

func TestChatOpensOnEmail(t *testing.T) {
	m, s, _ := newApp(t, false)
	e := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	testutil.Seed(t, s, e)

	_, cmd := update(t, m, detail.ActionMsg{Action: detail.ActionChat, EmailID: e.ID})
	require.NotNil(t, cmd)
	m = step(t, m, cmd())

	assert.Equal(t, ViewChat, m.currentView)
	assert.Equal(t, e.ID, m.chat.EmailID())
	assert.True(t, m.typing(), "the chat input owns the keyboard")
}

func TestCommandPalette(t *testing.T) {
	m, _, _ := newApp(t, false)

	m = step(t, m, runes(":"))
	assert.Equal(t, ViewCommand, m.currentView)
	assert.True(t, m.typing())

	m = step(t, m, command.CommandMsg{Name: command.Templates})
	assert.Equal(t, ViewTemplates, m.currentView)

	m = step(t, m, runes(":"))
	m, cmd := update(t, m, command.CommandMsg{Name: command.Rerun, Stage: model.StageDraft})
	require.NotNil(t, cmd)
	m = step(t, m, cmd())
	assert.Contains(t, m.notice, "no API key configured")
}

func TestDeleteFromDetail(t *testing.T) {
	m, s, _ := newApp(t, false)
	e := testutil.NewEmail("spam@example.com", "Win a prize", "Click here")
	kept := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	testutil.Seed(t, s, e, kept)

	m = step(t, m, inbox.SelectedEmailMsg{EmailID: e.ID})
	m = step(t, m, detail.EmailLoadedMsg{Email: e})
	require.Equal(t, ViewDetail, m.currentView)

	_, cmd := update(t, m, detail.DeleteMsg{EmailID: e.ID})
	require.NotNil(t, cmd)
	m = step(t, m, cmd())

	assert.Equal(t, ViewInbox, m.currentView)
	assert.Equal(t, "Email deleted", m.notice)
	_, err := s.Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(context.Background(), kept.ID)
	assert.NoError(t, err)

	// Deleting again reports the missing email.
	_, cmd = update(t, m, detail.DeleteMsg{EmailID: e.ID})
	m = step(t, m, cmd())
	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "email not found")
}
