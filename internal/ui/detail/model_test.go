package detail

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, e model.Email) Model {
	t.Helper()
	m := New(keys.DefaultKeyMap(), 80, 30)
	m, _ = m.Update(EmailLoadedMsg{Email: e})
	require.Equal(t, e.ID, m.EmailID())
	return m
}

func TestUpdate_Actions(t *testing.T) {
	m := loaded(t, model.Email{ID: "e1", Subject: "Lunch", Status: model.StatusDraftReady})

	tests := []struct {
		key  string
		want ActionMsg
	}{
		{"c", ActionMsg{Action: ActionChat, EmailID: "e1"}},
		{"1", ActionMsg{Action: ActionRetrigger, EmailID: "e1", Stage: model.StageCategorize}},
		{"2", ActionMsg{Action: ActionRetrigger, EmailID: "e1", Stage: model.StageExtractActions}},
		{"3", ActionMsg{Action: ActionRetrigger, EmailID: "e1", Stage: model.StageDraft}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, cmd := m.Update(runes(tt.key))
			require.NotNil(t, cmd)
			assert.Equal(t, tt.want, cmd())
		})
	}

	_, cmd := m.Update(runes("x"))
	assert.Nil(t, cmd, "retry only applies to failed emails")
}

func TestUpdate_RetryFailed(t *testing.T) {
	m := loaded(t, model.Email{
		ID:          "e2",
		Subject:     "Report",
		Status:      model.StatusFailed,
		FailedStage: model.StageDraft,
		LastError:   "draft failed after 3 attempts: rate_limited",
	})

	assert.Contains(t, m.renderContent(), "Stage draft failed")

	_, cmd := m.Update(runes("x"))
	require.NotNil(t, cmd)
	assert.Equal(t, ActionMsg{Action: ActionRetry, EmailID: "e2"}, cmd())
}

func TestRenderContent(t *testing.T) {
	m := loaded(t, model.Email{
		ID:          "e3",
		Subject:     "Budget",
		Sender:      "bob@example.com",
		Category:    "Task",
		Status:      model.StatusDraftReady,
		ActionItems: []model.ActionItem{{Task: "Send budget", Deadline: "Friday"}},
		Draft:       "Will do.",
		Body:        "Please send the budget.",
	})

	out := m.renderContent()
	assert.Contains(t, out, "Action items (1)")
	assert.Contains(t, out, "Send budget")
	assert.Contains(t, out, "Will do.")
	assert.Contains(t, out, "Please send the budget.")

	m = loaded(t, model.Email{ID: "e4", Status: model.StatusDraftReady, NotDraftable: true})
	assert.Contains(t, m.renderContent(), "does not need a reply")
}

func TestEditDraftOpensForm(t *testing.T) {
	m := loaded(t, model.Email{ID: "e5", Draft: "Hi", Status: model.StatusDraftReady})

	m, _ = m.Update(runes("e"))
	assert.True(t, m.Editing())
	assert.Equal(t, "Hi", m.fb.text)
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	m := loaded(t, model.Email{ID: "e6", Subject: "Spam", Status: model.StatusDraftReady})

	m, _ = m.Update(runes("D"))
	require.True(t, m.Editing(), "the confirm prompt owns the keyboard")
	assert.Contains(t, m.View(), `Delete "Spam"?`)

	m, cmd := m.submitForm()
	assert.Nil(t, cmd, "declining keeps the email")
	assert.False(t, m.Editing())

	m, _ = m.Update(runes("D"))
	m.fb.confirmDelete = true
	m, cmd = m.submitForm()
	require.NotNil(t, cmd)
	assert.Equal(t, DeleteMsg{EmailID: "e6"}, cmd())
	assert.False(t, m.Editing())
}
