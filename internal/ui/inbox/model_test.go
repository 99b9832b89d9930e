package inbox

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/testutil"
)

func TestMatchQuery(t *testing.T) {
	e := model.Email{Sender: "Ann <ann@example.com>", Subject: "Budget review", Category: "Meeting", Status: model.StatusDraftReady}

	assert.True(t, matchQuery(e, ""))
	assert.True(t, matchQuery(e, "ANN"))
	assert.True(t, matchQuery(e, "budget"))
	assert.True(t, matchQuery(e, "meeting"))
	assert.True(t, matchQuery(e, "draft_ready"))
	assert.False(t, matchQuery(e, "invoice"))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "", relativeTime(time.Time{}, now))
	assert.Equal(t, "just now", relativeTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", relativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", relativeTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", relativeTime(now.Add(-49*time.Hour), now))
	assert.Equal(t, "Feb 01", relativeTime(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), now))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "ready", statusLabel(model.Email{Status: model.StatusDraftReady}))
	assert.Equal(t, "no reply", statusLabel(model.Email{Status: model.StatusDraftReady, NotDraftable: true}))
	assert.Equal(t, "extracting actions", statusLabel(model.Email{Status: model.StatusExtractingActions}))
}

func TestUpdate_LoadAndSelect(t *testing.T) {
	s := testutil.NewJSONStore(t)
	a := testutil.NewEmail("ann@example.com", "Lunch", "Tuesday?")
	b := testutil.NewEmail("bob@example.com", "Invoice", "Attached.")
	testutil.Seed(t, s, a, b)

	m := New(s, keys.DefaultKeyMap(), 80, 24)
	msg := m.LoadEmails()()
	loaded, ok := msg.(EmailsLoadedMsg)
	require.True(t, ok)
	require.NoError(t, loaded.Err)

	m.query = "invoice"
	m, _ = m.Update(loaded)
	require.Len(t, m.list.Items(), 1)

	id, ok := m.SelectedID()
	require.True(t, ok)
	assert.Equal(t, b.ID, id)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, SelectedEmailMsg{EmailID: b.ID}, cmd())
}
