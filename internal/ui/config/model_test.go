package config

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/templates"
)

func newEditor(t *testing.T) Model {
	t.Helper()
	tpl, err := templates.New(t.Context(), nil, nil)
	require.NoError(t, err)
	return New(tpl, keys.DefaultKeyMap(), 100, 40)
}

func press(m Model, s string) (Model, tea.Cmd) {
	if s == "enter" {
		return m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	}
	if s == "esc" {
		return m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	}
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func TestList_NavigateAndEdit(t *testing.T) {
	m := newEditor(t)
	assert.Contains(t, m.View(), "Categorization")
	assert.Contains(t, m.View(), "Categories: Meeting")

	m, _ = press(m, "j")
	m, _ = press(m, "j")
	m, _ = press(m, "j")
	assert.Equal(t, 2, m.selectedIdx)

	m, _ = press(m, "k")
	assert.Equal(t, 1, m.selectedIdx)

	m, _ = press(m, "enter")
	assert.True(t, m.Active())
	assert.Equal(t, model.StageExtractActions, m.editing)

	want, err := m.tpl.Get(model.StageExtractActions)
	require.NoError(t, err)
	assert.Equal(t, want, m.fb.body)
}

func TestList_EscCloses(t *testing.T) {
	m := newEditor(t)
	_, cmd := press(m, "esc")
	require.NotNil(t, cmd)
	assert.Equal(t, DoneMsg{}, cmd())
}

func TestReset_OffersRerun(t *testing.T) {
	m := newEditor(t)
	m, cmd := press(m, "d")
	require.NotNil(t, cmd)

	msg := cmd()
	saved, ok := msg.(templateSavedMsg)
	require.True(t, ok)
	require.NoError(t, saved.err)
	assert.Equal(t, model.StageCategorize, saved.name)

	m, _ = m.Update(msg)
	assert.Equal(t, ModeConfirmRerun, m.mode)
	assert.Contains(t, m.View(), "Re-run this stage for all emails?")
}

func TestSaveFailureShowsError(t *testing.T) {
	m := newEditor(t)
	m, _ = m.Update(templateSavedMsg{name: model.StageDraft, err: errors.New("disk full")})

	assert.Equal(t, ModeList, m.mode)
	assert.Contains(t, m.View(), "Template not saved: disk full")
}
