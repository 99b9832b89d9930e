package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr string
	}{
		{line: "process", want: Command{Name: Process}},
		{line: "  Poll ", want: Command{Name: Poll}},
		{line: "q", want: Command{Name: Quit}},
		{line: "rerun draft", want: Command{Name: Rerun, Stage: model.StageDraft}},
		{line: "rerun extract_actions", want: Command{Name: Rerun, Stage: model.StageExtractActions}},
		{line: "rerun", wantErr: "usage: rerun categorize|extract_actions|draft"},
		{line: "rerun reply", wantErr: `unknown stage "reply"`},
		{line: "process now", wantErr: "process takes no arguments"},
		{line: "send", wantErr: `unknown command "send"`},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPalette_Submit(t *testing.T) {
	m := New(80, 20)
	m.Focus()

	m.input.SetValue("rerun bogus")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "unknown stage")

	m.input.SetValue("rerun categorize")
	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, CommandMsg{Name: Rerun, Stage: model.StageCategorize}, cmd())
	assert.Empty(t, m.input.Value())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, CancelMsg{}, cmd())
}
